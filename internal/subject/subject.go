// Package subject models the authenticated principal of one request and
// derives the role references that together define its effective role.
package subject

import (
	"fmt"
)

// Type classifies an authenticated principal.
type Type int

const (
	// TypeUser is a realm-authenticated user.
	TypeUser Type = iota
	// TypeAPIKey is a request authenticated by an API key.
	TypeAPIKey
	// TypeServiceAccount is a request authenticated by a service account token.
	TypeServiceAccount
)

func (t Type) String() string {
	switch t {
	case TypeAPIKey:
		return "api_key"
	case TypeServiceAccount:
		return "service_account"
	default:
		return "user"
	}
}

// Realm name/type constants for the synthetic realms that carry API key and
// service account authentication.
const (
	APIKeyRealmName  = "_api_key"
	APIKeyRealmType  = "_api_key"
	ServiceAccountRealmName = "_service_account"
	ServiceAccountRealmType = "_service_account"
)

// Metadata keys attached to API key authentications.
const (
	APIKeyIDKey                       = "api_key_id"
	APIKeyRoleDescriptorsKey          = "api_key_role_descriptors"
	APIKeyLimitedByRoleDescriptorsKey = "api_key_limited_by_role_descriptors"
	APIKeyCreatorRealmNameKey         = "api_key_creator_realm_name"
)

// Authentication encoding versions. API key role descriptors switched from a
// map encoding to raw bytes at VersionAPIKeyRolesAsBytes; older
// authentications resolve through the legacy reference variant.
const (
	VersionAPIKeyRolesAsBytes = 70900
	CurrentVersion            = 81300
)

// AnonymousUser is the optionally configured anonymous identity whose roles
// augment every regular user's roles.
type AnonymousUser struct {
	Principal string
	Roles     []string
	Enabled   bool
}

// Subject is the identity a request is authenticated as. It is immutable
// after construction and lives for one authenticated request.
type Subject struct {
	principal string
	roles     []string
	realmName string
	realmType string
	version   int
	metadata  map[string]interface{}
	typ       Type
}

// New creates a subject authenticated at the current version with no
// metadata.
func New(principal string, roles []string, realmName, realmType string) *Subject {
	return NewWithMetadata(principal, roles, realmName, realmType, CurrentVersion, nil)
}

// NewWithMetadata creates a subject carrying an authentication version and
// realm metadata. The subject type is classified from the realm type; an
// absent realm is treated as a user and rejected later during authorization.
func NewWithMetadata(
	principal string,
	roles []string,
	realmName, realmType string,
	version int,
	metadata map[string]interface{},
) *Subject {
	typ := TypeUser
	switch realmType {
	case APIKeyRealmType:
		typ = TypeAPIKey
	case ServiceAccountRealmType:
		typ = TypeServiceAccount
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Subject{
		principal: principal,
		roles:     roles,
		realmName: realmName,
		realmType: realmType,
		version:   version,
		metadata:  metadata,
		typ:       typ,
	}
}

// Principal returns the authenticated principal name.
func (s *Subject) Principal() string { return s.principal }

// Roles returns the role names directly attached to the subject.
func (s *Subject) Roles() []string { return s.roles }

// RealmName returns the authenticating realm's name.
func (s *Subject) RealmName() string { return s.realmName }

// RealmType returns the authenticating realm's type.
func (s *Subject) RealmType() string { return s.realmType }

// Version returns the authentication encoding version.
func (s *Subject) Version() int { return s.version }

// Metadata returns the realm metadata attached at authentication time.
func (s *Subject) Metadata() map[string]interface{} { return s.metadata }

// Type returns the subject classification.
func (s *Subject) Type() Type { return s.typ }

// GetRoleReferences derives the ordered role references for the subject. A
// subject yields exactly one reference, or exactly two (assigned then
// limited-by) for API keys; never zero. The effective role is the
// intersection of all returned references' roles.
func (s *Subject) GetRoleReferences(anonymous *AnonymousUser) ([]RoleReference, error) {
	switch s.typ {
	case TypeUser:
		return s.buildRoleReferencesForUser(anonymous), nil
	case TypeAPIKey:
		return s.buildRoleReferencesForApiKey()
	case TypeServiceAccount:
		return []RoleReference{NewServiceAccountRoleReference(s.principal)}, nil
	default:
		return nil, fmt.Errorf("unknown subject type: [%v]", s.typ)
	}
}

func (s *Subject) buildRoleReferencesForUser(anonymous *AnonymousUser) []RoleReference {
	if anonymous != nil && s.principal == anonymous.Principal {
		return []RoleReference{NewNamedRoleReference(s.roles)}
	}
	if anonymous == nil || !anonymous.Enabled {
		return []RoleReference{NewNamedRoleReference(s.roles)}
	}
	if len(anonymous.Roles) == 0 {
		// Configuration invariant, not a recoverable request error.
		panic("anonymous access is only enabled when the anonymous user has roles")
	}
	allRoleNames := make([]string, 0, len(s.roles)+len(anonymous.Roles))
	allRoleNames = append(allRoleNames, s.roles...)
	allRoleNames = append(allRoleNames, anonymous.Roles...)
	return []RoleReference{NewNamedRoleReference(allRoleNames)}
}

func (s *Subject) buildRoleReferencesForApiKey() ([]RoleReference, error) {
	if s.version < VersionAPIKeyRolesAsBytes {
		return s.buildRoleReferencesForApiKeyBwc()
	}
	apiKeyID, _ := s.metadata[APIKeyIDKey].(string)
	roleDescriptorsBytes, _ := s.metadata[APIKeyRoleDescriptorsKey].([]byte)
	limitedByBytes := s.limitedByRoleDescriptorsBytes()
	if roleDescriptorsBytes == nil && limitedByBytes == nil {
		return nil, ErrNoApiKeyRoleDescriptors
	}
	limitedByRef := NewApiKeyRoleReference(apiKeyID, limitedByBytes, ApiKeyRoleTypeLimitedBy)
	if isEmptyRoleDescriptorsBytes(roleDescriptorsBytes) {
		return []RoleReference{limitedByRef}, nil
	}
	return []RoleReference{
		NewApiKeyRoleReference(apiKeyID, roleDescriptorsBytes, ApiKeyRoleTypeAssigned),
		limitedByRef,
	}, nil
}

func (s *Subject) buildRoleReferencesForApiKeyBwc() ([]RoleReference, error) {
	apiKeyID, _ := s.metadata[APIKeyIDKey].(string)
	roleDescriptorsMap := s.roleDescriptorsMap(APIKeyRoleDescriptorsKey)
	limitedByMap := s.roleDescriptorsMap(APIKeyLimitedByRoleDescriptorsKey)
	if roleDescriptorsMap == nil && limitedByMap == nil {
		return nil, ErrNoApiKeyRoleDescriptors
	}
	limitedByRef := NewBwcApiKeyRoleReference(apiKeyID, limitedByMap, ApiKeyRoleTypeLimitedBy)
	if len(roleDescriptorsMap) == 0 {
		return []RoleReference{limitedByRef}, nil
	}
	return []RoleReference{
		NewBwcApiKeyRoleReference(apiKeyID, roleDescriptorsMap, ApiKeyRoleTypeAssigned),
		limitedByRef,
	}, nil
}

func (s *Subject) roleDescriptorsMap(key string) map[string]interface{} {
	m, _ := s.metadata[key].(map[string]interface{})
	return m
}

// limitedByRoleDescriptorsBytes returns the limited-by payload, substituting
// the fixed fleet-server descriptor where the legacy bug left an empty
// payload behind.
func (s *Subject) limitedByRoleDescriptorsBytes() []byte {
	bytesRef, _ := s.metadata[APIKeyLimitedByRoleDescriptorsKey].([]byte)
	if len(bytesRef) == 2 && string(bytesRef) == "{}" {
		creatorRealm, _ := s.metadata[APIKeyCreatorRealmNameKey].(string)
		if creatorRealm == ServiceAccountRealmName && s.principal == FleetServerPrincipal {
			return FleetServerRoleDescriptorsBytesV714
		}
	}
	return bytesRef
}

func isEmptyRoleDescriptorsBytes(roleDescriptorsBytes []byte) bool {
	return roleDescriptorsBytes == nil ||
		(len(roleDescriptorsBytes) == 2 && string(roleDescriptorsBytes) == "{}")
}
