package subject

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/authz-engine/roles-core/pkg/types"
)

// RoleKey identifies where a role definition came from. The name set defines
// identity regardless of order; the source separates references that carry
// the same names but resolve differently (for example the assigned and
// limited-by sides of one API key). RoleKey is the cache key and log label
// for one resolved role.
type RoleKey struct {
	names  []string
	source string
}

// NewRoleKey builds a role key from a name set and source. Names are copied,
// de-duplicated and sorted.
func NewRoleKey(names []string, source string) RoleKey {
	seen := make(map[string]struct{}, len(names))
	sorted := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	return RoleKey{names: sorted, source: source}
}

// Sentinel role keys. References whose key equals one of these bypass the
// provider waterfall entirely.
var (
	RoleKeySuperuser = NewRoleKey([]string{"superuser"}, "superuser")
	RoleKeyEmpty     = NewRoleKey(nil, "__empty")
)

// Names returns the sorted role names of the key.
func (k RoleKey) Names() []string {
	return k.names
}

// Source returns the key's source label.
func (k RoleKey) Source() string {
	return k.source
}

// ContainsName reports whether the key's name set contains name.
func (k RoleKey) ContainsName(name string) bool {
	for _, n := range k.names {
		if n == name {
			return true
		}
	}
	return false
}

// ID returns the stable string form of the key used for cache lookups.
func (k RoleKey) ID() string {
	return k.source + ";" + strings.Join(k.names, ",")
}

// Equal reports whether two keys identify the same role definition source.
func (k RoleKey) Equal(other RoleKey) bool {
	return k.ID() == other.ID()
}

func (k RoleKey) String() string {
	return fmt.Sprintf("[%s] from source [%s]", strings.Join(k.names, ","), k.source)
}

// RolesRetrievalResult is the outcome of resolving one role reference into
// descriptors. Missing names are recorded for negative caching; a failed
// result is never cached.
type RolesRetrievalResult struct {
	descriptors []types.RoleDescriptor
	missing     []string
	failed      bool
}

// Sentinel results. EmptyRolesRetrievalResult and
// SuperuserRolesRetrievalResult short-circuit merging; they are compared by
// pointer identity.
var (
	EmptyRolesRetrievalResult     = &RolesRetrievalResult{}
	SuperuserRolesRetrievalResult = &RolesRetrievalResult{}
)

// NewRolesRetrievalResult creates an empty, successful result.
func NewRolesRetrievalResult() *RolesRetrievalResult {
	return &RolesRetrievalResult{}
}

// AddDescriptors appends resolved descriptors to the result.
func (r *RolesRetrievalResult) AddDescriptors(descriptors ...types.RoleDescriptor) {
	r.descriptors = append(r.descriptors, descriptors...)
}

// SetMissingRoles records the names no provider could resolve.
func (r *RolesRetrievalResult) SetMissingRoles(names []string) {
	r.missing = names
}

// SetFailure marks the result as failed. Missing names of a failed result
// must not enter the negative lookup cache.
func (r *RolesRetrievalResult) SetFailure() {
	r.failed = true
	r.missing = nil
}

// Success reports whether every provider call succeeded.
func (r *RolesRetrievalResult) Success() bool {
	return !r.failed
}

// RoleDescriptors returns the resolved descriptors.
func (r *RolesRetrievalResult) RoleDescriptors() []types.RoleDescriptor {
	return r.descriptors
}

// MissingRoles returns the names that resolved to "no such role".
func (r *RolesRetrievalResult) MissingRoles() []string {
	return r.missing
}

// RolesRetrievalListener receives the outcome of resolving a role reference.
// Exactly one of result and err is meaningful.
type RolesRetrievalListener func(result *RolesRetrievalResult, err error)

// RoleReferenceResolver resolves each role reference kind into descriptors.
// It is implemented by the role descriptor store; the closed set of methods
// replaces per-variant virtual dispatch with one exhaustively checkable
// contract.
type RoleReferenceResolver interface {
	ResolveNamedRoleReference(ctx context.Context, ref *NamedRoleReference, listener RolesRetrievalListener)
	ResolveApiKeyRoleReference(ctx context.Context, ref *ApiKeyRoleReference, listener RolesRetrievalListener)
	ResolveBwcApiKeyRoleReference(ctx context.Context, ref *BwcApiKeyRoleReference, listener RolesRetrievalListener)
	ResolveServiceAccountRoleReference(ctx context.Context, ref *ServiceAccountRoleReference, listener RolesRetrievalListener)
}

// RoleReference describes how to fetch the descriptors behind one portion of
// a subject's effective role. The variant set is closed: named roles, API key
// roles in both encodings, and service accounts.
type RoleReference interface {
	// ID returns the reference's cache key.
	ID() RoleKey
	// Resolve fetches the descriptors through the given resolver.
	Resolve(ctx context.Context, resolver RoleReferenceResolver, listener RolesRetrievalListener)

	roleReference() // closed variant set
}

// SuperuserRoleName is the reserved role name with full cluster access.
const SuperuserRoleName = "superuser"

// NamedRoleReference points at roles resolved by name through the provider
// waterfall.
type NamedRoleReference struct {
	roleNames []string
}

// NewNamedRoleReference creates a reference to the given role names.
func NewNamedRoleReference(roleNames []string) *NamedRoleReference {
	return &NamedRoleReference{roleNames: roleNames}
}

// RoleNames returns the referenced role names in their original order.
func (r *NamedRoleReference) RoleNames() []string {
	return r.roleNames
}

func (r *NamedRoleReference) ID() RoleKey {
	if len(r.roleNames) == 0 {
		return RoleKeyEmpty
	}
	key := NewRoleKey(r.roleNames, "named_roles")
	if len(key.names) == 1 && key.names[0] == SuperuserRoleName {
		return RoleKeySuperuser
	}
	return key
}

func (r *NamedRoleReference) Resolve(ctx context.Context, resolver RoleReferenceResolver, listener RolesRetrievalListener) {
	resolver.ResolveNamedRoleReference(ctx, r, listener)
}

func (r *NamedRoleReference) roleReference() {}

// ApiKeyRoleType distinguishes the two role definitions attached to one API
// key: the roles assigned at creation and the owner's roles that limit them.
type ApiKeyRoleType int

const (
	// ApiKeyRoleTypeAssigned is the role definition assigned to the key.
	ApiKeyRoleTypeAssigned ApiKeyRoleType = iota
	// ApiKeyRoleTypeLimitedBy is the owner's role definition limiting the key.
	ApiKeyRoleTypeLimitedBy
)

func (t ApiKeyRoleType) String() string {
	if t == ApiKeyRoleTypeLimitedBy {
		return "limited_by"
	}
	return "assigned"
}

func (t ApiKeyRoleType) keySuffix() string {
	if t == ApiKeyRoleTypeLimitedBy {
		return "limited_role"
	}
	return "role"
}

// ApiKeyRoleReference points at the byte-encoded role descriptors stored on
// an API key document.
type ApiKeyRoleReference struct {
	apiKeyID             string
	roleDescriptorsBytes []byte
	roleType             ApiKeyRoleType
}

// NewApiKeyRoleReference creates a reference to one side of an API key's
// role definitions.
func NewApiKeyRoleReference(apiKeyID string, roleDescriptorsBytes []byte, roleType ApiKeyRoleType) *ApiKeyRoleReference {
	return &ApiKeyRoleReference{
		apiKeyID:             apiKeyID,
		roleDescriptorsBytes: roleDescriptorsBytes,
		roleType:             roleType,
	}
}

// ApiKeyID returns the key document ID.
func (r *ApiKeyRoleReference) ApiKeyID() string { return r.apiKeyID }

// RoleDescriptorsBytes returns the raw descriptor payload.
func (r *ApiKeyRoleReference) RoleDescriptorsBytes() []byte { return r.roleDescriptorsBytes }

// RoleType returns which side of the key's roles this reference covers.
func (r *ApiKeyRoleReference) RoleType() ApiKeyRoleType { return r.roleType }

func (r *ApiKeyRoleReference) ID() RoleKey {
	return NewRoleKey([]string{"apikey:" + r.apiKeyID}, "apikey_"+r.roleType.keySuffix())
}

func (r *ApiKeyRoleReference) Resolve(ctx context.Context, resolver RoleReferenceResolver, listener RolesRetrievalListener) {
	resolver.ResolveApiKeyRoleReference(ctx, r, listener)
}

func (r *ApiKeyRoleReference) roleReference() {}

// BwcApiKeyRoleReference points at the map-encoded role descriptors of API
// keys created before the byte-serialization cutover.
type BwcApiKeyRoleReference struct {
	apiKeyID           string
	roleDescriptorsMap map[string]interface{}
	roleType           ApiKeyRoleType
}

// NewBwcApiKeyRoleReference creates a legacy-encoded API key role reference.
func NewBwcApiKeyRoleReference(apiKeyID string, roleDescriptorsMap map[string]interface{}, roleType ApiKeyRoleType) *BwcApiKeyRoleReference {
	return &BwcApiKeyRoleReference{
		apiKeyID:           apiKeyID,
		roleDescriptorsMap: roleDescriptorsMap,
		roleType:           roleType,
	}
}

// ApiKeyID returns the key document ID.
func (r *BwcApiKeyRoleReference) ApiKeyID() string { return r.apiKeyID }

// RoleDescriptorsMap returns the map-encoded descriptor payload.
func (r *BwcApiKeyRoleReference) RoleDescriptorsMap() map[string]interface{} { return r.roleDescriptorsMap }

// RoleType returns which side of the key's roles this reference covers.
func (r *BwcApiKeyRoleReference) RoleType() ApiKeyRoleType { return r.roleType }

func (r *BwcApiKeyRoleReference) ID() RoleKey {
	return NewRoleKey([]string{"apikey:" + r.apiKeyID}, "bwc_apikey_"+r.roleType.keySuffix())
}

func (r *BwcApiKeyRoleReference) Resolve(ctx context.Context, resolver RoleReferenceResolver, listener RolesRetrievalListener) {
	resolver.ResolveBwcApiKeyRoleReference(ctx, r, listener)
}

func (r *BwcApiKeyRoleReference) roleReference() {}

// ServiceAccountRoleReference points at the fixed role descriptor of a
// service account principal.
type ServiceAccountRoleReference struct {
	principal string
}

// NewServiceAccountRoleReference creates a reference keyed by the service
// account principal.
func NewServiceAccountRoleReference(principal string) *ServiceAccountRoleReference {
	return &ServiceAccountRoleReference{principal: principal}
}

// Principal returns the service account principal.
func (r *ServiceAccountRoleReference) Principal() string { return r.principal }

func (r *ServiceAccountRoleReference) ID() RoleKey {
	return NewRoleKey([]string{r.principal}, "service_account")
}

func (r *ServiceAccountRoleReference) Resolve(ctx context.Context, resolver RoleReferenceResolver, listener RolesRetrievalListener) {
	resolver.ResolveServiceAccountRoleReference(ctx, r, listener)
}

func (r *ServiceAccountRoleReference) roleReference() {}
