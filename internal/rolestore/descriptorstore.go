package rolestore

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/internal/cache"
	"github.com/authz-engine/roles-core/internal/subject"
	"github.com/authz-engine/roles-core/pkg/types"
)

// ApiKeyService parses the role descriptor payloads attached to API key
// authentications. Malformed payloads are errors.
type ApiKeyService interface {
	ParseRoleDescriptors(apiKeyID string, payload []byte, roleType subject.ApiKeyRoleType) ([]types.RoleDescriptor, error)
	ParseRoleDescriptorsMap(apiKeyID string, payload map[string]interface{}, roleType subject.ApiKeyRoleType) ([]types.RoleDescriptor, error)
}

// ServiceAccountService resolves a service account principal to its fixed
// role descriptor.
type ServiceAccountService interface {
	GetRoleDescriptor(ctx context.Context, principal string, listener func(types.RoleDescriptor, error))
}

// RoleDescriptorStore resolves one role reference into descriptors by
// delegating to the provider waterfall, the API key service, or the service
// account service. It consults the negative lookup cache to skip names
// already known to be missing; population of that cache is the composite
// store's job because inserts must respect the invalidation generation.
type RoleDescriptorStore struct {
	providers           *RoleProviders
	apiKeyService       ApiKeyService
	serviceAccounts     ServiceAccountService
	negativeLookupCache cache.Cache
	logger              *zap.Logger
}

var _ subject.RoleReferenceResolver = (*RoleDescriptorStore)(nil)

// NewRoleDescriptorStore wires the resolver over its collaborators. The
// negative lookup cache may be nil when negative caching is disabled.
func NewRoleDescriptorStore(
	providers *RoleProviders,
	apiKeyService ApiKeyService,
	serviceAccounts ServiceAccountService,
	negativeLookupCache cache.Cache,
	logger *zap.Logger,
) *RoleDescriptorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleDescriptorStore{
		providers:           providers,
		apiKeyService:       apiKeyService,
		serviceAccounts:     serviceAccounts,
		negativeLookupCache: negativeLookupCache,
		logger:              logger,
	}
}

// ResolveNamedRoleReference resolves named roles through the provider
// waterfall.
func (s *RoleDescriptorStore) ResolveNamedRoleReference(
	ctx context.Context,
	ref *subject.NamedRoleReference,
	listener subject.RolesRetrievalListener,
) {
	key := ref.ID()
	if key.Equal(subject.RoleKeyEmpty) {
		listener(subject.EmptyRolesRetrievalResult, nil)
		return
	}
	if key.Equal(subject.RoleKeySuperuser) {
		listener(subject.SuperuserRolesRetrievalResult, nil)
		return
	}

	names := s.filterNegativeCached(key.Names())
	if len(names) == 0 {
		listener(subject.EmptyRolesRetrievalResult, nil)
		return
	}
	s.retrieveRoleDescriptors(ctx, names, listener)
}

// filterNegativeCached drops names already known to resolve to "no such
// role".
func (s *RoleDescriptorStore) filterNegativeCached(names []string) []string {
	if s.negativeLookupCache == nil {
		return names
	}
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := s.negativeLookupCache.Get(name); ok {
			s.logger.Debug("skipping role known to be missing", zap.String("role", name))
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered
}

// retrieveRoleDescriptors walks the waterfall. Each provider only sees the
// names not resolved by a higher-priority provider; the first hard provider
// failure aborts the whole resolution.
func (s *RoleDescriptorStore) retrieveRoleDescriptors(
	ctx context.Context,
	names []string,
	listener subject.RolesRetrievalListener,
) {
	entries := s.providers.entries()
	result := subject.NewRolesRetrievalResult()
	remaining := make(map[string]struct{}, len(names))
	for _, n := range names {
		remaining[n] = struct{}{}
	}

	var step func(i int)
	step = func(i int) {
		if i == len(entries) || len(remaining) == 0 {
			result.SetMissingRoles(sortedKeys(remaining))
			listener(result, nil)
			return
		}
		entry := entries[i]
		entry.provider.RetrieveRoles(ctx, sortedKeys(remaining), func(providerResult RoleRetrievalResult) {
			if providerResult.Err != nil {
				listener(nil, fmt.Errorf("role retrieval had one or more failures: %w", providerResult.Err))
				return
			}
			for _, d := range providerResult.Descriptors {
				if _, ok := remaining[d.Name]; !ok {
					// A provider may only answer for names it was asked.
					continue
				}
				delete(remaining, d.Name)
				result.AddDescriptors(d)
			}
			step(i + 1)
		})
	}
	step(0)
}

// GetRoleDescriptors resolves a plain name set outside of any reference,
// for callers that need the raw descriptors.
func (s *RoleDescriptorStore) GetRoleDescriptors(
	ctx context.Context,
	names []string,
	listener func([]types.RoleDescriptor, error),
) {
	s.retrieveRoleDescriptors(ctx, names, func(result *subject.RolesRetrievalResult, err error) {
		if err != nil {
			listener(nil, err)
			return
		}
		listener(result.RoleDescriptors(), nil)
	})
}

// ResolveApiKeyRoleReference parses the byte-encoded descriptors stored on
// the API key.
func (s *RoleDescriptorStore) ResolveApiKeyRoleReference(
	_ context.Context,
	ref *subject.ApiKeyRoleReference,
	listener subject.RolesRetrievalListener,
) {
	descriptors, err := s.apiKeyService.ParseRoleDescriptors(ref.ApiKeyID(), ref.RoleDescriptorsBytes(), ref.RoleType())
	if err != nil {
		listener(nil, err)
		return
	}
	listener(apiKeyRetrievalResult(descriptors), nil)
}

// ResolveBwcApiKeyRoleReference parses the legacy map-encoded descriptors.
func (s *RoleDescriptorStore) ResolveBwcApiKeyRoleReference(
	_ context.Context,
	ref *subject.BwcApiKeyRoleReference,
	listener subject.RolesRetrievalListener,
) {
	descriptors, err := s.apiKeyService.ParseRoleDescriptorsMap(ref.ApiKeyID(), ref.RoleDescriptorsMap(), ref.RoleType())
	if err != nil {
		listener(nil, err)
		return
	}
	listener(apiKeyRetrievalResult(descriptors), nil)
}

func apiKeyRetrievalResult(descriptors []types.RoleDescriptor) *subject.RolesRetrievalResult {
	if len(descriptors) == 0 {
		return subject.EmptyRolesRetrievalResult
	}
	result := subject.NewRolesRetrievalResult()
	result.AddDescriptors(descriptors...)
	return result
}

// ResolveServiceAccountRoleReference fetches the service account's fixed
// descriptor.
func (s *RoleDescriptorStore) ResolveServiceAccountRoleReference(
	ctx context.Context,
	ref *subject.ServiceAccountRoleReference,
	listener subject.RolesRetrievalListener,
) {
	s.serviceAccounts.GetRoleDescriptor(ctx, ref.Principal(), func(descriptor types.RoleDescriptor, err error) {
		if err != nil {
			listener(nil, err)
			return
		}
		result := subject.NewRolesRetrievalResult()
		result.AddDescriptors(descriptor)
		listener(result, nil)
	})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
