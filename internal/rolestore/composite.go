package rolestore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/internal/cache"
	"github.com/authz-engine/roles-core/internal/metrics"
	"github.com/authz-engine/roles-core/internal/permission"
	"github.com/authz-engine/roles-core/internal/subject"
	"github.com/authz-engine/roles-core/pkg/types"
)

// cachedRole pairs a built role with the key it was built for, so
// name-scoped invalidation can match cache entries against role names.
type cachedRole struct {
	key  subject.RoleKey
	role permission.Role
}

// negativeSentinel marks a role name as known-missing in the negative
// lookup cache.
var negativeSentinel = struct{}{}

// Config holds the tunables of the composite roles store.
type Config struct {
	// RoleCacheSize bounds the role cache. Zero disables role caching;
	// negative leaves it unbounded.
	RoleCacheSize int
	// RoleCacheTTL expires cached roles. Zero disables expiry.
	RoleCacheTTL time.Duration
	// NegativeCacheSize bounds the negative lookup cache.
	NegativeCacheSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RoleCacheSize:     10000,
		NegativeCacheSize: 10000,
	}
}

// CompositeRolesStore turns authenticated subjects into effective roles. It
// derives role references from the subject, resolves each through the
// descriptor store, merges the descriptors into a permission object, and
// caches the result keyed by the reference identity.
//
// Every cache insert is guarded by the invalidation generation: a resolution
// that started before an invalidation must not publish its stale result
// afterwards. Failed resolutions are never cached, positively or negatively.
type CompositeRolesStore struct {
	descriptorStore *RoleDescriptorStore
	providers       *RoleProviders
	privilegeStore  NativePrivilegeStore
	anonymous       *subject.AnonymousUser
	metrics         *metrics.PrometheusMetrics
	logger          *zap.Logger

	roleCache           cache.Cache
	negativeLookupCache cache.Cache
	dlsBitsetCache      *permission.DocumentBitsetCache

	// numInvalidation is incremented under the write half of invalidationMu
	// for every invalidation; cache inserts hold the read half and compare
	// against the value observed before resolution started.
	numInvalidation atomic.Int64
	invalidationMu  sync.RWMutex

	indexStateMu sync.Mutex
	indexState   SecurityIndexState

	stopped atomic.Bool
}

// CompositeRolesStoreOptions wires the store's collaborators. Providers is
// required; everything else has a working zero value.
type CompositeRolesStoreOptions struct {
	Config         Config
	Providers      *RoleProviders
	ApiKeyService  ApiKeyService
	ServiceAccount ServiceAccountService
	PrivilegeStore NativePrivilegeStore
	Anonymous      *subject.AnonymousUser
	Metrics        *metrics.PrometheusMetrics
	Logger         *zap.Logger
}

// NewCompositeRolesStore assembles the store and registers it for role
// change notifications from its providers.
func NewCompositeRolesStore(opts CompositeRolesStoreOptions) *CompositeRolesStore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.RoleCacheSize == 0 && cfg.NegativeCacheSize == 0 && cfg.RoleCacheTTL == 0 {
		cfg = DefaultConfig()
	}

	s := &CompositeRolesStore{
		providers:           opts.Providers,
		privilegeStore:      opts.PrivilegeStore,
		anonymous:           opts.Anonymous,
		metrics:             opts.Metrics,
		logger:              logger,
		roleCache:           cache.NewLRU(cfg.RoleCacheSize, cfg.RoleCacheTTL),
		negativeLookupCache: cache.NewLRU(cfg.NegativeCacheSize, 0),
		dlsBitsetCache:      permission.NewDocumentBitsetCache(logger),
	}
	s.descriptorStore = NewRoleDescriptorStore(
		opts.Providers,
		opts.ApiKeyService,
		opts.ServiceAccount,
		s.negativeLookupCache,
		logger,
	)
	opts.Providers.AddChangeListener(s)
	return s
}

// RolesChanged implements ChangeListener.
func (s *CompositeRolesStore) RolesChanged(names []string) {
	s.InvalidateRoles(names)
}

// ProvidersChanged implements ChangeListener.
func (s *CompositeRolesStore) ProvidersChanged() {
	s.InvalidateAll()
}

// DocumentBitsetCache exposes the DLS bitset cache tied to this store's
// invalidation lifecycle.
func (s *CompositeRolesStore) DocumentBitsetCache() *permission.DocumentBitsetCache {
	return s.dlsBitsetCache
}

// Stop marks the store stopped; subsequent resolutions fail fast.
func (s *CompositeRolesStore) Stop() {
	s.stopped.Store(true)
}

// GetRoles resolves the roles of a full authentication context: the
// effective subject's role, plus the authenticating subject's role when the
// request runs as another identity.
func (s *CompositeRolesStore) GetRoles(
	ctx context.Context,
	authn *subject.Authentication,
	listener func(effective, authenticating permission.Role, err error),
) {
	s.GetRole(ctx, authn.EffectiveSubject(), func(effectiveRole permission.Role, err error) {
		if err != nil {
			listener(nil, nil, err)
			return
		}
		if !authn.IsRunAs() {
			listener(effectiveRole, effectiveRole, nil)
			return
		}
		s.GetRole(ctx, authn.AuthenticatingSubject(), func(authenticatingRole permission.Role, err error) {
			if err != nil {
				listener(nil, nil, err)
				return
			}
			listener(effectiveRole, authenticatingRole, nil)
		})
	})
}

// GetRole resolves one subject's effective role.
func (s *CompositeRolesStore) GetRole(ctx context.Context, sub *subject.Subject, listener func(permission.Role, error)) {
	if s.stopped.Load() {
		listener(nil, ErrStoreStopped)
		return
	}
	if sub.IsInternal() {
		role, err := internalUserRole(sub.Principal())
		if err != nil {
			s.recordResolution(metrics.OutcomeFailure)
			listener(nil, err)
			return
		}
		listener(role, nil)
		return
	}

	refs, err := sub.GetRoleReferences(s.anonymous)
	if err != nil {
		s.recordResolution(metrics.OutcomeFailure)
		listener(nil, err)
		return
	}

	switch len(refs) {
	case 1:
		s.getRoleForReference(ctx, refs[0], listener)
	case 2:
		// API keys: the assigned role limited by the owner's role.
		s.getRoleForReference(ctx, refs[0], func(assigned permission.Role, err error) {
			if err != nil {
				listener(nil, err)
				return
			}
			s.getRoleForReference(ctx, refs[1], func(limitedBy permission.Role, err error) {
				if err != nil {
					listener(nil, err)
					return
				}
				listener(permission.NewLimitedRole(assigned, limitedBy), nil)
			})
		})
	default:
		// GetRoleReferences never yields zero or more than two references.
		listener(nil, fmt.Errorf("expected one or two role references, got [%d]", len(refs)))
	}
}

// internalUserRole maps internal pseudo-identities to their fixed roles. The
// system user is a hard error.
func internalUserRole(principal string) (permission.Role, error) {
	switch principal {
	case subject.SystemUserPrincipal:
		return nil, ErrSystemUserRole
	case subject.XPackUserPrincipal, subject.SecurityUserPrincipal:
		return permission.Superuser, nil
	case subject.AsyncSearchUserPrincipal:
		return asyncSearchUserRole, nil
	}
	return nil, fmt.Errorf("unknown internal user [%s]", principal)
}

var asyncSearchUserRole = permission.NewRole(
	[]string{"_async_search"},
	permission.NewClusterPermission([]string{"cancel_task"}, nil),
	permission.NewIndicesPermission(permission.IndicesGroup{
		Indices:                []string{".async-search*"},
		Privileges:             []string{"all"},
		AllowRestrictedIndices: true,
		Fields:                 permission.AllFields,
	}),
	nil,
	nil,
)

// getRoleForReference serves a single reference from the cache or resolves
// and builds it.
func (s *CompositeRolesStore) getRoleForReference(
	ctx context.Context,
	ref subject.RoleReference,
	listener func(permission.Role, error),
) {
	key := ref.ID()
	if key.Equal(subject.RoleKeySuperuser) {
		s.recordResolution(metrics.OutcomeSuccess)
		listener(permission.Superuser, nil)
		return
	}
	if key.Equal(subject.RoleKeyEmpty) {
		s.recordResolution(metrics.OutcomeSuccess)
		listener(permission.Empty, nil)
		return
	}

	if entry, ok := s.roleCache.Get(key.ID()); ok {
		if s.metrics != nil {
			s.metrics.RecordCacheHit()
			s.metrics.RecordResolution(metrics.OutcomeCacheHit)
		}
		listener(entry.(*cachedRole).role, nil)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss()
	}

	// Staleness guard: an invalidation arriving between here and the cache
	// insert bumps the generation and the insert is skipped.
	invalidationCounter := s.numInvalidation.Load()

	ref.Resolve(ctx, s.descriptorStore, func(result *subject.RolesRetrievalResult, err error) {
		if err != nil {
			s.handleResolutionFailure(key, err, listener)
			return
		}
		if result == subject.SuperuserRolesRetrievalResult {
			s.recordResolution(metrics.OutcomeSuccess)
			listener(permission.Superuser, nil)
			return
		}
		if result == subject.EmptyRolesRetrievalResult {
			s.recordResolution(metrics.OutcomeSuccess)
			listener(permission.Empty, nil)
			return
		}
		s.buildAndCacheRole(ctx, key, result, invalidationCounter, listener)
	})
}

// handleResolutionFailure applies the fail-open superuser fallback: when a
// reference that names the superuser role cannot be resolved, the caller
// still gets the superuser role rather than a lockout.
func (s *CompositeRolesStore) handleResolutionFailure(
	key subject.RoleKey,
	err error,
	listener func(permission.Role, error),
) {
	if key.Source() == "named_roles" && key.ContainsName(subject.SuperuserRoleName) {
		s.logger.Warn("role retrieval failed, falling back to the superuser role",
			zap.String("role_key", key.String()),
			zap.Error(err),
		)
		s.recordResolution(metrics.OutcomeFallbackSuperuser)
		listener(permission.Superuser, nil)
		return
	}
	s.recordResolution(metrics.OutcomeFailure)
	listener(nil, err)
}

// buildAndCacheRole merges the resolved descriptors and publishes the result
// to the caches when the invalidation generation is unchanged.
func (s *CompositeRolesStore) buildAndCacheRole(
	ctx context.Context,
	key subject.RoleKey,
	result *subject.RolesRetrievalResult,
	invalidationCounter int64,
	listener func(permission.Role, error),
) {
	start := time.Now()
	BuildRoleFromDescriptors(ctx, key.Names(), result.RoleDescriptors(), s.privilegeStore, func(role permission.Role, err error) {
		if err != nil {
			s.handleResolutionFailure(key, err, listener)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordMergeDuration(time.Since(start))
		}
		if result.Success() {
			s.publishToCache(key, role, result.MissingRoles(), invalidationCounter)
		}
		s.recordResolution(metrics.OutcomeSuccess)
		listener(role, nil)
	})
}

// publishToCache inserts the built role and the missing names, both gated by
// the invalidation generation observed before resolution started. The lock
// is held only for the insert itself.
func (s *CompositeRolesStore) publishToCache(key subject.RoleKey, role permission.Role, missing []string, invalidationCounter int64) {
	s.invalidationMu.RLock()
	defer s.invalidationMu.RUnlock()
	if s.numInvalidation.Load() != invalidationCounter {
		s.logger.Debug("not caching role, definitions changed during resolution",
			zap.String("role_key", key.String()),
		)
		return
	}
	s.roleCache.SetIfAbsent(key.ID(), &cachedRole{key: key, role: role})
	for _, name := range missing {
		s.negativeLookupCache.SetIfAbsent(name, negativeSentinel)
	}
	if s.metrics != nil {
		s.metrics.UpdateRoleCacheSize(s.roleCache.Len())
	}
}

// Invalidate drops the cache entries affected by a change to one role.
func (s *CompositeRolesStore) Invalidate(name string) {
	s.InvalidateRoles([]string{name})
}

// InvalidateRoles drops every cached role built from any of the named roles
// and forgets their negative lookups.
func (s *CompositeRolesStore) InvalidateRoles(names []string) {
	if len(names) == 0 {
		return
	}
	s.invalidationMu.Lock()
	defer s.invalidationMu.Unlock()
	s.numInvalidation.Add(1)

	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}
	removed := s.roleCache.RemoveIf(func(_ string, value interface{}) bool {
		entry := value.(*cachedRole)
		for n := range nameSet {
			if entry.key.ContainsName(n) {
				return true
			}
		}
		return false
	})
	for _, n := range names {
		s.negativeLookupCache.Delete(n)
	}

	s.logger.Debug("invalidated cached roles",
		zap.Strings("roles", names),
		zap.Int("removed", removed),
	)
	if s.metrics != nil {
		s.metrics.RecordInvalidation("roles")
		s.metrics.UpdateRoleCacheSize(s.roleCache.Len())
	}
}

// InvalidateAll drops every cached role, every negative lookup, and the DLS
// bitset cache.
func (s *CompositeRolesStore) InvalidateAll() {
	s.invalidationMu.Lock()
	s.numInvalidation.Add(1)
	s.roleCache.Clear()
	s.negativeLookupCache.Clear()
	s.invalidationMu.Unlock()

	s.dlsBitsetCache.Clear("full role cache invalidation")
	s.logger.Info("invalidated all cached roles")
	if s.metrics != nil {
		s.metrics.RecordInvalidation("all")
		s.metrics.UpdateRoleCacheSize(0)
	}
}

// OnSecurityIndexStateChange reacts to backing index transitions. Recovering
// from red health, index deletion or recreation, and mapping upgrades all
// make cached roles unreliable.
func (s *CompositeRolesStore) OnSecurityIndexStateChange(current SecurityIndexState) {
	s.indexStateMu.Lock()
	previous := s.indexState
	s.indexState = current
	s.indexStateMu.Unlock()

	if requiresInvalidation(previous, current) {
		s.logger.Info("security index state change requires cache invalidation",
			zap.String("previous_health", previous.IndexHealth),
			zap.String("current_health", current.IndexHealth),
			zap.String("previous_uuid", previous.IndexUUID),
			zap.String("current_uuid", current.IndexUUID),
		)
		s.InvalidateAll()
	}
}

// GetRoleDescriptors resolves names to raw descriptors without building a
// role, for callers that need the definitions themselves.
func (s *CompositeRolesStore) GetRoleDescriptors(ctx context.Context, names []string, listener func([]types.RoleDescriptor, error)) {
	s.descriptorStore.GetRoleDescriptors(ctx, names, listener)
}

// UsageStats reports provider sizes and cache statistics.
func (s *CompositeRolesStore) UsageStats(ctx context.Context, listener func(map[string]interface{}, error)) {
	roleStats := s.roleCache.Stats()
	s.providers.UsageStats(ctx, func(providerStats map[string]interface{}, err error) {
		if err != nil {
			listener(nil, err)
			return
		}
		stats := map[string]interface{}{
			"providers": providerStats,
			"role_cache": map[string]interface{}{
				"size":     roleStats.Size,
				"hits":     roleStats.Hits,
				"misses":   roleStats.Misses,
				"hit_rate": roleStats.HitRate,
			},
			"negative_lookup_cache": map[string]interface{}{
				"size": s.negativeLookupCache.Len(),
			},
			"dls": map[string]interface{}{
				"bit_set_cache": s.dlsBitsetCache.UsageStats(),
			},
		}
		listener(stats, nil)
	})
}

// isNegativelyCached reports whether name is remembered as missing. Test
// hook.
func (s *CompositeRolesStore) isNegativelyCached(name string) bool {
	_, ok := s.negativeLookupCache.Get(name)
	return ok
}

func (s *CompositeRolesStore) recordResolution(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordResolution(outcome)
	}
}
