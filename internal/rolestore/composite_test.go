package rolestore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authz-engine/roles-core/internal/apikey"
	"github.com/authz-engine/roles-core/internal/permission"
	"github.com/authz-engine/roles-core/internal/serviceaccount"
	"github.com/authz-engine/roles-core/internal/subject"
	"github.com/authz-engine/roles-core/pkg/types"
)

// fakeProvider is a synchronous in-memory provider that records the name
// sets it was asked for. In capture mode it holds the listener until the
// test releases it.
type fakeProvider struct {
	mu       sync.Mutex
	roles    map[string]types.RoleDescriptor
	err      error
	requests [][]string
	capture  bool
	pending  []func()
}

func newFakeProvider(descriptors ...types.RoleDescriptor) *fakeProvider {
	roles := make(map[string]types.RoleDescriptor, len(descriptors))
	for _, d := range descriptors {
		roles[d.Name] = d
	}
	return &fakeProvider{roles: roles}
}

func (f *fakeProvider) RetrieveRoles(_ context.Context, names []string, listener func(RoleRetrievalResult)) {
	f.mu.Lock()
	f.requests = append(f.requests, append([]string(nil), names...))
	err := f.err
	var result RoleRetrievalResult
	if err != nil {
		result.Err = err
	} else {
		for _, name := range names {
			if d, ok := f.roles[name]; ok {
				result.Descriptors = append(result.Descriptors, d)
			}
		}
	}
	deliver := func() { listener(result) }
	if f.capture {
		f.pending = append(f.pending, deliver)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	deliver()
}

func (f *fakeProvider) release() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, deliver := range pending {
		deliver()
	}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeProvider) lastRequest() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func newTestStore(t *testing.T, native RolesProvider, customs ...CustomProvider) (*CompositeRolesStore, *RoleProviders) {
	t.Helper()
	providers := NewRoleProviders(RoleProvidersConfig{
		Native:  native,
		Customs: customs,
		Logger:  zap.NewNop(),
	})
	store := NewCompositeRolesStore(CompositeRolesStoreOptions{
		Providers:      providers,
		ApiKeyService:  apikey.NewService(nil),
		ServiceAccount: serviceaccount.NewService(nil),
		Logger:         zap.NewNop(),
	})
	return store, providers
}

func resolveRole(t *testing.T, store *CompositeRolesStore, sub *subject.Subject) (permission.Role, error) {
	t.Helper()
	var role permission.Role
	var resolveErr error
	store.GetRole(context.Background(), sub, func(r permission.Role, err error) {
		role, resolveErr = r, err
	})
	return role, resolveErr
}

func userSubject(roles ...string) *subject.Subject {
	return subject.New("alice", roles, "default", "native")
}

func monitorRole(name string) types.RoleDescriptor {
	return types.RoleDescriptor{Name: name, Cluster: []string{"monitor"}}
}

func TestGetRole_CachesByReference(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"))
	store, _ := newTestStore(t, native)

	first, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.True(t, first.CheckCluster("monitor", nil))

	second, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Same(t, first, second, "repeated resolution must return the cached role")
	require.Equal(t, 1, native.callCount())
}

func TestGetRole_SuperuserSentinelBypassesProviders(t *testing.T) {
	native := newFakeProvider()
	store, _ := newTestStore(t, native)

	role, err := resolveRole(t, store, userSubject("superuser"))
	require.NoError(t, err)
	require.Same(t, permission.Superuser, role)
	require.Equal(t, 0, native.callCount())
}

func TestGetRole_NoRolesYieldsEmptyRole(t *testing.T) {
	native := newFakeProvider()
	store, _ := newTestStore(t, native)

	role, err := resolveRole(t, store, userSubject())
	require.NoError(t, err)
	require.Same(t, permission.Empty, role)
	require.Equal(t, 0, native.callCount())
}

func TestGetRole_InternalUsers(t *testing.T) {
	store, _ := newTestStore(t, newFakeProvider())

	_, err := resolveRole(t, store, subject.New(subject.SystemUserPrincipal, nil, "__attach", "__attach"))
	require.ErrorIs(t, err, ErrSystemUserRole)

	role, err := resolveRole(t, store, subject.New(subject.XPackUserPrincipal, nil, "__attach", "__attach"))
	require.NoError(t, err)
	require.Same(t, permission.Superuser, role)
}

func TestGetRole_ApiKeyIntersection(t *testing.T) {
	store, _ := newTestStore(t, newFakeProvider())

	sub := subject.NewWithMetadata("key-user", nil, subject.APIKeyRealmName, subject.APIKeyRealmType,
		subject.CurrentVersion, map[string]interface{}{
			subject.APIKeyIDKey:                       "key-1",
			subject.APIKeyRoleDescriptorsKey:          []byte(`{"a":{"cluster":["monitor","manage_ml"]}}`),
			subject.APIKeyLimitedByRoleDescriptorsKey: []byte(`{"owner":{"cluster":["monitor"]}}`),
		})

	role, err := resolveRole(t, store, sub)
	require.NoError(t, err)
	require.True(t, role.CheckCluster("monitor", nil))
	require.False(t, role.CheckCluster("manage_ml", nil),
		"assigned privileges beyond the owner's roles must not survive")
}

func TestGetRole_ServiceAccount(t *testing.T) {
	store, _ := newTestStore(t, newFakeProvider())

	sub := subject.New("elastic/fleet-server", nil, subject.ServiceAccountRealmName, subject.ServiceAccountRealmType)
	role, err := resolveRole(t, store, sub)
	require.NoError(t, err)
	require.True(t, role.CheckCluster("monitor", nil))
	require.True(t, role.CheckIndices(".fleet-actions", "write"))
	require.False(t, role.CheckCluster("manage_security", nil))
}

func TestInvalidateRoles_DropsAffectedEntriesOnly(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"), monitorRole("role_b"))
	store, _ := newTestStore(t, native)

	roleA, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	roleB, err := resolveRole(t, store, userSubject("role_b"))
	require.NoError(t, err)
	require.Equal(t, 2, native.callCount())

	store.InvalidateRoles([]string{"role_a"})

	again, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.NotSame(t, roleA, again, "invalidated role must be rebuilt")
	require.Equal(t, 3, native.callCount())

	cachedB, err := resolveRole(t, store, userSubject("role_b"))
	require.NoError(t, err)
	require.Same(t, roleB, cachedB, "unrelated entries survive a scoped invalidation")
	require.Equal(t, 3, native.callCount())
}

func TestInvalidateAll_ClearsEverything(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"))
	store, _ := newTestStore(t, native)

	_, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	store.DocumentBitsetCache().Record(`{"term":{"x":1}}`, 64)

	store.InvalidateAll()

	require.Equal(t, 0, store.DocumentBitsetCache().Count(),
		"full invalidation clears the DLS bitset cache")
	_, err = resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Equal(t, 2, native.callCount())
}

func TestStalenessGuard_DropsResolutionsThatRaceAnInvalidation(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"))
	native.capture = true
	store, _ := newTestStore(t, native)

	var role permission.Role
	store.GetRole(context.Background(), userSubject("role_a"), func(r permission.Role, err error) {
		require.NoError(t, err)
		role = r
	})
	require.Nil(t, role, "resolution is held by the capturing provider")

	store.InvalidateAll()
	native.release()
	require.NotNil(t, role, "the caller still gets the resolved role")

	// The raced result must not have been cached.
	native.capture = false
	_, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Equal(t, 2, native.callCount())
}

func TestSuperuserFallback(t *testing.T) {
	native := newFakeProvider()
	native.err = errors.New("store unavailable")
	store, _ := newTestStore(t, native)

	role, err := resolveRole(t, store, userSubject("superuser", "other"))
	require.NoError(t, err)
	require.Same(t, permission.Superuser, role,
		"a failing reference that names superuser falls back open")

	_, err = resolveRole(t, store, userSubject("other"))
	require.Error(t, err, "references without superuser fail closed")
}

func TestSuperuserFallback_NotCached(t *testing.T) {
	native := newFakeProvider()
	native.err = errors.New("store unavailable")
	store, _ := newTestStore(t, native)

	_, err := resolveRole(t, store, userSubject("superuser", "other"))
	require.NoError(t, err)

	native.err = nil
	native.mu.Lock()
	native.roles["other"] = monitorRole("other")
	native.mu.Unlock()

	role, err := resolveRole(t, store, userSubject("superuser", "other"))
	require.NoError(t, err)
	require.NotSame(t, permission.Superuser, role,
		"once providers recover, the real merged role replaces the fallback")
}

func TestNegativeLookupCache_SkipsKnownMissingNames(t *testing.T) {
	native := newFakeProvider(monitorRole("real"))
	store, _ := newTestStore(t, native)

	_, err := resolveRole(t, store, userSubject("ghost"))
	require.NoError(t, err)
	require.Equal(t, []string{"ghost"}, native.lastRequest())
	require.True(t, store.isNegativelyCached("ghost"))

	_, err = resolveRole(t, store, userSubject("ghost", "real"))
	require.NoError(t, err)
	require.Equal(t, []string{"real"}, native.lastRequest(),
		"names known to be missing are filtered before the waterfall")
}

func TestNegativeLookupCache_NotPopulatedOnFailure(t *testing.T) {
	native := newFakeProvider()
	native.err = errors.New("store unavailable")
	store, _ := newTestStore(t, native)

	_, err := resolveRole(t, store, userSubject("ghost"))
	require.Error(t, err)
	require.False(t, store.isNegativelyCached("ghost"))

	native.err = nil
	_, err = resolveRole(t, store, userSubject("ghost"))
	require.NoError(t, err)
	require.Equal(t, []string{"ghost"}, native.lastRequest(),
		"a failed resolution must not poison later lookups")
}

func TestCustomProviders_LicenseGating(t *testing.T) {
	custom := newFakeProvider(monitorRole("custom_role"))
	allowed := false
	providers := NewRoleProviders(RoleProvidersConfig{
		Customs: []CustomProvider{{Name: "ext", Feature: "custom-roles", Provider: custom}},
		FeatureChecker: FeatureCheckerFunc(func(feature string) bool {
			return allowed
		}),
		Logger: zap.NewNop(),
	})
	store := NewCompositeRolesStore(CompositeRolesStoreOptions{
		Providers:      providers,
		ApiKeyService:  apikey.NewService(nil),
		ServiceAccount: serviceaccount.NewService(nil),
		Logger:         zap.NewNop(),
	})

	role, err := resolveRole(t, store, userSubject("custom_role"))
	require.NoError(t, err)
	require.False(t, role.CheckCluster("monitor", nil), "gated provider contributes nothing")
	require.Equal(t, 0, custom.callCount())

	allowed = true
	store.InvalidateAll()

	role, err = resolveRole(t, store, userSubject("custom_role"))
	require.NoError(t, err)
	require.True(t, role.CheckCluster("monitor", nil))
	require.Equal(t, 1, custom.callCount())
}

func TestSetCustomProviders_InvalidatesAll(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"))
	store, providers := newTestStore(t, native)

	_, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)

	providers.SetCustomProviders(nil)

	_, err = resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Equal(t, 2, native.callCount(), "changing the provider set flushes the cache")
}

func TestOnSecurityIndexStateChange(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"))
	store, _ := newTestStore(t, native)

	green := SecurityIndexState{IndexUUID: "uuid-1", IsIndexUpToDate: true, IndexHealth: IndexHealthGreen}
	store.OnSecurityIndexStateChange(green)

	_, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)

	// Same state again: nothing changes.
	store.OnSecurityIndexStateChange(green)
	_, err = resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Equal(t, 1, native.callCount())

	// Recovering from red requires invalidation.
	red := green
	red.IndexHealth = IndexHealthRed
	store.OnSecurityIndexStateChange(red)
	store.OnSecurityIndexStateChange(green)
	_, err = resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Equal(t, 2, native.callCount())

	// A new index UUID also invalidates.
	recreated := green
	recreated.IndexUUID = "uuid-2"
	store.OnSecurityIndexStateChange(recreated)
	_, err = resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)
	require.Equal(t, 3, native.callCount())
}

func TestGetRoles_RunAs(t *testing.T) {
	native := newFakeProvider(monitorRole("target_role"), types.RoleDescriptor{
		Name:    "admin_role",
		Cluster: []string{"manage_security"},
		RunAs:   []string{"bob"},
	})
	store, _ := newTestStore(t, native)

	effective := subject.New("bob", []string{"target_role"}, "default", "native")
	authenticating := subject.New("alice", []string{"admin_role"}, "default", "native")
	authn := subject.NewRunAsAuthentication(effective, authenticating)

	var effRole, authRole permission.Role
	var resolveErr error
	store.GetRoles(context.Background(), authn, func(e, a permission.Role, err error) {
		effRole, authRole, resolveErr = e, a, err
	})
	require.NoError(t, resolveErr)
	require.True(t, effRole.CheckCluster("monitor", nil))
	require.False(t, effRole.CheckCluster("manage_security", nil))
	require.True(t, authRole.CheckRunAs("bob"))
}

func TestUsageStats(t *testing.T) {
	native := newFakeProvider(monitorRole("role_a"))
	store, _ := newTestStore(t, native)

	_, err := resolveRole(t, store, userSubject("role_a"))
	require.NoError(t, err)

	var stats map[string]interface{}
	store.UsageStats(context.Background(), func(s map[string]interface{}, err error) {
		require.NoError(t, err)
		stats = s
	})
	require.Contains(t, stats, "providers")
	require.Contains(t, stats, "role_cache")
	require.Contains(t, stats, "negative_lookup_cache")
	require.Contains(t, stats, "dls")
}

func TestStop_FailsFast(t *testing.T) {
	store, _ := newTestStore(t, newFakeProvider())
	store.Stop()

	_, err := resolveRole(t, store, userSubject("role_a"))
	require.ErrorIs(t, err, ErrStoreStopped)
}
