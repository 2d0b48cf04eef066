package rolestore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/authz-engine/roles-core/internal/permission"
	"github.com/authz-engine/roles-core/pkg/types"
)

// NativePrivilegeStore looks up stored application privilege definitions so
// the privilege names in a descriptor can be expanded to concrete actions.
type NativePrivilegeStore interface {
	// GetPrivileges fetches the stored privileges of the named applications.
	// Both slices may contain wildcard patterns.
	GetPrivileges(ctx context.Context, applications []string, names []string, listener func([]types.ApplicationPrivilege, error))
}

// mergedIndicesGroup accumulates the indices privileges of all descriptors
// that target the same index-pattern set with the same restricted-indices
// setting. Privileges and FLS merge as unions; DLS becomes unrestricted as
// soon as one contributing descriptor carries no query.
type mergedIndicesGroup struct {
	indices                []string
	allowRestrictedIndices bool
	privileges             map[string]struct{}
	flsGroups              []permission.FieldGrantExcludeGroup
	unrestrictedFields     bool
	queries                map[string]struct{}
	unrestrictedDocs       bool
}

func indicesGroupKey(names []string, allowRestricted bool) string {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\x00")
	if allowRestricted {
		return key + "\x00+restricted"
	}
	return key
}

// mergedApplicationGroup accumulates privilege names per application and
// resource-pattern set; the names are expanded against the privilege store
// after the reduce.
type mergedApplicationGroup struct {
	application string
	resources   []string
	privileges  map[string]struct{}
}

func applicationGroupKey(application string, resources []string) string {
	sorted := make([]string, len(resources))
	copy(sorted, resources)
	sort.Strings(sorted)
	return application + "\x00" + strings.Join(sorted, "\x00")
}

// mergedDescriptors is the intermediate state of one reduce pass. It is
// built synchronously; only application privilege expansion needs I/O.
type mergedDescriptors struct {
	clusterPrivileges map[string]struct{}
	conditional       []*permission.ConditionalClusterPrivilege
	indicesGroups     map[string]*mergedIndicesGroup
	indicesOrder      []string
	appGroups         map[string]*mergedApplicationGroup
	appOrder          []string
	runAs             map[string]struct{}
}

// reduceDescriptors folds the descriptors into the merged intermediate form.
// The fold is pure: same descriptors in, same merged state out, regardless
// of order.
func reduceDescriptors(descriptors []types.RoleDescriptor) (*mergedDescriptors, error) {
	m := &mergedDescriptors{
		clusterPrivileges: make(map[string]struct{}),
		indicesGroups:     make(map[string]*mergedIndicesGroup),
		appGroups:         make(map[string]*mergedApplicationGroup),
		runAs:             make(map[string]struct{}),
	}
	for _, d := range descriptors {
		for _, p := range d.Cluster {
			m.clusterPrivileges[p] = struct{}{}
		}
		for _, c := range d.ConditionalCluster {
			compiled, err := permission.CompileConditionalClusterPrivilege(c.Privileges, c.Condition)
			if err != nil {
				return nil, fmt.Errorf("role %q has an invalid cluster privilege condition: %w", d.Name, err)
			}
			m.conditional = append(m.conditional, compiled)
		}
		for _, ip := range d.Indices {
			m.mergeIndices(ip)
		}
		for _, ap := range d.Applications {
			m.mergeApplication(ap)
		}
		for _, principal := range d.RunAs {
			m.runAs[principal] = struct{}{}
		}
	}
	return m, nil
}

func (m *mergedDescriptors) mergeIndices(ip types.IndicesPrivileges) {
	// An entry granting only "none" grants nothing and must not survive the
	// merge, otherwise it could read as a denial of what another role grants.
	if len(ip.Privileges) == 1 && strings.EqualFold(ip.Privileges[0], "none") {
		return
	}
	key := indicesGroupKey(ip.Names, ip.AllowRestrictedIndices)
	group, ok := m.indicesGroups[key]
	if !ok {
		group = &mergedIndicesGroup{
			indices:                append([]string(nil), ip.Names...),
			allowRestrictedIndices: ip.AllowRestrictedIndices,
			privileges:             make(map[string]struct{}),
			queries:                make(map[string]struct{}),
		}
		m.indicesGroups[key] = group
		m.indicesOrder = append(m.indicesOrder, key)
	}
	for _, p := range ip.Privileges {
		if strings.EqualFold(p, "none") {
			continue
		}
		group.privileges[p] = struct{}{}
	}
	if len(ip.Grant) > 0 || len(ip.Except) > 0 {
		group.flsGroups = append(group.flsGroups, permission.FieldGrantExcludeGroup{
			Grant:  ip.Grant,
			Except: ip.Except,
		})
	} else {
		// One contributor without field security makes every field visible.
		group.unrestrictedFields = true
	}
	if ip.Query == "" {
		group.unrestrictedDocs = true
	} else {
		group.queries[ip.Query] = struct{}{}
	}
}

func (m *mergedDescriptors) mergeApplication(ap types.ApplicationResourcePrivileges) {
	key := applicationGroupKey(ap.Application, ap.Resources)
	group, ok := m.appGroups[key]
	if !ok {
		group = &mergedApplicationGroup{
			application: ap.Application,
			resources:   append([]string(nil), ap.Resources...),
			privileges:  make(map[string]struct{}),
		}
		m.appGroups[key] = group
		m.appOrder = append(m.appOrder, key)
	}
	for _, p := range ap.Privileges {
		group.privileges[p] = struct{}{}
	}
}

func (m *mergedDescriptors) applicationNames() []string {
	set := make(map[string]struct{})
	for _, key := range m.appOrder {
		set[m.appGroups[key].application] = struct{}{}
	}
	return sortedKeys(set)
}

func (m *mergedDescriptors) privilegeNames() []string {
	set := make(map[string]struct{})
	for _, key := range m.appOrder {
		for p := range m.appGroups[key].privileges {
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func (m *mergedDescriptors) indicesPermission() *permission.IndicesPermission {
	groups := make([]permission.IndicesGroup, 0, len(m.indicesOrder))
	for _, key := range m.indicesOrder {
		g := m.indicesGroups[key]
		var queries []string
		if !g.unrestrictedDocs {
			queries = sortedKeys(g.queries)
		}
		fields := permission.AllFields
		if !g.unrestrictedFields && len(g.flsGroups) > 0 {
			fields = permission.NewFieldPermissions(g.flsGroups...)
		}
		groups = append(groups, permission.IndicesGroup{
			Indices:                g.indices,
			Privileges:             sortedKeys(g.privileges),
			AllowRestrictedIndices: g.allowRestrictedIndices,
			Fields:                 fields,
			Queries:                queries,
		})
	}
	return permission.NewIndicesPermission(groups...)
}

// applicationPermission expands each group's privilege names against the
// stored definitions. Names with no stored definition are kept bare so an
// exact action-name grant still matches.
func (m *mergedDescriptors) applicationPermission(stored []types.ApplicationPrivilege) *permission.ApplicationPermission {
	groups := make([]permission.ApplicationGroup, 0, len(m.appOrder))
	for _, key := range m.appOrder {
		g := m.appGroups[key]
		var resolved []types.ApplicationPrivilege
		for _, name := range sortedKeys(g.privileges) {
			expanded := false
			for _, sp := range stored {
				if sp.Application != g.application {
					continue
				}
				if sp.Name == name || matchesPrivilegePattern(name, sp.Name) {
					resolved = append(resolved, sp)
					expanded = true
				}
			}
			if !expanded {
				resolved = append(resolved, types.ApplicationPrivilege{
					Application: g.application,
					Name:        name,
				})
			}
		}
		groups = append(groups, permission.ApplicationGroup{
			Application: g.application,
			Resources:   g.resources,
			Privileges:  resolved,
		})
	}
	return permission.NewApplicationPermission(groups...)
}

func matchesPrivilegePattern(pattern, name string) bool {
	if !strings.ContainsRune(pattern, '*') {
		return false
	}
	return permission.MatchPattern(pattern, name)
}

// BuildRoleFromDescriptors merges role descriptors into one effective role.
// The reduce itself is synchronous and deterministic; the listener fires
// after the application privilege names have been expanded through the
// privilege store. A nil privilege store skips expansion.
func BuildRoleFromDescriptors(
	ctx context.Context,
	names []string,
	descriptors []types.RoleDescriptor,
	privilegeStore NativePrivilegeStore,
	listener func(permission.Role, error),
) {
	if len(descriptors) == 0 {
		listener(permission.Empty, nil)
		return
	}
	merged, err := reduceDescriptors(descriptors)
	if err != nil {
		listener(nil, err)
		return
	}

	assemble := func(stored []types.ApplicationPrivilege) permission.Role {
		return permission.NewRole(
			names,
			permission.NewClusterPermission(sortedKeys(merged.clusterPrivileges), merged.conditional),
			merged.indicesPermission(),
			merged.applicationPermission(stored),
			permission.NewRunAsPermission(sortedKeys(merged.runAs)),
		)
	}

	applications := merged.applicationNames()
	if len(applications) == 0 || privilegeStore == nil {
		listener(assemble(nil), nil)
		return
	}
	privilegeStore.GetPrivileges(ctx, applications, merged.privilegeNames(), func(stored []types.ApplicationPrivilege, err error) {
		if err != nil {
			listener(nil, fmt.Errorf("failed to resolve application privileges: %w", err))
			return
		}
		listener(assemble(stored), nil)
	})
}
