package rolestore

import (
	"context"

	"github.com/authz-engine/roles-core/internal/permission"
	"github.com/authz-engine/roles-core/pkg/types"
)

// SuperuserRoleDescriptor is the reserved all-granting role.
var SuperuserRoleDescriptor = types.RoleDescriptor{
	Name:    permission.SuperuserRoleName,
	Cluster: []string{"all"},
	Indices: []types.IndicesPrivileges{
		{Names: []string{"*"}, Privileges: []string{"all"}, AllowRestrictedIndices: true},
	},
	Applications: []types.ApplicationResourcePrivileges{
		{Application: "*", Privileges: []string{"*"}, Resources: []string{"*"}},
	},
	RunAs:    []string{"*"},
	Metadata: map[string]interface{}{"_reserved": true},
}

// reservedRoleDescriptors are the built-in roles every deployment ships
// with. Reserved roles take priority over all other sources and cannot be
// shadowed by file or stored roles.
var reservedRoleDescriptors = []types.RoleDescriptor{
	SuperuserRoleDescriptor,
	{
		Name:     "monitoring_user",
		Cluster:  []string{"monitor"},
		Indices:  []types.IndicesPrivileges{{Names: []string{"metrics-*"}, Privileges: []string{"read"}}},
		Metadata: map[string]interface{}{"_reserved": true},
	},
	{
		Name:     "viewer",
		Indices:  []types.IndicesPrivileges{{Names: []string{"*"}, Privileges: []string{"read", "view_index_metadata"}}},
		Metadata: map[string]interface{}{"_reserved": true},
	},
}

// ReservedRolesProvider serves the built-in role descriptors. It is the
// first provider of the waterfall and never fails.
type ReservedRolesProvider struct {
	roles map[string]types.RoleDescriptor
}

// NewReservedRolesProvider creates the provider over the built-in role set.
func NewReservedRolesProvider() *ReservedRolesProvider {
	roles := make(map[string]types.RoleDescriptor, len(reservedRoleDescriptors))
	for _, d := range reservedRoleDescriptors {
		roles[d.Name] = d
	}
	return &ReservedRolesProvider{roles: roles}
}

// IsReserved reports whether name is a built-in role.
func (p *ReservedRolesProvider) IsReserved(name string) bool {
	_, ok := p.roles[name]
	return ok
}

// Count returns the number of built-in roles.
func (p *ReservedRolesProvider) Count() int {
	return len(p.roles)
}

// RetrieveRoles implements RolesProvider.
func (p *ReservedRolesProvider) RetrieveRoles(_ context.Context, names []string, listener func(RoleRetrievalResult)) {
	var result RoleRetrievalResult
	for _, name := range names {
		if d, ok := p.roles[name]; ok {
			result.Descriptors = append(result.Descriptors, d)
		}
	}
	listener(result)
}
