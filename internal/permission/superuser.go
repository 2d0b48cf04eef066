package permission

import "github.com/authz-engine/roles-core/pkg/types"

// SuperuserRoleName is the reserved role name that grants full access and
// drives the fail-open fallback in the composite store.
const SuperuserRoleName = "superuser"

// Superuser is the static all-granting role. It is built once and reused for
// the reserved superuser role and for fail-open fallback when resolution of
// a reference that includes the superuser role fails.
var Superuser = NewRole(
	[]string{SuperuserRoleName},
	NewClusterPermission([]string{"all"}, nil),
	NewIndicesPermission(IndicesGroup{
		Indices:                []string{"*"},
		Privileges:             []string{"all"},
		AllowRestrictedIndices: true,
		Fields:                 AllFields,
	}),
	NewApplicationPermission(ApplicationGroup{
		Application: "*",
		Resources:   []string{"*"},
		Privileges: []types.ApplicationPrivilege{
			{Application: "*", Name: "all", Actions: []string{"*"}},
		},
	}),
	NewRunAsPermission([]string{"*"}),
)
