package permission

// limitedRole intersects a primary role with a limiting role. Every check
// must pass on both sides, which yields the set-intersection of grants. This
// is how API-key assigned roles are scoped by their limited-by roles.
type limitedRole struct {
	base      Role
	limitedBy Role
}

// NewLimitedRole combines a primary role with a limiting role. The result
// grants only what both roles grant. Names are taken from the primary role.
func NewLimitedRole(base, limitedBy Role) Role {
	if base == nil || limitedBy == nil {
		panic("limited role requires both a base role and a limiting role")
	}
	return &limitedRole{base: base, limitedBy: limitedBy}
}

func (r *limitedRole) Names() []string {
	return r.base.Names()
}

func (r *limitedRole) CheckCluster(privilege string, requestCtx map[string]interface{}) bool {
	return r.base.CheckCluster(privilege, requestCtx) && r.limitedBy.CheckCluster(privilege, requestCtx)
}

func (r *limitedRole) CheckIndices(index, privilege string) bool {
	return r.base.CheckIndices(index, privilege) && r.limitedBy.CheckIndices(index, privilege)
}

func (r *limitedRole) GrantsField(index, field string) bool {
	return r.base.GrantsField(index, field) && r.limitedBy.GrantsField(index, field)
}

func (r *limitedRole) CheckApplication(application, resource, action string) bool {
	return r.base.CheckApplication(application, resource, action) &&
		r.limitedBy.CheckApplication(application, resource, action)
}

func (r *limitedRole) CheckRunAs(principal string) bool {
	return r.base.CheckRunAs(principal) && r.limitedBy.CheckRunAs(principal)
}
