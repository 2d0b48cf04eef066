// Package permission provides the immutable effective-permission model built
// from merged role descriptors. A Role is constructed once per unique merged
// descriptor set and is safe to share across concurrent requests.
package permission

import "sort"

// Role is the final, immutable, effective permission object used for access
// checks. The check surface here is deliberately small: full privilege
// automata live with the query layer, not in the resolution core.
type Role interface {
	// Names returns the role names the role was built from.
	Names() []string

	// CheckCluster reports whether the named cluster privilege is granted.
	// The request context is consulted only by conditional grants.
	CheckCluster(privilege string, requestCtx map[string]interface{}) bool

	// CheckIndices reports whether privilege is granted over the index.
	CheckIndices(index, privilege string) bool

	// GrantsField reports whether the field on index is visible.
	GrantsField(index, field string) bool

	// CheckApplication reports whether action on resource within the
	// application is granted.
	CheckApplication(application, resource, action string) bool

	// CheckRunAs reports whether the principal may be impersonated.
	CheckRunAs(principal string) bool
}

// simpleRole is the concrete single-level role produced by the merge engine.
type simpleRole struct {
	names       []string
	cluster     *ClusterPermission
	indices     *IndicesPermission
	application *ApplicationPermission
	runAs       *RunAsPermission
}

// NewRole assembles an immutable role from its permission parts. Nil parts
// grant nothing.
func NewRole(
	names []string,
	cluster *ClusterPermission,
	indices *IndicesPermission,
	application *ApplicationPermission,
	runAs *RunAsPermission,
) Role {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	return &simpleRole{
		names:       sorted,
		cluster:     cluster,
		indices:     indices,
		application: application,
		runAs:       runAs,
	}
}

// Empty is the shared role with no privileges.
var Empty Role = &simpleRole{}

func (r *simpleRole) Names() []string {
	return r.names
}

func (r *simpleRole) CheckCluster(privilege string, requestCtx map[string]interface{}) bool {
	return r.cluster.Check(privilege, requestCtx)
}

func (r *simpleRole) CheckIndices(index, privilege string) bool {
	return r.indices.Check(index, privilege)
}

func (r *simpleRole) GrantsField(index, field string) bool {
	return r.indices.GrantsField(index, field)
}

func (r *simpleRole) CheckApplication(application, resource, action string) bool {
	return r.application.Check(application, resource, action)
}

func (r *simpleRole) CheckRunAs(principal string) bool {
	return r.runAs.Check(principal)
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
