package permission

import "github.com/authz-engine/roles-core/pkg/types"

// ApplicationGroup grants a set of resolved application privileges over a
// set of resource patterns within one application.
type ApplicationGroup struct {
	Application string
	Resources   []string
	Privileges  []types.ApplicationPrivilege
}

// ApplicationPermission is the application portion of a role.
type ApplicationPermission struct {
	groups []ApplicationGroup
}

// NewApplicationPermission builds an application permission from groups.
func NewApplicationPermission(groups ...ApplicationGroup) *ApplicationPermission {
	return &ApplicationPermission{groups: groups}
}

// Groups returns the underlying groups.
func (p *ApplicationPermission) Groups() []ApplicationGroup {
	return p.groups
}

// Check reports whether action on resource within application is granted.
// A privilege covers an action when one of its action patterns matches or
// its name equals the action.
func (p *ApplicationPermission) Check(application, resource, action string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.groups {
		if g.Application != application && !matchPattern(g.Application, application) {
			continue
		}
		if !matchAnyPattern(g.Resources, resource) {
			continue
		}
		for _, priv := range g.Privileges {
			if priv.Name == action || matchAnyPattern(priv.Actions, action) {
				return true
			}
		}
	}
	return false
}

// RunAsPermission is the run-as portion of a role: the principal name
// patterns the owner may impersonate. An empty pattern set permits nothing.
type RunAsPermission struct {
	patterns []string
}

// NewRunAsPermission builds a run-as permission from name patterns.
func NewRunAsPermission(patterns []string) *RunAsPermission {
	return &RunAsPermission{patterns: patterns}
}

// Patterns returns the granted run-as name patterns.
func (p *RunAsPermission) Patterns() []string {
	if p == nil {
		return nil
	}
	return p.patterns
}

// Check reports whether the principal name may be impersonated.
func (p *RunAsPermission) Check(principal string) bool {
	if p == nil {
		return false
	}
	return matchAnyPattern(p.patterns, principal)
}
