package permission

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celEnv is the shared CEL environment used to compile conditional cluster
// privilege predicates. Conditions see a single `request` map variable.
var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func conditionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// ConditionalClusterPrivilege is a compiled cluster privilege grant that only
// applies when its predicate evaluates to true for the request context. Each
// conditional privilege retains its own predicate; they are never merged.
type ConditionalClusterPrivilege struct {
	privileges map[string]struct{}
	condition  string
	program    cel.Program
}

// CompileConditionalClusterPrivilege compiles the CEL condition of a
// descriptor-level conditional cluster privilege.
func CompileConditionalClusterPrivilege(privileges []string, condition string) (*ConditionalClusterPrivilege, error) {
	env, err := conditionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create condition environment: %w", err)
	}
	ast, issues := env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition compilation failed: %w", issues.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition program creation failed: %w", err)
	}
	return &ConditionalClusterPrivilege{
		privileges: toSet(privileges),
		condition:  condition,
		program:    prog,
	}, nil
}

// Condition returns the source expression of the predicate.
func (c *ConditionalClusterPrivilege) Condition() string {
	return c.condition
}

// Check reports whether the conditional grant covers privilege for the given
// request context. Evaluation errors are treated as a non-match.
func (c *ConditionalClusterPrivilege) Check(privilege string, requestCtx map[string]interface{}) bool {
	if !privilegeSetCovers(c.privileges, privilege) {
		return false
	}
	if requestCtx == nil {
		requestCtx = map[string]interface{}{}
	}
	out, _, err := c.program.Eval(map[string]interface{}{"request": requestCtx})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}

// ClusterPermission is the cluster-level portion of a role: a set of granted
// privilege names plus zero or more conditional grants.
type ClusterPermission struct {
	privileges  map[string]struct{}
	conditional []*ConditionalClusterPrivilege
}

// NewClusterPermission builds a cluster permission from privilege names and
// compiled conditional privileges.
func NewClusterPermission(privileges []string, conditional []*ConditionalClusterPrivilege) *ClusterPermission {
	return &ClusterPermission{
		privileges:  toSet(privileges),
		conditional: conditional,
	}
}

// Privileges returns the unconditional privilege names.
func (p *ClusterPermission) Privileges() []string {
	return setToSortedSlice(p.privileges)
}

// Check reports whether the permission covers the named cluster privilege.
// The request context is only consulted by conditional grants.
func (p *ClusterPermission) Check(privilege string, requestCtx map[string]interface{}) bool {
	if p == nil {
		return false
	}
	if privilegeSetCovers(p.privileges, privilege) {
		return true
	}
	for _, c := range p.conditional {
		if c.Check(privilege, requestCtx) {
			return true
		}
	}
	return false
}

// privilegeSetCovers applies the privilege-name wildcard rules: "all" and
// pattern entries cover any matching privilege name.
func privilegeSetCovers(set map[string]struct{}, privilege string) bool {
	if _, ok := set["all"]; ok {
		return true
	}
	if _, ok := set[privilege]; ok {
		return true
	}
	for p := range set {
		if matchPattern(p, privilege) {
			return true
		}
	}
	return false
}
