package permission

import (
	"testing"

	"github.com/authz-engine/roles-core/pkg/types"
)

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"logs-*", "logs-app", true},
		{"logs-*", "metrics-app", false},
		{"a*c", "abc", true},
		{"a*c", "ac", true},
		{"a*c", "ab", false},
		{"**", "x", true},
		{"", "", true},
		{"", "x", false},
		{"exact", "exact", true},
	}
	for _, tc := range cases {
		if got := MatchPattern(tc.pattern, tc.s); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tc.pattern, tc.s, got, tc.want)
		}
	}
}

func TestFieldPermissions_Grants(t *testing.T) {
	unrestricted := AllFields
	if !unrestricted.Grants("any.field") {
		t.Error("Unrestricted permissions should grant every field")
	}

	restricted := NewFieldPermissions(FieldGrantExcludeGroup{
		Grant:  []string{"public.*"},
		Except: []string{"public.secret"},
	})
	if !restricted.Grants("public.name") {
		t.Error("public.name should be granted")
	}
	if restricted.Grants("public.secret") {
		t.Error("excepted field should not be granted")
	}
	if restricted.Grants("private.name") {
		t.Error("ungranted field should not be granted")
	}
}

func TestFieldPermissions_UnionIsGrowOnly(t *testing.T) {
	a := NewFieldPermissions(FieldGrantExcludeGroup{Grant: []string{"a.*"}})
	b := NewFieldPermissions(FieldGrantExcludeGroup{Grant: []string{"b.*"}})
	union := a.Union(b)

	for _, field := range []string{"a.x", "b.y"} {
		if !union.Grants(field) {
			t.Errorf("Union should grant %s", field)
		}
	}
	if union.Grants("c.z") {
		t.Error("Union should not grant fields neither side grants")
	}

	// One unrestricted side makes the union unrestricted.
	withAll := a.Union(AllFields)
	if !withAll.Grants("c.z") {
		t.Error("Union with unrestricted side should grant every field")
	}
}

func TestConditionalClusterPrivilege(t *testing.T) {
	c, err := CompileConditionalClusterPrivilege(
		[]string{"manage_own_api_key"},
		`request["owner"] == true`,
	)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if !c.Check("manage_own_api_key", map[string]interface{}{"owner": true}) {
		t.Error("Condition should match an owning request")
	}
	if c.Check("manage_own_api_key", map[string]interface{}{"owner": false}) {
		t.Error("Condition should not match a non-owning request")
	}
	if c.Check("manage_api_key", map[string]interface{}{"owner": true}) {
		t.Error("Unrelated privilege should not match")
	}
	// A missing key makes evaluation fail; that is a non-match, not an error.
	if c.Check("manage_own_api_key", map[string]interface{}{}) {
		t.Error("Evaluation errors must be treated as non-match")
	}
}

func TestCompileConditionalClusterPrivilege_InvalidCondition(t *testing.T) {
	if _, err := CompileConditionalClusterPrivilege([]string{"all"}, `request[`); err == nil {
		t.Fatal("Expected a compile error for a malformed condition")
	}
}

func TestClusterPermission_Check(t *testing.T) {
	p := NewClusterPermission([]string{"monitor", "manage_ml"}, nil)
	if !p.Check("monitor", nil) {
		t.Error("monitor should be granted")
	}
	if p.Check("manage_security", nil) {
		t.Error("manage_security should not be granted")
	}

	all := NewClusterPermission([]string{"all"}, nil)
	if !all.Check("anything", nil) {
		t.Error(`"all" should cover every privilege`)
	}
}

func TestIndicesPermission_Check(t *testing.T) {
	p := NewIndicesPermission(IndicesGroup{
		Indices:    []string{"logs-*"},
		Privileges: []string{"read"},
		Fields:     AllFields,
	})
	if !p.Check("logs-app", "read") {
		t.Error("read on logs-app should be granted")
	}
	if p.Check("logs-app", "write") {
		t.Error("write should not be granted")
	}
	if p.Check("metrics-app", "read") {
		t.Error("uncovered index should not be granted")
	}
}

func TestApplicationPermission_Check(t *testing.T) {
	p := NewApplicationPermission(ApplicationGroup{
		Application: "myapp",
		Resources:   []string{"space/*"},
		Privileges: []types.ApplicationPrivilege{
			{Application: "myapp", Name: "read", Actions: []string{"data:read/*"}},
		},
	})
	if !p.Check("myapp", "space/default", "data:read/search") {
		t.Error("matching action should be granted")
	}
	if !p.Check("myapp", "space/default", "read") {
		t.Error("privilege name should match as an action")
	}
	if p.Check("myapp", "other/default", "data:read/search") {
		t.Error("uncovered resource should not be granted")
	}
	if p.Check("otherapp", "space/default", "data:read/search") {
		t.Error("other applications should not be granted")
	}
}

func TestRunAsPermission(t *testing.T) {
	empty := NewRunAsPermission(nil)
	if empty.Check("anyone") {
		t.Error("Empty run-as must permit nothing")
	}
	p := NewRunAsPermission([]string{"svc-*"})
	if !p.Check("svc-batch") {
		t.Error("svc-batch should be permitted")
	}
	if p.Check("alice") {
		t.Error("alice should not be permitted")
	}
}

func TestSuperuserRole(t *testing.T) {
	if !Superuser.CheckCluster("manage_security", nil) {
		t.Error("Superuser grants every cluster privilege")
	}
	if !Superuser.CheckIndices(".security", "all") {
		t.Error("Superuser covers restricted indices")
	}
	if !Superuser.CheckRunAs("anyone") {
		t.Error("Superuser may run as anyone")
	}
}

func TestEmptyRole(t *testing.T) {
	if Empty.CheckCluster("monitor", nil) {
		t.Error("Empty role grants nothing")
	}
	if Empty.CheckIndices("logs", "read") {
		t.Error("Empty role grants nothing")
	}
}
