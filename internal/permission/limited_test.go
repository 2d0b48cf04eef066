package permission

import "testing"

func TestLimitedRole_Intersection(t *testing.T) {
	base := NewRole(
		[]string{"assigned"},
		NewClusterPermission([]string{"monitor", "manage_ml"}, nil),
		NewIndicesPermission(IndicesGroup{
			Indices:    []string{"logs-*", "metrics-*"},
			Privileges: []string{"read", "write"},
			Fields:     AllFields,
		}),
		nil,
		NewRunAsPermission([]string{"*"}),
	)
	limitedBy := NewRole(
		[]string{"owner"},
		NewClusterPermission([]string{"monitor"}, nil),
		NewIndicesPermission(IndicesGroup{
			Indices:    []string{"logs-*"},
			Privileges: []string{"read"},
			Fields:     AllFields,
		}),
		nil,
		nil,
	)

	role := NewLimitedRole(base, limitedBy)

	if !role.CheckCluster("monitor", nil) {
		t.Error("monitor is granted by both sides")
	}
	if role.CheckCluster("manage_ml", nil) {
		t.Error("manage_ml is missing from the limiting role")
	}
	if !role.CheckIndices("logs-app", "read") {
		t.Error("read on logs is granted by both sides")
	}
	if role.CheckIndices("logs-app", "write") {
		t.Error("write is missing from the limiting role")
	}
	if role.CheckIndices("metrics-app", "read") {
		t.Error("metrics is missing from the limiting role")
	}
	if role.CheckRunAs("anyone") {
		t.Error("run-as is missing from the limiting role")
	}
	if got := role.Names(); len(got) != 1 || got[0] != "assigned" {
		t.Errorf("Names should come from the primary role, got %v", got)
	}
}

func TestLimitedRole_FieldIntersection(t *testing.T) {
	base := NewRole(
		[]string{"assigned"},
		nil,
		NewIndicesPermission(IndicesGroup{
			Indices:    []string{"docs"},
			Privileges: []string{"read"},
			Fields:     NewFieldPermissions(FieldGrantExcludeGroup{Grant: []string{"a.*", "b.*"}}),
		}),
		nil,
		nil,
	)
	limitedBy := NewRole(
		[]string{"owner"},
		nil,
		NewIndicesPermission(IndicesGroup{
			Indices:    []string{"docs"},
			Privileges: []string{"read"},
			Fields:     NewFieldPermissions(FieldGrantExcludeGroup{Grant: []string{"b.*"}}),
		}),
		nil,
		nil,
	)

	role := NewLimitedRole(base, limitedBy)
	if role.GrantsField("docs", "a.x") {
		t.Error("a.x is not visible through the limiting role")
	}
	if !role.GrantsField("docs", "b.x") {
		t.Error("b.x is visible through both roles")
	}
}

func TestNewLimitedRole_NilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic for nil limiting role")
		}
	}()
	NewLimitedRole(Superuser, nil)
}
