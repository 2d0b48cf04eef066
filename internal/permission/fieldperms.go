package permission

// FieldGrantExcludeGroup is one field-level security rule: a set of granted
// field patterns with an optional set of excluded field patterns. A nil or
// empty Grant list means "grant all fields".
type FieldGrantExcludeGroup struct {
	Grant  []string
	Except []string
}

// grants reports whether the group gives access to field.
func (g FieldGrantExcludeGroup) grants(field string) bool {
	granted := len(g.Grant) == 0 || matchAnyPattern(g.Grant, field)
	if !granted {
		return false
	}
	return !matchAnyPattern(g.Except, field)
}

// FieldPermissions holds the field-level security definition of one indices
// group. Merging field permissions across role descriptors is a union of
// grant/exclude groups: a field is visible if any group grants it.
type FieldPermissions struct {
	groups []FieldGrantExcludeGroup
}

// AllFields is the unrestricted field permission set.
var AllFields = FieldPermissions{}

// NewFieldPermissions builds a FieldPermissions from one or more groups.
func NewFieldPermissions(groups ...FieldGrantExcludeGroup) FieldPermissions {
	return FieldPermissions{groups: groups}
}

// Groups returns the grant/exclude groups backing this definition.
func (f FieldPermissions) Groups() []FieldGrantExcludeGroup {
	return f.groups
}

// HasFieldLevelSecurity reports whether any field restriction applies.
func (f FieldPermissions) HasFieldLevelSecurity() bool {
	for _, g := range f.groups {
		grantAll := len(g.Grant) == 0 || (len(g.Grant) == 1 && g.Grant[0] == "*")
		if !grantAll || len(g.Except) > 0 {
			return true
		}
	}
	return false
}

// Grants reports whether field is visible under this definition.
func (f FieldPermissions) Grants(field string) bool {
	if len(f.groups) == 0 {
		return true
	}
	for _, g := range f.groups {
		if g.grants(field) {
			return true
		}
	}
	return false
}

// Union merges two field permission definitions by unioning their groups.
func (f FieldPermissions) Union(other FieldPermissions) FieldPermissions {
	if len(f.groups) == 0 && len(other.groups) == 0 {
		return AllFields
	}
	merged := make([]FieldGrantExcludeGroup, 0, len(f.groups)+len(other.groups))
	merged = append(merged, f.normalized()...)
	merged = append(merged, other.normalized()...)
	return FieldPermissions{groups: merged}
}

// normalized renders an unrestricted definition as an explicit grant-all
// group so the union keeps its "any group grants" semantics.
func (f FieldPermissions) normalized() []FieldGrantExcludeGroup {
	if len(f.groups) == 0 {
		return []FieldGrantExcludeGroup{{Grant: []string{"*"}}}
	}
	return f.groups
}
