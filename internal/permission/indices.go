package permission

import "sort"

// IndicesGroup is one merged indices-privilege entry: a set of index name
// patterns, the privileges granted over them, the field-level security that
// applies, and an optional set of document-level security queries. A nil
// Queries slice means document access is unrestricted.
type IndicesGroup struct {
	Indices                []string
	Privileges             []string
	AllowRestrictedIndices bool
	Fields                 FieldPermissions
	Queries                []string
}

// covers reports whether the group's index patterns cover the index name.
func (g IndicesGroup) covers(index string) bool {
	return matchAnyPattern(g.Indices, index)
}

// grantsPrivilege reports whether the group grants the named index privilege.
func (g IndicesGroup) grantsPrivilege(privilege string) bool {
	return privilegeSetCovers(toSet(g.Privileges), privilege)
}

// IndicesPermission is the indices portion of a role: the merged groups for
// both regular and restricted-index grants.
type IndicesPermission struct {
	groups []IndicesGroup
}

// NewIndicesPermission builds an indices permission from merged groups.
func NewIndicesPermission(groups ...IndicesGroup) *IndicesPermission {
	return &IndicesPermission{groups: groups}
}

// Groups returns the merged groups, sorted by their first index pattern for
// deterministic iteration.
func (p *IndicesPermission) Groups() []IndicesGroup {
	out := make([]IndicesGroup, len(p.groups))
	copy(out, p.groups)
	sort.Slice(out, func(i, j int) bool {
		return indexKey(out[i].Indices) < indexKey(out[j].Indices)
	})
	return out
}

func indexKey(indices []string) string {
	sorted := make([]string, len(indices))
	copy(sorted, indices)
	sort.Strings(sorted)
	key := ""
	for _, s := range sorted {
		key += s + "\x00"
	}
	return key
}

// Check reports whether privilege is granted over index by any group.
func (p *IndicesPermission) Check(index, privilege string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.groups {
		if g.covers(index) && g.grantsPrivilege(privilege) {
			return true
		}
	}
	return false
}

// GrantsField reports whether field on index is visible through any group
// that covers the index. Field permissions merge as a union: one grant
// suffices.
func (p *IndicesPermission) GrantsField(index, field string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.groups {
		if g.covers(index) && g.Fields.Grants(field) {
			return true
		}
	}
	return false
}
