// Package types provides shared types for the role resolution core
package types

import (
	"fmt"
	"sort"
	"strings"
)

// RoleDescriptor is an externally authored grant of privileges, as stored or
// configured. Descriptors are read-only inputs to role merging; they are
// parsed from role files, the stored-roles table, or API key metadata.
type RoleDescriptor struct {
	Name               string                           `json:"name" yaml:"name"`
	Cluster            []string                         `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	ConditionalCluster []ConditionalClusterPrivilege    `json:"conditional_cluster,omitempty" yaml:"conditional_cluster,omitempty"`
	Indices            []IndicesPrivileges              `json:"indices,omitempty" yaml:"indices,omitempty"`
	Applications       []ApplicationResourcePrivileges  `json:"applications,omitempty" yaml:"applications,omitempty"`
	RunAs              []string                         `json:"run_as,omitempty" yaml:"run_as,omitempty"`
	Metadata           map[string]interface{}           `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ConditionalClusterPrivilege grants cluster privileges that only apply when
// a condition evaluates to true against the request context. The condition is
// a CEL expression over a `request` map.
type ConditionalClusterPrivilege struct {
	Privileges []string `json:"privileges" yaml:"privileges"`
	Condition  string   `json:"condition" yaml:"condition"`
}

// IndicesPrivileges grants privileges over a set of index name patterns,
// optionally restricted by field-level security (Grant/Except) and a
// document-level security query.
type IndicesPrivileges struct {
	Names                  []string `json:"names" yaml:"names"`
	Privileges             []string `json:"privileges" yaml:"privileges"`
	Grant                  []string `json:"field_security_grant,omitempty" yaml:"field_security_grant,omitempty"`
	Except                 []string `json:"field_security_except,omitempty" yaml:"field_security_except,omitempty"`
	Query                  string   `json:"query,omitempty" yaml:"query,omitempty"`
	AllowRestrictedIndices bool     `json:"allow_restricted_indices,omitempty" yaml:"allow_restricted_indices,omitempty"`
}

// ApplicationResourcePrivileges grants application privileges over a set of
// resource patterns.
type ApplicationResourcePrivileges struct {
	Application string   `json:"application" yaml:"application"`
	Privileges  []string `json:"privileges" yaml:"privileges"`
	Resources   []string `json:"resources" yaml:"resources"`
}

// ApplicationPrivilege is a resolved application privilege as returned by the
// privilege store: a named privilege expanded into the concrete actions it
// covers.
type ApplicationPrivilege struct {
	Application string   `json:"application"`
	Name        string   `json:"name"`
	Actions     []string `json:"actions"`
}

// String implements fmt.Stringer for log output.
func (d *RoleDescriptor) String() string {
	return fmt.Sprintf("RoleDescriptor[%s]", d.Name)
}

// SortedNames returns the sorted, de-duplicated names of a descriptor set.
// Used for stable log output and cache key construction.
func SortedNames(descriptors []RoleDescriptor) []string {
	seen := make(map[string]struct{}, len(descriptors))
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// NamesString renders a name list as a comma-delimited string for log labels.
func NamesString(names []string) string {
	return strings.Join(names, ",")
}
