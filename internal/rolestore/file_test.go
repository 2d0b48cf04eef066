package rolestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRolesFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestFileRolesProvider_LoadAndRetrieve(t *testing.T) {
	dir := t.TempDir()
	writeRolesFile(t, dir, "roles.yaml", `
ops_viewer:
  cluster: [monitor]
  indices:
    - names: ["logs-*"]
      privileges: [read]
`)
	writeRolesFile(t, dir, "extra.json", `{"auditor":{"cluster":["monitor"]}}`)
	writeRolesFile(t, dir, "notes.txt", "ignored")

	p, err := NewFileRolesProvider(dir, nil)
	require.NoError(t, err)
	require.Equal(t, 2, p.Count())

	var result RoleRetrievalResult
	p.RetrieveRoles(context.Background(), []string{"ops_viewer", "missing"}, func(r RoleRetrievalResult) {
		result = r
	})
	require.NoError(t, result.Err)
	require.Len(t, result.Descriptors, 1)
	require.Equal(t, "ops_viewer", result.Descriptors[0].Name)
	require.Equal(t, []string{"monitor"}, result.Descriptors[0].Cluster)
}

func TestFileRolesProvider_SkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeRolesFile(t, dir, "good.yaml", `good_role: {cluster: [monitor]}`)
	writeRolesFile(t, dir, "bad.yaml", "::: not yaml :::")

	p, err := NewFileRolesProvider(dir, nil)
	require.NoError(t, err)
	require.Equal(t, 1, p.Count(), "a bad file must not take the rest down")
}

func TestFileRolesProvider_ReloadReportsChangedNames(t *testing.T) {
	dir := t.TempDir()
	writeRolesFile(t, dir, "roles.yaml", `
keep: {cluster: [monitor]}
change: {cluster: [monitor]}
remove: {cluster: [monitor]}
`)

	p, err := NewFileRolesProvider(dir, nil)
	require.NoError(t, err)

	var notified []string
	p.OnRolesChanged(func(names []string) { notified = names })

	writeRolesFile(t, dir, "roles.yaml", `
keep: {cluster: [monitor]}
change: {cluster: [manage_ml]}
added: {cluster: [monitor]}
`)

	changed, err := p.Reload()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"change", "remove", "added"}, changed)
	require.ElementsMatch(t, changed, notified)
}
