package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	when := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	if got := Name("", when); got != "backup_20250309_140507" {
		t.Fatalf("unexpected name: %s", got)
	}
	if got := Name("acme prod", when); got != "acme_prod_backup_20250309_140507" {
		t.Fatalf("unexpected name: %s", got)
	}
	parsed, ok := NameTime("acme_prod_backup_20250309_140507")
	if !ok || !parsed.Equal(when) {
		t.Fatalf("unexpected parsed time: %v %v", parsed, ok)
	}
	if _, ok := NameTime("scratch"); ok {
		t.Fatalf("expected no timestamp")
	}
}

func writeBundle(t *testing.T, root, name string, m Manifest) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, WriteManifest(dir, m))
	return dir
}

func TestListNewestFirstAndManifestAuthoritative(t *testing.T) {
	root := t.TempDir()
	m := NewManifest(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "https://abc.supabase.co", Include{Storage: true})

	writeBundle(t, root, "backup_20250101_000000", m)
	writeBundle(t, root, "zeta_backup_20250301_120000", m)
	writeBundle(t, root, "alpha_backup_20250201_120000", m)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "backup_20251231_000000"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	list, err := List(root)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "zeta_backup_20250301_120000", list[0].Name)
	assert.Equal(t, "alpha_backup_20250201_120000", list[1].Name)
	assert.Equal(t, "backup_20250101_000000", list[2].Name)
	assert.True(t, list[0].Manifest.IncludeStorage)
	assert.Positive(t, list[0].Size)

	latest, err := Latest(root)
	require.NoError(t, err)
	assert.Equal(t, list[0].Path, latest.Path)
}

func TestListMissingRoot(t *testing.T) {
	list, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = Latest(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadManifestCompatibility(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"timestamp": "2024-06-01T10:11:12.123456", "supabase_url": "https://x.supabase.co", "include_storage": true}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(legacy), 0o644))

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.0", m.Version)
	assert.True(t, m.IncludeStorage)
	assert.False(t, m.IncludeAuth)
	ts, err := m.Time()
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	future := `{"timestamp": "2030-01-01T00:00:00Z", "backup_version": "2.0"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(future), 0o644))
	_, err = ReadManifest(dir)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = Open(t.TempDir())
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestReadRoleStatements(t *testing.T) {
	path := filepath.Join(t.TempDir(), RolesSQLFile)
	sql := "-- roles\nCREATE ROLE \"app\" WITH LOGIN;\n\nCREATE ROLE \"reader\" WITH NOLOGIN;\n"
	require.NoError(t, os.WriteFile(path, []byte(sql), 0o644))

	stmts, err := ReadRoleStatements(path)
	require.NoError(t, err)
	assert.Equal(t, []string{`CREATE ROLE "app" WITH LOGIN;`, `CREATE ROLE "reader" WITH NOLOGIN;`}, stmts)
}
