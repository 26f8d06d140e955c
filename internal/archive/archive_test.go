package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/compress"
	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/storage"
)

func writeBundle(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, bundle.StorageDir, "avatars", "2024"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.DatabaseFile), []byte("CREATE TABLE todos (id int);\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.StorageDir, "avatars", "2024", "me.png"), bytes.Repeat([]byte{0x89}, 4096), 0o600))
	m := bundle.NewManifest(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "https://abcd.supabase.co", bundle.Include{Storage: true})
	require.NoError(t, bundle.WriteManifest(dir, m))
	return dir
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := writeBundle(t, t.TempDir(), "shop_backup_20240102_030405")
	store := storage.NewLocal(t.TempDir())
	key := bytes.Repeat([]byte{9}, 32)

	a := New(store, Options{Project: "shop", Prefix: "offsite", Compression: compress.TypeZstd, Key: key, ToolVersion: "test"}, zerolog.Nop())
	m, err := a.Push(ctx, src, "op-1")
	require.NoError(t, err)
	assert.Equal(t, "offsite/shop/shop_backup_20240102_030405.tar.zst.enc", m.Key)
	assert.True(t, m.Encryption)
	assert.NotEmpty(t, m.KeyID)
	assert.NotEmpty(t, m.SHA256)
	assert.Equal(t, "https://abcd.supabase.co", m.Manifest.SourceURL)

	_, err = a.Push(ctx, src, "op-2")
	assert.Error(t, err, "pushing the same bundle twice must not overwrite")

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "shop_backup_20240102_030405", list[0].Bundle)

	root := t.TempDir()
	dest, err := a.Pull(ctx, m.Key, root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "shop_backup_20240102_030405"), dest)

	got, err := os.ReadFile(filepath.Join(dest, bundle.StorageDir, "avatars", "2024", "me.png"))
	require.NoError(t, err)
	assert.Len(t, got, 4096)
	summary, err := bundle.Open(dest)
	require.NoError(t, err)
	assert.True(t, summary.Manifest.IncludeStorage)

	_, err = a.Pull(ctx, m.Key, root)
	assert.Error(t, err, "pull must not overwrite an existing bundle")
}

func TestPullWithWrongKey(t *testing.T) {
	ctx := context.Background()
	src := writeBundle(t, t.TempDir(), "backup_20240102_030405")
	store := storage.NewLocal(t.TempDir())

	m, err := New(store, Options{Compression: compress.TypeGzip, Key: bytes.Repeat([]byte{1}, 32)}, zerolog.Nop()).Push(ctx, src, "")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)

	_, err = New(store, Options{Key: bytes.Repeat([]byte{2}, 32)}, zerolog.Nop()).Pull(ctx, m.Key, t.TempDir())
	assert.ErrorIs(t, err, ErrKeyMismatch)

	_, err = New(store, Options{}, zerolog.Nop()).Pull(ctx, m.Key, t.TempDir())
	assert.Error(t, err)
}

func TestPullDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	src := writeBundle(t, t.TempDir(), "backup_20240102_030405")
	base := t.TempDir()
	store := storage.NewLocal(base)
	a := New(store, Options{}, zerolog.Nop())

	m, err := a.Push(ctx, src, "")
	require.NoError(t, err)
	m.SHA256 = "00"
	require.NoError(t, storage.PutManifest(ctx, store, *m))

	root := t.TempDir()
	_, err = a.Pull(ctx, m.Key, root)
	assert.ErrorIs(t, err, ErrChecksum)
	_, statErr := os.Stat(filepath.Join(root, "backup_20240102_030405"))
	assert.True(t, os.IsNotExist(statErr), "a failed pull leaves nothing behind")
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := storage.NewLocal(t.TempDir())
	a := New(store, Options{Project: "shop"}, zerolog.Nop())
	for _, name := range []string{"backup_20240101_000000", "backup_20240102_000000", "backup_20240103_000000"} {
		_, err := a.Push(ctx, writeBundle(t, root, name), "")
		require.NoError(t, err)
	}

	deleted, err := a.Prune(ctx, config.Retention{KeepLast: 1})
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUnpackRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../etc/evil", Mode: 0o600, Size: 1, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	dest := t.TempDir()
	err = Unpack(&buf, dest)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(dest)), "etc", "evil"))
	assert.True(t, os.IsNotExist(statErr))
}
