package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/platform/platformtest"
)

func TestVerifyCountsAndExpectations(t *testing.T) {
	p := platformtest.New()
	p.AddTable("public", "todos", nil)
	p.AddBucket(platform.Bucket{Name: "avatars"})
	p.AddUser(platform.User{Email: "ada@example.com"})

	dir := t.TempDir()
	m := bundle.NewManifest(time.Now(), "https://x.supabase.co", bundle.Include{Storage: true, Auth: true})
	require.NoError(t, bundle.WriteManifest(dir, m))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, bundle.StorageDir), 0o755))
	require.NoError(t, bundle.WriteJSON(filepath.Join(dir, bundle.StorageDir, bundle.BucketsMetaFile), []platform.Bucket{{Name: "avatars"}, {Name: "docs"}}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.AuthUsersFile), []byte(`{"users":[{"email":"ada@example.com"}]}`), 0o644))

	res := NewVerifier(p.Capabilities("https://y.supabase.co"), zerolog.Nop()).Verify(context.Background(), dir)
	assert.True(t, res.Passed())
	assert.Equal(t, 1, res.Details["table_count"])
	assert.Equal(t, 1, res.Details["bucket_count"])
	assert.Equal(t, 1, res.Details["user_count"])
	assert.Equal(t, 2, res.Details["expected_bucket_count"])
	assert.Equal(t, 1, res.Details["expected_user_count"])
}

func TestVerifyProbesAreIndependent(t *testing.T) {
	p := platformtest.New()
	p.AddTable("public", "todos", nil)
	p.ListBucketsErr = errors.New("storage api 500")
	p.AddUser(platform.User{Email: "ada@example.com"})

	res := NewVerifier(p.Capabilities("https://y.supabase.co"), zerolog.Nop()).Verify(context.Background(), "")
	assert.True(t, res.Database)
	assert.False(t, res.Storage)
	assert.True(t, res.Auth)
	assert.Equal(t, "storage api 500", res.Details["storage_error"])
	assert.NotContains(t, res.Details, "bucket_count")
}

func TestVerifyEmptyTarget(t *testing.T) {
	res := NewVerifier(platformtest.New().Capabilities(""), zerolog.Nop()).Verify(context.Background(), "")
	assert.False(t, res.Database)
	assert.False(t, res.Storage)
	assert.False(t, res.Auth)
	assert.Equal(t, 0, res.Details["table_count"])
}

func TestCompareTables(t *testing.T) {
	src := platformtest.New()
	src.AddTable("public", "todos", nil)
	src.AddTable("public", "profiles", nil)
	src.AddTable("public", "orders", nil)
	dst := platformtest.New()
	dst.AddTable("public", "todos", nil)
	dst.AddTable("public", "scratch", nil)

	c, err := CompareTables(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "profiles"}, c.Missing)
	assert.Equal(t, []string{"scratch"}, c.Extra)
	assert.Equal(t, 3, c.SourceCount)
	assert.Equal(t, 2, c.TargetCount)
	assert.False(t, c.Identical())

	dst.ListTablesErr = errors.New("timeout")
	_, err = CompareTables(context.Background(), src, dst)
	assert.ErrorContains(t, err, "target tables")
}
