package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/config"
)

func TestLocalPutGetList(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())

	require.NoError(t, l.Put(ctx, "shop/b1.tar.zst", bytes.NewReader([]byte("archive")), -1, nil))
	require.NoError(t, PutManifest(ctx, l, ArchiveManifest{Key: "shop/b1.tar.zst", Bundle: "b1", Manifest: &bundle.Manifest{Version: "1.1"}}))

	rc, err := l.Get(ctx, "shop/b1.tar.zst")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "archive", string(data))

	infos, err := l.List(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.False(t, infos[0].IsManifest)
	assert.True(t, infos[1].IsManifest)

	m, err := GetManifest(ctx, l, "shop/b1.tar.zst")
	require.NoError(t, err)
	assert.Equal(t, "b1", m.Bundle)
	assert.Equal(t, "1.1", m.Manifest.Version)
}

func TestLocalMissingAndInvalidKeys(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())

	_, err := l.Get(ctx, "nope.tar")
	assert.ErrorIs(t, err, ErrNotExist)
	ok, err := l.Exists(ctx, "nope.tar")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, l.Put(ctx, "../escape.tar", bytes.NewReader(nil), 0, nil))

	infos, err := l.List(ctx, "never-created")
	require.NoError(t, err)
	assert.Empty(t, infos)
	assert.NoError(t, l.Delete(ctx, "nope.tar"))
}

func TestSelectRetention(t *testing.T) {
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	archives := []ObjectInfo{}
	for i := 0; i < 5; i++ {
		archives = append(archives, ObjectInfo{Key: string(rune('a' + i)), Size: 10, Modified: now.AddDate(0, 0, -10*i)})
	}

	keys := func(objs []ObjectInfo) []string {
		out := []string{}
		for _, o := range objs {
			out = append(out, o.Key)
		}
		return out
	}

	assert.Empty(t, Select(archives, config.Retention{}, now))
	assert.Equal(t, []string{"e", "d"}, keys(Select(archives, config.Retention{KeepLast: 3}, now)))
	assert.Equal(t, []string{"e", "d", "c"}, keys(Select(archives, config.Retention{KeepDays: 15}, now)))
	assert.Equal(t, []string{"e", "d"}, keys(Select(archives, config.Retention{KeepDays: 15, KeepLast: 3}, now)))
	assert.Equal(t, []string{"e", "d"}, keys(Select(archives, config.Retention{MaxBytes: 30}, now)))
}

func TestPruneRemovesManifests(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocal(dir)
	old := time.Now().AddDate(0, 0, -30)
	for _, key := range []string{"p/old.tar", "p/new.tar"} {
		require.NoError(t, l.Put(ctx, key, bytes.NewReader([]byte("x")), 1, nil))
		require.NoError(t, PutManifest(ctx, l, ArchiveManifest{Key: key}))
	}
	for _, name := range []string{"old.tar", "old.tar" + ManifestSuffix} {
		require.NoError(t, os.Chtimes(filepath.Join(dir, "p", name), old, old))
	}

	deleted, err := Prune(ctx, l, "p", config.Retention{KeepDays: 7}, time.Now())
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "p/old.tar", deleted[0].Key)

	infos, err := l.List(ctx, "p")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.ArchiveConfig{Local: config.LocalStore{Path: t.TempDir()}})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(config.ArchiveConfig{Backend: "local"})
	assert.Error(t, err)
	_, err = New(config.ArchiveConfig{Backend: "s3", S3: config.S3Store{Endpoint: "play.min.io"}})
	assert.Error(t, err, "bucket is required")
	_, err = New(config.ArchiveConfig{Backend: "gcs"})
	assert.Error(t, err)
}
