package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/restore"
)

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{
		Project: config.ProjectConfig{Name: "shop", DBURL: "postgres://file"},
		Restore: config.RestoreConfig{Mode: "MERGE"},
		Archive: config.ArchiveConfig{Backend: "Local", Compression: "ZSTD"},
	}
	applyOverrides(cfg, &rootFlags{LogLevel: "debug"}, &overrideFlags{
		DBURL:             "postgres://flag",
		TargetDBURL:       "postgres://target",
		ArchiveEncryption: "1",
		EncryptionKey:     "k",
		AllowMissingTools: true,
	})

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.True(t, cfg.Global.AllowMissingTools)
	assert.Equal(t, "shop", cfg.Project.Name)
	assert.Equal(t, "postgres://flag", cfg.Project.DBURL)
	assert.Equal(t, "postgres://target", cfg.TargetProject().DBURL)
	assert.True(t, cfg.Archive.Encryption)
	assert.Equal(t, "k", cfg.Archive.EncryptionKey)
	assert.Equal(t, "merge", cfg.Restore.Mode)
	assert.Equal(t, "local", cfg.Archive.Backend)
	assert.Equal(t, "zstd", cfg.Archive.Compression)
}

func TestRestoreFlagsApply(t *testing.T) {
	noAuth, noRoles, noStorage := true, true, false
	f := &restoreFlags{skip: map[string]*bool{"auth": &noAuth, "roles": &noRoles, "storage": &noStorage}}
	r := restore.AllResources()
	f.apply(&r)

	assert.False(t, r.Auth)
	assert.False(t, r.Roles)
	assert.True(t, r.Storage)
	assert.True(t, r.Database)
}

func TestStdinConfirmer(t *testing.T) {
	var out bytes.Buffer
	c := stdinConfirmer(strings.NewReader("YES\nno\n"), &out)

	ok, err := c.Confirm(context.Background(), restore.ModeForce, restore.ModeForce.Warning())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "force mode drops")

	ok, err = c.Confirm(context.Background(), restore.ModeClean, restore.ModeClean.Warning())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Confirm(context.Background(), restore.ModeClean, "")
	require.NoError(t, err)
	assert.False(t, ok, "end of input declines")
}

func TestIncludes(t *testing.T) {
	assert.Equal(t, "database", includes(false, false, false))
	assert.Equal(t, "database,storage,edge_functions", includes(true, false, true))
}

func TestWriteBundleList(t *testing.T) {
	var out bytes.Buffer
	err := writeBundleList(&out, []bundle.Summary{
		{
			Name: "shop_backup_20240102_030405",
			Size: 2048,
			Manifest: bundle.Manifest{
				Timestamp:      "2024-01-02T03:04:05",
				SourceURL:      "https://abcd.supabase.co",
				IncludeStorage: true,
				IncludeAuth:    true,
			},
		},
		{Name: "backup_legacy", Manifest: bundle.Manifest{Timestamp: "yesterday"}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"NAME", "CREATED", "SIZE", "SOURCE", "INCLUDES"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{
		"shop_backup_20240102_030405", "2024-01-02T03:04:05Z", "2.0", "kB",
		"https://abcd.supabase.co", "database,storage,auth",
	}, strings.Fields(lines[1]))
	assert.Contains(t, lines[2], "yesterday", "an unparseable timestamp is printed as stored")
}
