package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/metrics"
	"github.com/rowjay/supa-backup/internal/notify"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/platform/platformtest"
	"github.com/rowjay/supa-backup/internal/project"
	"github.com/rowjay/supa-backup/internal/restore"
)

const (
	sourceDB = "postgres://source"
	targetDB = "postgres://target"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) last(t *testing.T) notify.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

type fixture struct {
	app    *App
	events *recorder
	src    *platformtest.Project
	dst    *platformtest.Project
	opened []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	cfg := &config.Config{
		Global:  config.GlobalConfig{LockFile: filepath.Join(tmp, "sbu.lock")},
		Project: config.ProjectConfig{Name: "shop", URL: "https://srcref.supabase.co", DBURL: sourceDB},
		Target:  config.ProjectConfig{URL: "https://dstref.supabase.co", DBURL: targetDB},
		Backup: config.BackupConfig{
			Dir:            filepath.Join(tmp, "backups"),
			IncludeStorage: true,
			IncludeAuth:    true,
			TableJSON:      true,
			RetryCount:     1,
		},
		Restore: config.RestoreConfig{Mode: "merge", Database: true, Storage: true, Auth: true, Roles: true, Realtime: true, Webhooks: true},
		Archive: config.ArchiveConfig{
			Backend:     "local",
			Local:       config.LocalStore{Path: filepath.Join(tmp, "archives")},
			Compression: "zstd",
			Retention:   config.Retention{KeepLast: 5},
		},
		Functions: config.FunctionsConfig{StagingDir: filepath.Join(tmp, "supabase", "functions")},
	}

	src := platformtest.New()
	src.AddTable("public", "todos", []map[string]any{{"id": 1.0, "title": "ship"}})
	src.AddTable("public", "profiles", []map[string]any{{"id": 1.0}})
	src.AddBucket(platform.Bucket{Name: "avatars"})
	src.PutObject("avatars", "me.png", []byte("png"))
	src.AddUser(platform.User{Email: "ada@example.com"})

	f := &fixture{events: &recorder{}, src: src, dst: platformtest.New()}
	f.app = New(cfg, zerolog.Nop(), f.events, nil)
	f.app.Now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	f.app.Open = func(_ context.Context, p config.ProjectConfig, _ project.Options) (platform.Capabilities, func(), error) {
		f.opened = append(f.opened, p.DBURL)
		switch p.DBURL {
		case sourceDB:
			return f.src.Capabilities(p.URL), func() {}, nil
		case targetDB:
			return f.dst.Capabilities(p.URL), func() {}, nil
		}
		return platform.Capabilities{}, nil, errors.New("unknown project")
	}
	return f
}

func TestBackupWritesBundleAndArchives(t *testing.T) {
	f := newFixture(t)
	f.app.Cfg.Backup.Archive = true

	res, err := f.app.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.app.Cfg.Backup.Dir, "shop_backup_20250201_120000"), res.Path)
	assert.Equal(t, "shop", res.Manifest.ProjectName)
	require.NotNil(t, res.Archive)
	assert.Equal(t, "shop/shop_backup_20250201_120000.tar.zst", res.Archive.Key)
	_, err = os.Stat(filepath.Join(f.app.Cfg.Archive.Local.Path, res.Archive.Key))
	require.NoError(t, err)

	event := f.events.last(t)
	assert.Equal(t, "backup", event.Type)
	assert.Equal(t, "shop", event.Project)
	assert.Equal(t, "shop_backup_20250201_120000", event.Bundle)
	assert.Equal(t, res.Archive.Key, event.Key)
	assert.Equal(t, "succeeded", event.Resources["database"])
	status := metrics.StatusFor(nil, &res.Report, false)
	assert.Equal(t, status, event.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.app.Metrics.OperationsTotal.WithLabelValues("backup", "shop", status)))

	archives, err := f.app.ArchiveList(context.Background())
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, "shop_backup_20250201_120000", archives[0].Bundle)
}

func TestArchivePullRecordsOperation(t *testing.T) {
	f := newFixture(t)
	f.app.Cfg.Backup.Archive = true
	res, err := f.app.Backup(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(res.Path))

	path, err := f.app.ArchivePull(context.Background(), res.Archive.Key)
	require.NoError(t, err)
	assert.Equal(t, res.Path, path)

	event := f.events.last(t)
	assert.Equal(t, "archive_pull", event.Type)
	assert.Equal(t, metrics.StatusSuccess, event.Status)
	assert.Equal(t, res.Archive.Key, event.Key)
	assert.Equal(t, "shop_backup_20250201_120000", event.Bundle)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.app.Metrics.OperationsTotal.WithLabelValues("archive_pull", "shop", metrics.StatusSuccess)))

	_, err = f.app.ArchivePull(context.Background(), res.Archive.Key)
	require.Error(t, err, "an existing bundle is never overwritten")
	assert.Equal(t, metrics.StatusFailure, f.events.last(t).Status)
}

func TestBackupOutsideWindow(t *testing.T) {
	f := newFixture(t)
	f.app.Cfg.Schedule = config.ScheduleConfig{WindowStart: "01:00", WindowEnd: "02:00", Timezone: "UTC"}

	_, err := f.app.Backup(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.opened, "nothing is opened outside the window")

	event := f.events.last(t)
	assert.Equal(t, metrics.StatusFailure, event.Status)
	assert.Contains(t, event.Error, "window")
}

func TestBackupRefusesEncryptionWithoutKey(t *testing.T) {
	f := newFixture(t)
	f.app.Cfg.Backup.Archive = true
	f.app.Cfg.Archive.Encryption = true

	_, err := f.app.Backup(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.opened)
}

func TestRestoreLatestIntoTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Backup(context.Background())
	require.NoError(t, err)

	req, err := f.app.DefaultRestoreRequest()
	require.NoError(t, err)
	req.Latest = true
	req.Confirmed = true

	res, err := f.app.Restore(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, restore.ModeMerge, res.Mode)
	assert.Equal(t, []string{"profiles", "todos"}, f.dst.TableNames("public"))
	assert.Equal(t, []string{"avatars"}, f.dst.BucketNames())
	assert.Equal(t, []string{sourceDB, targetDB}, f.opened)

	event := f.events.last(t)
	assert.Equal(t, "restore", event.Type)
	assert.Equal(t, "merge", event.Mode)
	assert.Equal(t, "shop_backup_20250201_120000", event.Bundle)
}

func TestRestoreDeclined(t *testing.T) {
	f := newFixture(t)
	res, err := f.app.Backup(context.Background())
	require.NoError(t, err)

	var warning string
	f.app.Confirm = restore.ConfirmFunc(func(_ context.Context, _ restore.Mode, w string) (bool, error) {
		warning = w
		return false, nil
	})
	req, err := f.app.DefaultRestoreRequest()
	require.NoError(t, err)
	req.Bundle = filepath.Base(res.Path)

	out, err := f.app.Restore(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, out.Cancelled)
	assert.NotEmpty(t, warning)
	assert.Empty(t, f.dst.TableNames("public"))
	assert.Equal(t, metrics.StatusCancelled, f.events.last(t).Status)
}

func TestRestoreWithoutBundle(t *testing.T) {
	f := newFixture(t)
	req, err := f.app.DefaultRestoreRequest()
	require.NoError(t, err)
	req.Confirmed = true

	_, err = f.app.Restore(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, f.opened)
}

func TestCompare(t *testing.T) {
	f := newFixture(t)
	f.dst.AddTable("public", "todos", nil)
	f.dst.AddTable("public", "legacy", nil)

	cmp, err := f.app.Compare(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"profiles"}, cmp.Missing)
	assert.Equal(t, []string{"legacy"}, cmp.Extra)
	assert.False(t, cmp.Identical())
}

func TestVerifyAgainstBundle(t *testing.T) {
	f := newFixture(t)
	res, err := f.app.Backup(context.Background())
	require.NoError(t, err)

	out, err := f.app.Verify(context.Background(), filepath.Base(res.Path))
	require.NoError(t, err)
	assert.False(t, out.Database, "target is still empty")
	assert.Equal(t, 1, out.Details["expected_user_count"])
	assert.Equal(t, 1, out.Details["expected_bucket_count"])
}

func TestBundlePath(t *testing.T) {
	f := newFixture(t)
	p, err := f.app.BundlePath("backup_20250101_000000")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.app.Cfg.Backup.Dir, "backup_20250101_000000"), p)

	p, err = f.app.BundlePath("./elsewhere/backup_20250101_000000")
	require.NoError(t, err)
	assert.Equal(t, "./elsewhere/backup_20250101_000000", p)

	_, err = f.app.BundlePath("..")
	assert.Error(t, err)
	_, err = f.app.BundlePath("")
	assert.Error(t, err)
}
