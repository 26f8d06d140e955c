package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/archive"
	"github.com/rowjay/supa-backup/internal/backup"
	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/cryptoutil"
	"github.com/rowjay/supa-backup/internal/lock"
	"github.com/rowjay/supa-backup/internal/metrics"
	"github.com/rowjay/supa-backup/internal/notify"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/project"
	"github.com/rowjay/supa-backup/internal/report"
	"github.com/rowjay/supa-backup/internal/restore"
	"github.com/rowjay/supa-backup/internal/storage"
	"github.com/rowjay/supa-backup/internal/util"
	"github.com/rowjay/supa-backup/internal/verify"
	"github.com/rowjay/supa-backup/internal/version"
)

const metricsPushTimeout = 10 * time.Second

// Opener yields the capabilities of a configured project and a func that
// releases them.
type Opener func(ctx context.Context, p config.ProjectConfig, opts project.Options) (platform.Capabilities, func(), error)

type App struct {
	Cfg      *config.Config
	Log      zerolog.Logger
	Notifier notify.Notifier
	Metrics  *metrics.Recorder
	Confirm  restore.Confirmer
	Open     Opener
	Now      func() time.Time
}

func New(cfg *config.Config, log zerolog.Logger, notifier notify.Notifier, confirm restore.Confirmer) *App {
	return &App{
		Cfg:      cfg,
		Log:      log,
		Notifier: notifier,
		Metrics:  metrics.New(),
		Confirm:  confirm,
		Open:     openProject(log),
		Now:      time.Now,
	}
}

func openProject(log zerolog.Logger) Opener {
	return func(ctx context.Context, p config.ProjectConfig, opts project.Options) (platform.Capabilities, func(), error) {
		h, err := project.Open(ctx, p, opts, log)
		if err != nil {
			return platform.Capabilities{}, nil, err
		}
		if err := h.Validate(ctx); err != nil {
			h.Close()
			return platform.Capabilities{}, nil, err
		}
		return h.Caps, h.Close, nil
	}
}

func (a *App) projectOptions(withFunctions bool) project.Options {
	return project.Options{
		AllowMissingTools: a.Cfg.Global.AllowMissingTools,
		ConnectTimeout:    a.Cfg.Global.ConnectTimeout,
		Functions:         a.Cfg.Functions,
		WithFunctions:     withFunctions,
	}
}

// run tracks one operation from start to its notification.
type run struct {
	id    string
	kind  string
	start time.Time
	log   zerolog.Logger
}

func (a *App) begin(kind string) *run {
	id := uuid.NewString()
	return &run{
		id:    id,
		kind:  kind,
		start: a.Now(),
		log:   a.Log.With().Str("op", id).Str("operation", kind).Logger(),
	}
}

// finish records metrics for the operation and, when event is set, notifies.
func (a *App) finish(r *run, projectName string, event *notify.Event, rep *report.Report, cancelled bool, opErr error) {
	end := a.Now()
	status := metrics.StatusFor(opErr, rep, cancelled)
	if opErr != nil {
		r.log.Error().Err(opErr).Msg(r.kind + " failed")
	}

	if a.Metrics != nil {
		if rep != nil {
			a.Metrics.ObserveReport(r.kind, rep)
		}
		a.Metrics.ObserveOperation(r.kind, projectName, status, end.Sub(r.start), end)
		ctx, cancel := context.WithTimeout(context.Background(), metricsPushTimeout)
		defer cancel()
		if err := a.Metrics.Push(ctx, a.Cfg.Metrics.PushgatewayURL, a.Cfg.Metrics.Job, r.id); err != nil {
			r.log.Warn().Err(err).Msg("metrics push failed")
		}
	}

	if event == nil || a.Notifier == nil {
		return
	}
	event.ID = r.id
	event.Type = r.kind
	event.Status = status
	event.Project = projectName
	event.StartedAt = r.start
	event.EndedAt = end
	event.Duration = end.Sub(r.start).String()
	if rep != nil {
		event.Resources = rep.Statuses()
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if err := a.Notifier.Notify(context.Background(), *event); err != nil {
		r.log.Warn().Err(err).Msg("notification failed")
	}
}

type BackupResult struct {
	Path     string
	Manifest bundle.Manifest
	Report   report.Report
	// Archive is set when the bundle was pushed offsite.
	Archive *storage.ArchiveManifest
}

// Backup writes a bundle of the source project into the bundle root and,
// when configured, pushes it offsite.
func (a *App) Backup(ctx context.Context) (res *BackupResult, opErr error) {
	r := a.begin("backup")
	src := a.Cfg.Project
	defer func() {
		event := &notify.Event{Message: fmt.Sprintf("backup %s", displayName(src))}
		var rep *report.Report
		if res != nil {
			rep = &res.Report
			event.Bundle = filepath.Base(res.Path)
			if res.Archive != nil {
				event.Key = res.Archive.Key
			}
		}
		a.finish(r, src.Name, event, rep, false, opErr)
	}()

	guard, err := lock.ForRoot(a.Cfg.Backup.Dir)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	window := util.Window{Start: a.Cfg.Schedule.WindowStart, End: a.Cfg.Schedule.WindowEnd, Timezone: a.Cfg.Schedule.Timezone}
	ok, err := window.Contains(a.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("current time is outside configured backup window")
	}

	var arch *archive.Archiver
	if a.Cfg.Backup.Archive {
		if arch, err = a.archiver(r.log); err != nil {
			return nil, err
		}
	}

	caps, closeFn, err := a.Open(ctx, src, a.projectOptions(false))
	if err != nil {
		return nil, err
	}
	defer closeFn()

	out, err := backup.NewWriter(caps, r.log).Create(ctx, backup.Options{
		Root:        a.Cfg.Backup.Dir,
		ProjectName: src.Name,
		Include: bundle.Include{
			Storage:       a.Cfg.Backup.IncludeStorage,
			Auth:          a.Cfg.Backup.IncludeAuth,
			EdgeFunctions: a.Cfg.Backup.IncludeEdgeFunctions,
		},
		TableJSON:       a.Cfg.Backup.TableJSON,
		FunctionsSource: a.Cfg.Functions.SourceDir,
		ToolVersion:     version.Version,
		RetryCount:      a.Cfg.Backup.RetryCount,
		RetryBackoff:    a.Cfg.Backup.RetryBackoff,
		Now:             a.Now,
	})
	if out != nil {
		res = &BackupResult{Path: out.Path, Manifest: out.Manifest, Report: out.Report}
	}
	if err != nil {
		return res, err
	}

	if arch != nil {
		m, err := a.pushAndPrune(ctx, arch, res.Path, r)
		if err != nil {
			return res, fmt.Errorf("archive bundle: %w", err)
		}
		res.Archive = m
	}
	return res, nil
}

// RestoreRequest selects what Restore replays and from which bundle.
type RestoreRequest struct {
	// Bundle is a bundle path or a bundle name inside the bundle root.
	Bundle          string
	Latest          bool
	Mode            restore.Mode
	Resources       restore.Resources
	DeployFunctions bool
	Confirmed       bool
}

// DefaultRestoreRequest reflects the restore section of the configuration.
func (a *App) DefaultRestoreRequest() (RestoreRequest, error) {
	mode, err := restore.ParseMode(a.Cfg.Restore.Mode)
	if err != nil {
		return RestoreRequest{}, err
	}
	rc := a.Cfg.Restore
	return RestoreRequest{
		Mode: mode,
		Resources: restore.Resources{
			Database:      rc.Database,
			Storage:       rc.Storage,
			Auth:          rc.Auth,
			EdgeFunctions: rc.EdgeFunctions,
			Roles:         rc.Roles,
			Realtime:      rc.Realtime,
			Webhooks:      rc.Webhooks,
		},
		DeployFunctions: rc.DeployFunctions,
	}, nil
}

// Restore replays a bundle into the target project.
func (a *App) Restore(ctx context.Context, req RestoreRequest) (res *restore.Result, opErr error) {
	r := a.begin("restore")
	target := a.Cfg.TargetProject()
	var path string
	defer func() {
		event := &notify.Event{Message: fmt.Sprintf("restore %s", displayName(target)), Mode: string(req.Mode)}
		if path != "" {
			event.Bundle = filepath.Base(path)
		}
		var rep *report.Report
		cancelled := false
		if res != nil {
			rep = &res.Report
			cancelled = res.Cancelled
		}
		a.finish(r, target.Name, event, rep, cancelled, opErr)
	}()

	var err error
	if path, err = a.resolveBundle(req); err != nil {
		return nil, err
	}

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	deploy := req.DeployFunctions && req.Resources.EdgeFunctions
	caps, closeFn, err := a.Open(ctx, target, a.projectOptions(deploy))
	if err != nil {
		return nil, err
	}
	defer closeFn()

	return restore.NewExecutor(caps, a.Confirm, r.log).Restore(ctx, path, restore.Options{
		Mode:            req.Mode,
		Resources:       req.Resources,
		DeployFunctions: deploy,
		Confirmed:       req.Confirmed,
		StagingDir:      a.Cfg.Functions.StagingDir,
	})
}

func (a *App) resolveBundle(req RestoreRequest) (string, error) {
	if req.Latest {
		latest, err := bundle.Latest(a.Cfg.Backup.Dir)
		if err != nil {
			return "", err
		}
		return latest.Path, nil
	}
	return a.BundlePath(req.Bundle)
}

// BundlePath accepts a bundle path, or a bare bundle name resolved inside
// the bundle root.
func (a *App) BundlePath(arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("a bundle path or --latest is required")
	}
	if filepath.IsAbs(arg) || strings.ContainsRune(arg, os.PathSeparator) {
		return arg, nil
	}
	if arg == "." || arg == ".." {
		return "", fmt.Errorf("invalid bundle name %q", arg)
	}
	return bundle.SafeJoin(a.Cfg.Backup.Dir, arg)
}

// List returns the bundles under the bundle root, newest first.
func (a *App) List() ([]bundle.Summary, error) {
	return bundle.List(a.Cfg.Backup.Dir)
}

// Verify probes the target project, comparing against bundlePath when set.
func (a *App) Verify(ctx context.Context, bundlePath string) (res verify.Result, opErr error) {
	r := a.begin("verify")
	target := a.Cfg.TargetProject()
	defer func() { a.finish(r, target.Name, nil, nil, false, opErr) }()

	if bundlePath != "" {
		var err error
		if bundlePath, err = a.BundlePath(bundlePath); err != nil {
			return verify.Result{}, err
		}
	}
	caps, closeFn, err := a.Open(ctx, target, a.projectOptions(false))
	if err != nil {
		return verify.Result{}, err
	}
	defer closeFn()
	return verify.NewVerifier(caps, r.log).Verify(ctx, bundlePath), nil
}

// Compare lists the public tables the target lacks or adds relative to the
// source project.
func (a *App) Compare(ctx context.Context) (cmp *verify.Comparison, opErr error) {
	r := a.begin("compare")
	defer func() { a.finish(r, a.Cfg.Project.Name, nil, nil, false, opErr) }()

	src, closeSrc, err := a.Open(ctx, a.Cfg.Project, a.projectOptions(false))
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	defer closeSrc()
	dst, closeDst, err := a.Open(ctx, a.Cfg.TargetProject(), a.projectOptions(false))
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}
	defer closeDst()

	cmp, err = verify.CompareTables(ctx, src.Tables, dst.Tables)
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Strs("missing", cmp.Missing).
		Strs("extra", cmp.Extra).
		Int("source_count", cmp.SourceCount).
		Int("target_count", cmp.TargetCount).
		Msg("comparison finished")
	return cmp, nil
}

func (a *App) archiver(log zerolog.Logger) (*archive.Archiver, error) {
	cfg := a.Cfg.Archive
	store, err := storage.New(cfg)
	if err != nil {
		return nil, err
	}
	var key []byte
	if cfg.Encryption {
		if cfg.EncryptionKey == "" {
			return nil, fmt.Errorf("archive encryption is enabled but encryption_key is empty")
		}
		if key, err = cryptoutil.ParseKey(cfg.EncryptionKey); err != nil {
			return nil, err
		}
	}
	return archive.New(store, archive.Options{
		Project:     a.Cfg.Project.Name,
		Prefix:      cfg.Prefix,
		Compression: cfg.Compression,
		Key:         key,
		ToolVersion: version.Version,
		Now:         a.Now,
	}, log), nil
}

func (a *App) pushAndPrune(ctx context.Context, arch *archive.Archiver, path string, r *run) (*storage.ArchiveManifest, error) {
	m, err := arch.Push(ctx, path, r.id)
	if err != nil {
		return nil, err
	}
	if _, err := arch.Prune(ctx, a.Cfg.Archive.Retention); err != nil {
		r.log.Warn().Err(err).Msg("archive retention failed")
	}
	return m, nil
}

// ArchivePush packs a bundle and uploads it to the archive destination.
func (a *App) ArchivePush(ctx context.Context, bundleArg string) (m *storage.ArchiveManifest, opErr error) {
	r := a.begin("archive_push")
	defer func() {
		event := &notify.Event{Message: fmt.Sprintf("archive %s", displayName(a.Cfg.Project)), Bundle: filepath.Base(bundleArg)}
		if m != nil {
			event.Key = m.Key
		}
		a.finish(r, a.Cfg.Project.Name, event, nil, false, opErr)
	}()

	path, err := a.BundlePath(bundleArg)
	if err != nil {
		return nil, err
	}
	guard, err := lock.ForRoot(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	arch, err := a.archiver(r.log)
	if err != nil {
		return nil, err
	}
	return a.pushAndPrune(ctx, arch, path, r)
}

// ArchivePull fetches an archive into the bundle root and returns the new
// bundle path.
func (a *App) ArchivePull(ctx context.Context, key string) (path string, opErr error) {
	r := a.begin("archive_pull")
	defer func() {
		event := &notify.Event{Message: fmt.Sprintf("archive pull %s", displayName(a.Cfg.Project)), Key: key}
		if path != "" {
			event.Bundle = filepath.Base(path)
		}
		a.finish(r, a.Cfg.Project.Name, event, nil, false, opErr)
	}()

	guard, err := lock.ForRoot(a.Cfg.Backup.Dir)
	if err != nil {
		return "", err
	}
	defer guard.Release()

	arch, err := a.archiver(r.log)
	if err != nil {
		return "", err
	}
	return arch.Pull(ctx, key, a.Cfg.Backup.Dir)
}

// ArchiveList lists the source project's archives, newest first.
func (a *App) ArchiveList(ctx context.Context) ([]storage.ArchiveManifest, error) {
	arch, err := a.archiver(a.Log)
	if err != nil {
		return nil, err
	}
	return arch.List(ctx)
}

func displayName(p config.ProjectConfig) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.URL != "":
		return p.URL
	default:
		return "project"
	}
}
