package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/report"
)

// ErrNotConfirmed is returned when a restore is neither pre-confirmed nor
// able to ask for confirmation.
var ErrNotConfirmed = errors.New("restore requires confirmation")

// Resources selects what a restore replays.
type Resources struct {
	Database      bool
	Storage       bool
	Auth          bool
	EdgeFunctions bool
	Roles         bool
	Realtime      bool
	Webhooks      bool
}

// AllResources selects every resource.
func AllResources() Resources {
	return Resources{Database: true, Storage: true, Auth: true, EdgeFunctions: true, Roles: true, Realtime: true, Webhooks: true}
}

type Options struct {
	Mode            Mode
	Resources       Resources
	DeployFunctions bool
	Confirmed       bool
	// StagingDir receives the function source trees.
	StagingDir string
}

// Confirmer asks for an explicit go-ahead before the target is mutated.
type Confirmer interface {
	Confirm(ctx context.Context, mode Mode, warning string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, mode Mode, warning string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, mode Mode, warning string) (bool, error) {
	return f(ctx, mode, warning)
}

type Result struct {
	Bundle    string
	Manifest  bundle.Manifest
	Mode      Mode
	Cancelled bool
	Report    report.Report
	Deployed  int
	// DeployFailed counts functions whose deployment failed.
	DeployFailed int
}

// Executor loads every resource of a bundle into a target in dependency order.
type Executor struct {
	caps    platform.Capabilities
	planner *Planner
	confirm Confirmer
	log     zerolog.Logger
}

func NewExecutor(caps platform.Capabilities, confirm Confirmer, log zerolog.Logger) *Executor {
	return &Executor{caps: caps, planner: NewPlanner(caps, log), confirm: confirm, log: log}
}

// Restore replays the bundle at path. A returned error is always fatal; a
// declined confirmation yields Cancelled with a nil error.
func (e *Executor) Restore(ctx context.Context, path string, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeClean
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, report.Fatal(report.ResourceManifest, fmt.Errorf("%s: %w", path, bundle.ErrNotFound))
	}
	m, err := bundle.ReadManifest(path)
	if err != nil {
		return nil, report.Fatal(report.ResourceManifest, err)
	}
	res := &Result{Bundle: path, Manifest: m, Mode: opts.Mode}
	log := e.log.With().Str("bundle", path).Str("mode", string(opts.Mode)).Logger()

	dump := filepath.Join(path, bundle.DatabaseFile)
	if opts.Resources.Database {
		if info, err := os.Stat(dump); err != nil || info.Size() == 0 {
			err := fmt.Errorf("%s missing or empty in bundle", bundle.DatabaseFile)
			return res, report.Fatal(report.ResourceDatabase, err)
		}
	}

	if !opts.Confirmed {
		if e.confirm == nil {
			return res, report.Fatal(report.ResourcePrepare, ErrNotConfirmed)
		}
		ok, err := e.confirm.Confirm(ctx, opts.Mode, opts.Mode.Warning())
		if err != nil {
			return res, report.Fatal(report.ResourcePrepare, fmt.Errorf("confirmation: %w", err))
		}
		if !ok {
			log.Info().Msg("restore cancelled")
			res.Cancelled = true
			return res, nil
		}
	}

	started := time.Now()
	log.Info().Str("source", m.SourceURL).Str("target", e.caps.URL).Msg("restore started")

	if opts.Resources.Database && opts.Mode.Prepares() {
		out, err := e.planner.Prepare(ctx, opts.Mode)
		res.Report.Add(out)
		if err != nil {
			return res, err
		}
	}

	if opts.Resources.Roles {
		res.Report.Add(e.restoreRoles(ctx, path))
	} else {
		res.Report.Add(report.Skipped(report.ResourceRoles, "not requested"))
	}

	if opts.Resources.Database {
		out, err := e.loadDatabase(ctx, dump, opts.Mode)
		res.Report.Add(out)
		if err != nil {
			return res, err
		}
	} else {
		res.Report.Add(report.Skipped(report.ResourceDatabase, "not requested"))
	}

	res.Report.Add(e.gated(report.ResourceStorage, opts.Resources.Storage, m.IncludeStorage, func() report.Outcome {
		return e.restoreStorage(ctx, path)
	}))
	res.Report.Add(e.gated(report.ResourceAuth, opts.Resources.Auth, m.IncludeAuth, func() report.Outcome {
		return e.restoreAuth(ctx, path)
	}))
	res.Report.Add(e.gated(report.ResourceFunctions, opts.Resources.EdgeFunctions, m.IncludeEdgeFunctions, func() report.Outcome {
		return e.restoreFunctions(ctx, path, opts, res)
	}))

	if opts.Resources.Realtime {
		res.Report.Add(e.describeRealtime(path))
	} else {
		res.Report.Add(report.Skipped(report.ResourceRealtime, "not requested"))
	}
	if opts.Resources.Webhooks {
		res.Report.Add(e.describeWebhooks(path))
	} else {
		res.Report.Add(report.Skipped(report.ResourceWebhooks, "not requested"))
	}

	log.Info().Str("summary", res.Report.Summary()).Dur("duration", time.Since(started)).Msg("restore completed")
	return res, nil
}

// gated runs step only when requested and captured by the bundle.
func (e *Executor) gated(r report.Resource, requested, included bool, step func() report.Outcome) report.Outcome {
	switch {
	case !requested:
		return report.Skipped(r, "not requested")
	case !included:
		e.log.Info().Str("resource", string(r)).Msg("resource not included in bundle, skipped")
		return report.Skipped(r, "not included in bundle")
	default:
		return step()
	}
}

func (e *Executor) resourceLog(r report.Resource) zerolog.Logger {
	return e.log.With().Str("resource", string(r)).Logger()
}

func (e *Executor) restoreRoles(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceRoles}
	log := e.resourceLog(out.Resource)
	stmts, err := bundle.ReadRoleStatements(filepath.Join(dir, bundle.RolesSQLFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report.Skipped(out.Resource, "no roles.sql in bundle")
		}
		return report.Failed(out.Resource, err)
	}
	if len(stmts) == 0 {
		return report.Skipped(out.Resource, "no custom roles in bundle")
	}
	if e.caps.Roles == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured)
	}
	applied, err := e.caps.Roles.ApplyRoleStatements(ctx, stmts, true)
	if err != nil {
		log.Warn().Err(err).Msg("roles not restored")
		return report.Failed(out.Resource, err)
	}
	out.Items = applied.Applied + applied.Existing
	for _, f := range applied.Failed {
		log.Warn().Err(f.Err).Str("statement", f.Statement).Msg("role statement failed")
		out.Fail(f)
	}
	out.Detail = fmt.Sprintf("%d created, %d already existed", applied.Applied, applied.Existing)
	log.Info().Int("created", applied.Applied).Int("existing", applied.Existing).Int("failed", len(applied.Failed)).Msg("roles restored")
	return out
}

func (e *Executor) loadDatabase(ctx context.Context, dump string, mode Mode) (report.Outcome, error) {
	out := report.Outcome{Resource: report.ResourceDatabase}
	log := e.resourceLog(out.Resource)
	if e.caps.Relational == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured), report.Fatal(out.Resource, platform.ErrNotConfigured)
	}
	result, err := e.caps.Relational.Load(ctx, dump, !mode.StopOnError())
	if mode.StopOnError() {
		if err == nil && !result.Clean() {
			err = errors.New(result.Errors[0])
		}
		if err != nil {
			log.Error().Err(err).Msg("database load failed")
			return report.Failed(out.Resource, err), report.Fatal(out.Resource, err)
		}
		out.Items = 1
		out.Detail = "loaded"
		return out, nil
	}

	// Merge: conflicts are the expected outcome, anything else degrades.
	if err != nil {
		log.Warn().Err(err).Msg("database load failed")
		return report.Failed(out.Resource, err), nil
	}
	out.Items = 1
	if result != nil {
		for _, msg := range result.Errors {
			out.Fail(errors.New(msg))
		}
		out.Detail = fmt.Sprintf("%d conflicts ignored, %d errors", len(result.Conflicts), len(result.Errors))
		if len(result.Errors) > 0 {
			log.Warn().Strs("errors", result.Errors).Msg("database load reported errors")
		}
		log.Info().Int("conflicts", len(result.Conflicts)).Msg("database merged")
	}
	return out, nil
}
