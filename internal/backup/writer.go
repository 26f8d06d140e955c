// Package backup materializes a project into an on-disk bundle.
package backup

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

type Options struct {
	Root        string
	ProjectName string
	Include     bundle.Include
	// TableJSON enables the per-table JSON projection.
	TableJSON bool
	// FunctionsSource is the local edge function source tree.
	FunctionsSource string
	ToolVersion     string
	RetryCount      int
	RetryBackoff    time.Duration
	Now             func() time.Time
}

type Result struct {
	Path     string
	Manifest bundle.Manifest
	Report   report.Report
}

// Writer walks every resource of a project into a new bundle.
type Writer struct {
	caps platform.Capabilities
	log  zerolog.Logger
}

func NewWriter(caps platform.Capabilities, log zerolog.Logger) *Writer {
	return &Writer{caps: caps, log: log}
}

// Create writes a bundle under opts.Root. Only the relational dump and the
// manifest can fail the call; every other resource degrades into the report.
func (w *Writer) Create(ctx context.Context, opts Options) (*Result, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	started := now()

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create bundle root: %w", err)
	}
	path := filepath.Join(opts.Root, bundle.Name(opts.ProjectName, started))
	if err := os.Mkdir(path, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("bundle %s already exists", path)
		}
		return nil, fmt.Errorf("create bundle: %w", err)
	}
	res := &Result{Path: path}
	w.log.Info().Str("bundle", path).Msg("backup started")

	if err := w.dumpDatabase(ctx, path); err != nil {
		res.Report.Add(report.Failed(report.ResourceDatabase, err))
		return res, report.Fatal(report.ResourceDatabase, err)
	}
	res.Report.Add(report.Outcome{Resource: report.ResourceDatabase, Items: 1})

	if opts.TableJSON {
		res.Report.Add(w.backupTables(ctx, path))
	} else {
		res.Report.Add(report.Skipped(report.ResourceTables, "disabled"))
	}
	if opts.Include.Storage {
		res.Report.Add(w.backupStorage(ctx, path, opts))
	} else {
		res.Report.Add(report.Skipped(report.ResourceStorage, "not requested"))
	}
	if opts.Include.Auth {
		res.Report.Add(w.backupAuth(ctx, path))
	} else {
		res.Report.Add(report.Skipped(report.ResourceAuth, "not requested"))
	}
	if opts.Include.EdgeFunctions {
		res.Report.Add(w.backupFunctions(path, opts.FunctionsSource))
	} else {
		res.Report.Add(report.Skipped(report.ResourceFunctions, "not requested"))
	}
	res.Report.Add(w.backupRoles(ctx, path))
	res.Report.Add(w.backupConfig(ctx, path))
	res.Report.Add(w.backupWebhooks(ctx, path))
	res.Report.Add(w.backupRealtime(ctx, path))

	m := bundle.NewManifest(started, w.caps.URL, opts.Include)
	m.ProjectName = opts.ProjectName
	m.ToolVersion = opts.ToolVersion
	if err := bundle.WriteManifest(path, m); err != nil {
		return res, report.Fatal(report.ResourceManifest, err)
	}
	res.Manifest = m

	w.log.Info().
		Str("bundle", path).
		Str("summary", res.Report.Summary()).
		Dur("duration", now().Sub(started)).
		Msg("backup completed")
	return res, nil
}

func (w *Writer) resourceLog(r report.Resource) zerolog.Logger {
	return w.log.With().Str("resource", string(r)).Logger()
}

func (w *Writer) dumpDatabase(ctx context.Context, dir string) error {
	if w.caps.Relational == nil {
		return platform.ErrNotConfigured
	}
	log := w.resourceLog(report.ResourceDatabase)
	target := filepath.Join(dir, bundle.DatabaseFile)
	if err := w.caps.Relational.Dump(ctx, target); err != nil {
		log.Error().Err(err).Msg("database dump failed")
		return fmt.Errorf("dump database: %w", err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("dump database: %w", err)
	}
	log.Info().Int64("bytes", info.Size()).Msg("database dumped")
	return nil
}
