// Package project opens every capability of one hosted project from
// configuration.
package project

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/authadmin"
	"github.com/rowjay/supa-backup/internal/config"
	"github.com/rowjay/supa-backup/internal/db"
	"github.com/rowjay/supa-backup/internal/functions"
	"github.com/rowjay/supa-backup/internal/objectstore"
	"github.com/rowjay/supa-backup/internal/platform"
)

// Handle owns the connections behind a Capabilities value.
type Handle struct {
	Caps platform.Capabilities
	pool *pgxpool.Pool
}

func (h *Handle) Close() {
	if h != nil && h.pool != nil {
		h.pool.Close()
	}
}

type Options struct {
	AllowMissingTools bool
	ConnectTimeout    time.Duration
	Functions         config.FunctionsConfig
	// WithFunctions wires the CLI deployer; only restores deploy.
	WithFunctions bool
}

// Open builds the capabilities of p. The database URL is required; the
// storage endpoint and service key are optional and leave their capability
// nil when absent.
func Open(ctx context.Context, p config.ProjectConfig, opts Options, log zerolog.Logger) (*Handle, error) {
	if p.DBURL == "" {
		return nil, fmt.Errorf("project %q: db_url is required: %w", p.Name, platform.ErrNotConfigured)
	}
	pool, err := db.Connect(ctx, p.DBURL, opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	catalog := db.NewCatalog(pool)
	h := &Handle{pool: pool, Caps: platform.Capabilities{
		URL:          p.URL,
		Relational:   db.NewTool(p.DBURL, opts.AllowMissingTools, opts.ConnectTimeout),
		Roles:        catalog,
		Publications: catalog,
		Tables:       catalog,
		Schema:       catalog,
		Inspector:    catalog,
	}}

	if p.Storage.Endpoint != "" {
		store, err := objectstore.New(objectstore.Options{
			Endpoint:       p.Storage.Endpoint,
			Region:         p.Storage.Region,
			AccessKey:      p.Storage.AccessKey,
			SecretKey:      p.Storage.SecretKey,
			SessionToken:   p.Storage.SessionToken,
			UseSSL:         p.Storage.UseSSL,
			ForcePathStyle: p.Storage.ForcePathStyle,
			Insecure:       p.Storage.TLSInsecureSkip,
		}, catalog, log.With().Str("component", "objectstore").Logger())
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		h.Caps.Objects = store
	} else {
		log.Debug().Str("project", p.Name).Msg("no storage endpoint configured")
	}

	if p.URL != "" && p.ServiceKey != "" {
		users, err := authadmin.New(p.URL, p.ServiceKey, p.PageSize, 0)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.Caps.Users = users
	} else {
		log.Debug().Str("project", p.Name).Msg("no service key configured")
	}

	if opts.WithFunctions {
		h.Caps.Functions = functions.NewCLI(functions.Options{
			Launcher:          opts.Functions.Launcher,
			AccessToken:       opts.Functions.AccessToken,
			WorkDir:           WorkDir(opts.Functions.StagingDir),
			AllowMissingTools: opts.AllowMissingTools,
		})
	}
	return h, nil
}

// Validate checks that the relational tooling is usable before an operation
// touches anything.
func (h *Handle) Validate(ctx context.Context) error {
	if t, ok := h.Caps.Relational.(*db.Tool); ok {
		if err := t.Validate(ctx); err != nil {
			return err
		}
	}
	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
	}
	return nil
}

// WorkDir is the directory the platform CLI runs in: the parent of the
// "supabase" directory that holds the staged functions.
func WorkDir(stagingDir string) string {
	if stagingDir == "" {
		return ""
	}
	clean := filepath.Clean(stagingDir)
	if filepath.Base(clean) == "functions" && filepath.Base(filepath.Dir(clean)) == "supabase" {
		return filepath.Dir(filepath.Dir(clean))
	}
	return clean
}
