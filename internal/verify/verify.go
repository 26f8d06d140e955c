// Package verify probes a target project after a restore.
package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/platform"
)

const publicSchema = "public"

// Result holds one independent pass flag per probe. Details carries the raw
// counts and any probe error under <probe>_error.
type Result struct {
	Database bool           `json:"database"`
	Storage  bool           `json:"storage"`
	Auth     bool           `json:"auth"`
	Details  map[string]any `json:"details"`
}

// Passed reports whether every probe passed.
func (r Result) Passed() bool {
	return r.Database && r.Storage && r.Auth
}

type Verifier struct {
	caps platform.Capabilities
	log  zerolog.Logger
}

func NewVerifier(caps platform.Capabilities, log zerolog.Logger) *Verifier {
	return &Verifier{caps: caps, log: log}
}

// Verify is read-only and never fails: probe errors land in Details.
func (v *Verifier) Verify(ctx context.Context, bundlePath string) Result {
	res := Result{Details: map[string]any{}}

	if v.caps.Tables == nil {
		res.Details["database_error"] = platform.ErrNotConfigured.Error()
	} else if tables, err := v.caps.Tables.ListTables(ctx, publicSchema); err != nil {
		res.Details["database_error"] = err.Error()
	} else {
		res.Details["table_count"] = len(tables)
		res.Database = len(tables) > 0
	}

	if v.caps.Objects == nil {
		res.Details["storage_error"] = platform.ErrNotConfigured.Error()
	} else if buckets, err := v.caps.Objects.ListBuckets(ctx); err != nil {
		res.Details["storage_error"] = err.Error()
	} else {
		res.Details["bucket_count"] = len(buckets)
		res.Storage = len(buckets) > 0
	}

	if v.caps.Users == nil {
		res.Details["auth_error"] = platform.ErrNotConfigured.Error()
	} else if users, err := v.caps.Users.ListUsers(ctx); err != nil {
		res.Details["auth_error"] = err.Error()
	} else {
		res.Details["user_count"] = len(users)
		res.Auth = len(users) > 0
	}

	if bundlePath != "" {
		v.expectations(bundlePath, res.Details)
	}
	v.log.Info().
		Bool("database", res.Database).
		Bool("storage", res.Storage).
		Bool("auth", res.Auth).
		Interface("details", res.Details).
		Msg("verification finished")
	return res
}

// expectations adds what the bundle captured next to the live counts.
func (v *Verifier) expectations(path string, details map[string]any) {
	m, err := bundle.ReadManifest(path)
	if err != nil {
		details["bundle_error"] = err.Error()
		return
	}
	if m.IncludeStorage {
		var buckets []platform.Bucket
		if err := bundle.ReadJSON(filepath.Join(path, bundle.StorageDir, bundle.BucketsMetaFile), &buckets); err == nil {
			details["expected_bucket_count"] = len(buckets)
		}
	}
	if m.IncludeAuth {
		var users bundle.AuthUsers
		if err := bundle.ReadJSON(filepath.Join(path, bundle.AuthUsersFile), &users); err == nil {
			details["expected_user_count"] = len(users.Users)
		}
	}
}

// Comparison is the public-schema table difference between two projects.
type Comparison struct {
	Missing     []string `json:"missing"`
	Extra       []string `json:"extra"`
	SourceCount int      `json:"source_count"`
	TargetCount int      `json:"target_count"`
}

// Identical reports whether both sides hold the same tables.
func (c Comparison) Identical() bool {
	return len(c.Missing) == 0 && len(c.Extra) == 0
}

// CompareTables lists tables present in source but not target (Missing) and
// the reverse (Extra).
func CompareTables(ctx context.Context, source, target platform.TableCatalog) (*Comparison, error) {
	if source == nil || target == nil {
		return nil, platform.ErrNotConfigured
	}
	src, err := source.ListTables(ctx, publicSchema)
	if err != nil {
		return nil, fmt.Errorf("source tables: %w", err)
	}
	dst, err := target.ListTables(ctx, publicSchema)
	if err != nil {
		return nil, fmt.Errorf("target tables: %w", err)
	}
	c := &Comparison{
		Missing:     difference(src, dst),
		Extra:       difference(dst, src),
		SourceCount: len(src),
		TargetCount: len(dst),
	}
	return c, nil
}

func difference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, s := range b {
		in[s] = true
	}
	out := []string{}
	for _, s := range a {
		if !in[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
