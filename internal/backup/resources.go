package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/report"
)

const publicSchema = "public"

func (w *Writer) backupTables(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceTables}
	if w.caps.Tables == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured)
	}
	log := w.resourceLog(out.Resource)
	tables, err := w.caps.Tables.ListTables(ctx, publicSchema)
	if err != nil {
		log.Warn().Err(err).Msg("list tables failed")
		return report.Failed(out.Resource, err)
	}
	tablesDir := filepath.Join(dir, bundle.TablesDir)
	if err := os.MkdirAll(tablesDir, 0o755); err != nil {
		return report.Failed(out.Resource, err)
	}
	for _, table := range tables {
		rows, err := w.caps.Tables.TableRows(ctx, publicSchema, table)
		if err == nil {
			var target string
			target, err = bundle.SafeJoin(tablesDir, table+".json")
			if err == nil {
				err = bundle.WriteJSON(target, NormalizeRows(rows))
			}
		}
		if err != nil {
			log.Warn().Err(err).Str("table", table).Msg("table export skipped")
			out.Fail(fmt.Errorf("table %s: %w", table, err))
			continue
		}
		out.Items++
	}
	out.Detail = fmt.Sprintf("%d/%d tables", out.Items, len(tables))
	return out
}

func (w *Writer) backupAuth(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceAuth}
	if w.caps.Users == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured)
	}
	log := w.resourceLog(out.Resource)
	users, err := w.caps.Users.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("auth users not backed up")
		return report.Failed(out.Resource, err)
	}
	file := bundle.AuthUsers{Users: make([]json.RawMessage, 0, len(users))}
	for _, u := range users {
		raw := u.Raw
		if len(raw) == 0 {
			if raw, err = json.Marshal(u); err != nil {
				out.Fail(fmt.Errorf("user %s: %w", u.Label(), err))
				continue
			}
		}
		file.Users = append(file.Users, raw)
	}
	if err := bundle.WriteJSON(filepath.Join(dir, bundle.AuthUsersFile), file); err != nil {
		return report.Failed(out.Resource, err)
	}
	out.Items = len(file.Users)
	out.Detail = fmt.Sprintf("%d users", out.Items)
	log.Info().Int("users", out.Items).Msg("auth users backed up")
	return out
}

const functionsPlaceholder = `No local edge function source was found when this backup was taken.

Edge function code is not retrievable from the hosted platform. Keep the
function sources under version control, or point functions.source_dir at
them before running a backup.
`

func (w *Writer) backupFunctions(dir, source string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceFunctions}
	log := w.resourceLog(out.Resource)
	target := filepath.Join(dir, bundle.FunctionsDir)

	info, err := os.Stat(source)
	if source == "" || err != nil || !info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return report.Failed(out.Resource, err)
		}
		if err := os.WriteFile(filepath.Join(target, bundle.PlaceholderFile), []byte(functionsPlaceholder), 0o644); err != nil {
			return report.Failed(out.Resource, err)
		}
		log.Warn().Str("source", source).Msg("no edge function source, placeholder written")
		return report.Skipped(out.Resource, "no local function source")
	}
	if err := os.CopyFS(target, os.DirFS(source)); err != nil {
		log.Warn().Err(err).Msg("edge functions not copied")
		return report.Failed(out.Resource, err)
	}
	names, err := bundle.FunctionNames(target)
	if err != nil {
		return report.Failed(out.Resource, err)
	}
	out.Items = len(names)
	out.Detail = fmt.Sprintf("%d functions", out.Items)
	log.Info().Strs("functions", names).Msg("edge functions copied")
	return out
}

func (w *Writer) backupRoles(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceRoles}
	log := w.resourceLog(out.Resource)
	fail := func(err error) report.Outcome {
		log.Warn().Err(err).Msg("roles not backed up")
		_ = bundle.WriteError(dir, bundle.RolesErrorFile, err)
		return report.Failed(out.Resource, err)
	}
	if w.caps.Roles == nil {
		return fail(platform.ErrNotConfigured)
	}
	roles, err := w.caps.Roles.ListRoles(ctx)
	if err != nil {
		return fail(err)
	}
	roles, rejected := SplitRoles(UserRoles(roles))
	for _, name := range rejected {
		err := fmt.Errorf("role %q: name contains a line break", name)
		log.Warn().Err(err).Msg("role skipped")
		out.Fail(err)
	}
	if err := bundle.WriteJSON(filepath.Join(dir, bundle.RolesJSONFile), roles); err != nil {
		return fail(err)
	}
	sql := "-- Custom database roles\n"
	for _, r := range roles {
		sql += RoleStatement(r) + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, bundle.RolesSQLFile), []byte(sql), 0o644); err != nil {
		return fail(err)
	}
	out.Items = len(roles)
	out.Detail = fmt.Sprintf("%d roles", out.Items)
	log.Info().Int("roles", out.Items).Msg("roles backed up")
	return out
}

func (w *Writer) backupConfig(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceConfig}
	log := w.resourceLog(out.Resource)
	cfg := bundle.ProjectConfigFile{
		SourceURL: w.caps.URL,
		Note:      "API keys, JWT secrets and database passwords are not included",
	}
	var errs []error
	if w.caps.Objects == nil {
		errs = append(errs, fmt.Errorf("buckets: %w", platform.ErrNotConfigured))
	} else if buckets, err := w.caps.Objects.ListBuckets(ctx); err != nil {
		errs = append(errs, fmt.Errorf("buckets: %w", err))
	} else {
		cfg.Buckets = buckets
		out.Items++
	}
	if w.caps.Inspector == nil {
		errs = append(errs, fmt.Errorf("extensions: %w", platform.ErrNotConfigured))
	} else if exts, err := w.caps.Inspector.ListExtensions(ctx); err != nil {
		errs = append(errs, fmt.Errorf("extensions: %w", err))
	} else {
		cfg.Extensions = exts
		out.Items++
	}
	for _, err := range errs {
		out.Fail(err)
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		log.Warn().Err(joined).Msg("project config incomplete")
		_ = bundle.WriteError(dir, bundle.ConfigErrorFile, joined)
		if out.Items == 0 {
			return out
		}
	}
	if err := bundle.WriteJSON(filepath.Join(dir, bundle.ProjectConfig), cfg); err != nil {
		return report.Failed(out.Resource, err)
	}
	return out
}

func (w *Writer) backupWebhooks(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceWebhooks}
	log := w.resourceLog(out.Resource)
	fail := func(err error) report.Outcome {
		log.Warn().Err(err).Msg("webhooks not captured")
		_ = bundle.WriteError(dir, bundle.WebhooksErrorFile, err)
		return report.Failed(out.Resource, err)
	}
	if w.caps.Inspector == nil {
		return fail(platform.ErrNotConfigured)
	}
	snap, err := w.caps.Inspector.Webhooks(ctx)
	if err != nil {
		return fail(err)
	}
	if snap == nil {
		snap = &platform.WebhookSnapshot{}
	}
	if err := bundle.WriteJSON(filepath.Join(dir, bundle.WebhooksFile), snap); err != nil {
		return fail(err)
	}
	out.Items = len(snap.DatabaseWebhooks) + len(snap.AuthHooks)
	out.Detail = fmt.Sprintf("%d database webhooks, %d auth hooks", len(snap.DatabaseWebhooks), len(snap.AuthHooks))
	return out
}

func (w *Writer) backupRealtime(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceRealtime}
	log := w.resourceLog(out.Resource)
	fail := func(err error) report.Outcome {
		log.Warn().Err(err).Msg("realtime config not captured")
		_ = bundle.WriteError(dir, bundle.RealtimeErrorFile, err)
		return report.Failed(out.Resource, err)
	}
	if w.caps.Publications == nil {
		return fail(platform.ErrNotConfigured)
	}
	pubs, err := w.caps.Publications.ListPublications(ctx)
	if err != nil {
		return fail(err)
	}
	if pubs == nil {
		pubs = []platform.Publication{}
	}
	if err := bundle.WriteJSON(filepath.Join(dir, bundle.RealtimeFile), bundle.RealtimeConfig{Publications: pubs}); err != nil {
		return fail(err)
	}
	out.Items = len(pubs)
	out.Detail = fmt.Sprintf("%d publications", out.Items)
	return out
}
