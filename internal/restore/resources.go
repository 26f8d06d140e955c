package restore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/report"
)

// DefaultStagingDir is where function sources are staged for the platform CLI.
const DefaultStagingDir = "supabase/functions"

func (e *Executor) restoreStorage(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceStorage}
	log := e.resourceLog(out.Resource)
	storageDir := filepath.Join(dir, bundle.StorageDir)
	if !bundle.Exists(storageDir) {
		return report.Skipped(out.Resource, "no storage directory in bundle")
	}
	if e.caps.Objects == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured)
	}
	buckets, err := bundleBuckets(storageDir)
	if err != nil {
		return report.Failed(out.Resource, err)
	}
	live, err := e.caps.Objects.ListBuckets(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list target buckets failed")
		return report.Failed(out.Resource, err)
	}
	existing := make(map[string]bool, len(live))
	for _, b := range live {
		existing[b.Name] = true
	}

	created := 0
	for _, b := range buckets {
		blog := log.With().Str("bucket", b.Name).Logger()
		if !existing[b.Name] {
			if err := e.caps.Objects.CreateBucket(ctx, b); err != nil {
				blog.Warn().Err(err).Msg("create bucket failed")
				out.Fail(fmt.Errorf("bucket %s: %w", b.Name, err))
				continue
			}
			created++
			blog.Info().Bool("public", b.Public).Msg("bucket created")
		}
		bucketDir, err := bundle.SafeJoin(storageDir, b.Name)
		if err != nil {
			out.Fail(err)
			continue
		}
		if !bundle.Exists(bucketDir) {
			continue
		}
		err = filepath.WalkDir(bucketDir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(bucketDir, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			data, err := os.ReadFile(p)
			if err == nil {
				err = e.caps.Objects.Upload(ctx, b.Name, key, data, true)
			}
			if err != nil {
				blog.Warn().Err(err).Str("object", key).Msg("upload failed")
				out.Fail(fmt.Errorf("%s/%s: %w", b.Name, key, err))
				return nil
			}
			out.Items++
			return nil
		})
		if err != nil {
			out.Fail(fmt.Errorf("bucket %s: %w", b.Name, err))
		}
	}
	out.Detail = fmt.Sprintf("%d buckets (%d created), %d objects uploaded", len(buckets), created, out.Items)
	log.Info().Int("buckets", len(buckets)).Int("created", created).Int("objects", out.Items).Int("failures", out.Failures).Msg("storage restored")
	return out
}

// bundleBuckets returns the recorded bucket settings plus any mirrored bucket
// directory missing from the metadata.
func bundleBuckets(storageDir string) ([]platform.Bucket, error) {
	var buckets []platform.Bucket
	metaPath := filepath.Join(storageDir, bundle.BucketsMetaFile)
	if err := bundle.ReadJSON(metaPath, &buckets); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	known := map[string]bool{}
	for _, b := range buckets {
		known[b.Name] = true
	}
	entries, err := os.ReadDir(storageDir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() && !known[entry.Name()] {
			buckets = append(buckets, platform.Bucket{Name: entry.Name()})
		}
	}
	return buckets, nil
}

func (e *Executor) restoreAuth(ctx context.Context, dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceAuth}
	log := e.resourceLog(out.Resource)
	var file bundle.AuthUsers
	if err := bundle.ReadJSON(filepath.Join(dir, bundle.AuthUsersFile), &file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report.Skipped(out.Resource, "no auth_users.json in bundle")
		}
		return report.Failed(out.Resource, err)
	}
	if e.caps.Users == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured)
	}
	for _, raw := range file.Users {
		u, err := platform.DecodeUser(raw)
		if err != nil {
			out.Fail(err)
			continue
		}
		if u.Email == "" && u.Phone == "" {
			out.Fail(fmt.Errorf("user %s has neither email nor phone", u.ID))
			continue
		}
		if err := e.caps.Users.CreateUser(ctx, platform.NewUserFrom(u)); err != nil {
			log.Warn().Err(err).Str("user", u.Label()).Msg("create user failed")
			out.Fail(fmt.Errorf("user %s: %w", u.Label(), err))
			continue
		}
		out.Items++
	}
	out.Detail = fmt.Sprintf("%d/%d users created", out.Items, len(file.Users))
	log.Info().Int("created", out.Items).Int("failed", out.Failures).Msg("auth users restored")
	return out
}

func (e *Executor) restoreFunctions(ctx context.Context, dir string, opts Options, res *Result) report.Outcome {
	out := report.Outcome{Resource: report.ResourceFunctions}
	log := e.resourceLog(out.Resource)
	src := filepath.Join(dir, bundle.FunctionsDir)
	names, err := bundle.FunctionNames(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report.Skipped(out.Resource, "no edge_functions directory in bundle")
		}
		return report.Failed(out.Resource, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return report.Failed(out.Resource, err)
	}
	if len(names) == 0 {
		return report.Skipped(out.Resource, "no functions in bundle")
	}

	staging := opts.StagingDir
	if staging == "" {
		staging = DefaultStagingDir
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return report.Failed(out.Resource, err)
	}
	staged := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dst := filepath.Join(staging, entry.Name())
		err := os.RemoveAll(dst)
		if err == nil {
			err = os.CopyFS(dst, os.DirFS(filepath.Join(src, entry.Name())))
		}
		if err != nil {
			log.Warn().Err(err).Str("function", entry.Name()).Msg("stage function failed")
			out.Fail(fmt.Errorf("stage %s: %w", entry.Name(), err))
			continue
		}
		staged++
	}
	out.Items = staged
	out.Detail = fmt.Sprintf("%d functions staged in %s", len(names), staging)
	if !opts.DeployFunctions {
		return out
	}

	ref := ProjectRef(e.caps.URL)
	manual := fmt.Sprintf("deploy manually: supabase link --project-ref %s && supabase functions deploy <name> --project-ref %s", ref, ref)
	if e.caps.Functions == nil {
		out.Fail(fmt.Errorf("deploy: %w", platform.ErrNotConfigured))
		out.Detail += "; " + manual
		return out
	}
	if err := e.caps.Functions.Unlink(ctx); err != nil {
		log.Debug().Err(err).Msg("unlink failed")
	}
	if ref == "" {
		err = fmt.Errorf("no project ref in target url %q", e.caps.URL)
	} else {
		err = e.caps.Functions.Link(ctx, ref)
	}
	if err != nil {
		log.Warn().Err(err).Msg("link failed, functions left staged")
		out.Fail(fmt.Errorf("link: %w", err))
		out.Detail += "; " + manual
		return out
	}
	for _, name := range names {
		if err := e.caps.Functions.Deploy(ctx, name, ref); err != nil {
			log.Warn().Err(err).Str("function", name).Msg("deploy failed")
			out.Fail(fmt.Errorf("deploy %s: %w", name, err))
			res.DeployFailed++
			continue
		}
		res.Deployed++
	}
	out.Detail = fmt.Sprintf("%d staged, %d deployed, %d failed", staged, res.Deployed, res.DeployFailed)
	log.Info().Int("deployed", res.Deployed).Int("failed", res.DeployFailed).Msg("edge functions deployed")
	return out
}

// ProjectRef extracts the project reference from a project URL such as
// https://<ref>.supabase.co.
func ProjectRef(projectURL string) string {
	u, err := url.Parse(projectURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return ""
	}
	ref, _, found := strings.Cut(host, ".")
	if !found {
		return ""
	}
	return ref
}

func (e *Executor) describeRealtime(dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceRealtime}
	log := e.resourceLog(out.Resource)
	var cfg bundle.RealtimeConfig
	if err := bundle.ReadJSON(filepath.Join(dir, bundle.RealtimeFile), &cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report.Skipped(out.Resource, "no realtime_config.json in bundle")
		}
		return report.Failed(out.Resource, err)
	}
	for _, pub := range cfg.Publications {
		log.Info().Str("publication", pub.Name).Int("tables", len(pub.Tables)).Bool("all_tables", pub.AllTables).Msg("publication documented")
	}
	out.Items = len(cfg.Publications)
	out.Detail = fmt.Sprintf("%d publications, re-created by the database load", out.Items)
	return out
}

func (e *Executor) describeWebhooks(dir string) report.Outcome {
	out := report.Outcome{Resource: report.ResourceWebhooks}
	log := e.resourceLog(out.Resource)
	var snap platform.WebhookSnapshot
	if err := bundle.ReadJSON(filepath.Join(dir, bundle.WebhooksFile), &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report.Skipped(out.Resource, "no webhooks.json in bundle")
		}
		return report.Failed(out.Resource, err)
	}
	out.Items = len(snap.DatabaseWebhooks) + len(snap.AuthHooks)
	if out.Items == 0 {
		out.Detail = "no webhooks in bundle"
		return out
	}
	out.Detail = fmt.Sprintf("%d database webhooks, %d auth hooks; recreate them in the dashboard", len(snap.DatabaseWebhooks), len(snap.AuthHooks))
	log.Warn().Int("database_webhooks", len(snap.DatabaseWebhooks)).Int("auth_hooks", len(snap.AuthHooks)).Msg("webhooks must be recreated manually")
	return out
}
