package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/bundle"
	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/report"
	"github.com/rowjay/supa-backup/internal/util"
)

func (w *Writer) backupStorage(ctx context.Context, dir string, opts Options) report.Outcome {
	out := report.Outcome{Resource: report.ResourceStorage}
	if w.caps.Objects == nil {
		return report.Failed(out.Resource, platform.ErrNotConfigured)
	}
	log := w.resourceLog(out.Resource)
	storageDir := filepath.Join(dir, bundle.StorageDir)
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return report.Failed(out.Resource, err)
	}
	buckets, err := w.caps.Objects.ListBuckets(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("list buckets failed")
		return report.Failed(out.Resource, err)
	}

	okBuckets := 0
	for _, b := range buckets {
		blog := log.With().Str("bucket", b.Name).Logger()
		bucketDir, err := bundle.SafeJoin(storageDir, b.Name)
		if err == nil {
			err = os.MkdirAll(bucketDir, 0o755)
		}
		if err == nil {
			err = w.walkBucket(ctx, blog, b.Name, "", bucketDir, &out, opts)
		}
		if err != nil {
			blog.Warn().Err(err).Msg("bucket skipped")
			out.Fail(fmt.Errorf("bucket %s: %w", b.Name, err))
			continue
		}
		okBuckets++
	}

	// Every attempted bucket is recorded, including the ones that failed.
	if buckets == nil {
		buckets = []platform.Bucket{}
	}
	if err := bundle.WriteJSON(filepath.Join(storageDir, bundle.BucketsMetaFile), buckets); err != nil {
		out.Fail(fmt.Errorf("buckets metadata: %w", err))
	}
	out.Detail = fmt.Sprintf("%d/%d buckets, %d objects", okBuckets, len(buckets), out.Items)
	log.Info().Int("buckets", okBuckets).Int("objects", out.Items).Int("failures", out.Failures).Msg("storage backed up")
	return out
}

// walkBucket mirrors one level of a bucket and recurses into folders. A
// listing error at the bucket root is returned; everything below degrades.
func (w *Writer) walkBucket(ctx context.Context, log zerolog.Logger, bucket, prefix, dir string, out *report.Outcome, opts Options) error {
	entries, err := w.caps.Objects.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for _, e := range entries {
		key := prefix + e.Name
		local, err := bundle.SafeJoin(dir, e.Name)
		if err != nil {
			out.Fail(fmt.Errorf("%s/%s: %w", bucket, key, err))
			continue
		}
		if e.IsFolder() {
			if err := os.MkdirAll(local, 0o755); err != nil {
				out.Fail(fmt.Errorf("%s/%s: %w", bucket, key, err))
				continue
			}
			if err := w.walkBucket(ctx, log, bucket, key+"/", local, out, opts); err != nil {
				log.Warn().Err(err).Str("folder", key).Msg("folder skipped")
				out.Fail(fmt.Errorf("%s/%s: %w", bucket, key, err))
			}
			continue
		}
		var data []byte
		err = util.Retry(ctx, opts.RetryCount, opts.RetryBackoff, func() error {
			var derr error
			data, derr = w.caps.Objects.Download(ctx, bucket, key)
			return derr
		})
		if err == nil {
			err = os.WriteFile(local, data, 0o644)
		}
		if err != nil {
			log.Warn().Err(err).Str("object", key).Msg("object skipped")
			out.Fail(fmt.Errorf("%s/%s: %w", bucket, key, err))
			continue
		}
		out.Items++
	}
	return nil
}
