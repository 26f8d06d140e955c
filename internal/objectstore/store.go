// Package objectstore reaches the project's file storage over its
// S3-compatible endpoint.
package objectstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/rowjay/supa-backup/internal/platform"
)

// SettingsSource reads and writes bucket configuration the S3 protocol does
// not carry (public flag, size limit, allowed types). db.Catalog implements it.
type SettingsSource interface {
	BucketSettings(ctx context.Context) ([]platform.Bucket, error)
	ApplyBucketSettings(ctx context.Context, b platform.Bucket) error
}

type Options struct {
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	SessionToken   string
	UseSSL         bool
	ForcePathStyle bool
	Insecure       bool
}

type Store struct {
	client   *minio.Client
	region   string
	settings SettingsSource
	log      zerolog.Logger
}

func New(opts Options, settings SettingsSource, log zerolog.Logger) (*Store, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required: %w", platform.ErrNotConfigured)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	lookup := minio.BucketLookupDNS
	if opts.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, opts.SessionToken),
		Secure:       opts.UseSSL,
		Region:       opts.Region,
		Transport:    transport,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: client, region: opts.Region, settings: settings, log: log}, nil
}

func (s *Store) ListBuckets(ctx context.Context) ([]platform.Bucket, error) {
	infos, err := s.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	var settings []platform.Bucket
	if s.settings != nil {
		settings, err = s.settings.BucketSettings(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("bucket settings unavailable, using defaults")
			settings = nil
		}
	}
	return mergeSettings(names, settings), nil
}

// mergeSettings attaches known settings to every listed bucket, in name order.
func mergeSettings(names []string, settings []platform.Bucket) []platform.Bucket {
	byName := make(map[string]platform.Bucket, len(settings))
	for _, b := range settings {
		byName[b.Name] = b
	}
	out := make([]platform.Bucket, 0, len(names))
	for _, name := range names {
		b, ok := byName[name]
		if !ok {
			b = platform.Bucket{ID: name, Name: name}
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) CreateBucket(ctx context.Context, b platform.Bucket) error {
	if err := s.client.MakeBucket(ctx, b.Name, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.Name, err)
	}
	if s.settings == nil {
		return nil
	}
	return s.settings.ApplyBucketSettings(ctx, b)
}

func (s *Store) ListObjects(ctx context.Context, bucket, prefix string) ([]platform.ObjectEntry, error) {
	p := folderPrefix(prefix)
	var infos []minio.ObjectInfo
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: p, Recursive: false}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, p, obj.Err)
		}
		infos = append(infos, obj)
	}
	return entries(p, infos), nil
}

func folderPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// entries converts a one-level listing to names relative to prefix. Common
// prefixes come back as folders with an empty ID.
func entries(prefix string, infos []minio.ObjectInfo) []platform.ObjectEntry {
	out := make([]platform.ObjectEntry, 0, len(infos))
	for _, obj := range infos {
		name := strings.TrimPrefix(obj.Key, prefix)
		if strings.HasSuffix(name, "/") {
			name = strings.TrimSuffix(name, "/")
			if name != "" {
				out = append(out, platform.ObjectEntry{Name: name})
			}
			continue
		}
		if name == "" {
			continue
		}
		id := obj.ETag
		if id == "" {
			id = obj.Key
		}
		out = append(out, platform.ObjectEntry{Name: name, ID: id, Size: obj.Size})
	}
	return out
}

func (s *Store) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *Store) Upload(ctx context.Context, bucket, key string, data []byte, upsert bool) error {
	if !upsert {
		exists, err := s.exists(ctx, bucket, key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s/%s: %w", bucket, key, platform.ErrObjectExists)
		}
	}
	opts := minio.PutObjectOptions{ContentType: contentType(key)}
	if _, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
