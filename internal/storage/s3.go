package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rowjay/supa-backup/internal/config"
)

type S3 struct {
	Client *minio.Client
	Bucket string
}

func NewS3(cfg config.S3Store) (*S3, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSInsecureSkip {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	lookup := minio.BucketLookupDNS
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		Transport:    transport,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}
	return &S3{Client: client, Bucket: cfg.Bucket}, nil
}

// Put streams with an unknown size when size is negative; minio switches to
// multipart upload in that case.
func (s *S3) Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	opts := minio.PutObjectOptions{UserMetadata: metadata, ContentType: "application/octet-stream"}
	if ct, ok := metadata["content-type"]; ok {
		opts.ContentType = ct
		delete(opts.UserMetadata, "content-type")
	}
	_, err := s.Client.PutObject(ctx, s.Bucket, key, reader, size, opts)
	return err
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}
	return s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return ObjectInfo{}, ErrNotExist
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{Key: key, Size: stat.Size, Modified: stat.LastModified, ETag: stat.ETag, Metadata: stat.UserMetadata, IsManifest: IsManifestKey(key)}, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	infos := []ObjectInfo{}
	for obj := range s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		infos = append(infos, ObjectInfo{Key: obj.Key, Size: obj.Size, Modified: obj.LastModified, ETag: obj.ETag, IsManifest: IsManifestKey(obj.Key)})
	}
	return infos, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	return s.Client.RemoveObject(ctx, s.Bucket, key, minio.RemoveObjectOptions{})
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
