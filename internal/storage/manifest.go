package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rowjay/supa-backup/internal/bundle"
)

const ManifestSuffix = ".manifest.json"

// ArchiveManifest sits next to every archive and describes how to unpack it.
type ArchiveManifest struct {
	ID          string           `json:"id"`
	Key         string           `json:"key"`
	Project     string           `json:"project"`
	Bundle      string           `json:"bundle"`
	Compression string           `json:"compression"`
	Encryption  bool             `json:"encryption"`
	KeyID       string           `json:"key_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	SizeBytes   int64            `json:"size_bytes"`
	SHA256      string           `json:"sha256"`
	ToolVersion string           `json:"tool_version"`
	Manifest    *bundle.Manifest `json:"bundle_manifest"`
}

func ManifestKey(objectKey string) string {
	return objectKey + ManifestSuffix
}

func IsManifestKey(key string) bool {
	return strings.HasSuffix(key, ManifestSuffix)
}

func PutManifest(ctx context.Context, s Storage, m ArchiveManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return s.Put(ctx, ManifestKey(m.Key), bytes.NewReader(data), int64(len(data)), map[string]string{"content-type": "application/json"})
}

func GetManifest(ctx context.Context, s Storage, objectKey string) (*ArchiveManifest, error) {
	rc, err := s.Get(ctx, ManifestKey(objectKey))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var m ArchiveManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode archive manifest %s: %w", objectKey, err)
	}
	return &m, nil
}
