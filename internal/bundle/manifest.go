package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FormatVersion is written into every new manifest.
const FormatVersion = "1.1"

// legacyVersion is assumed for manifests written before versioning.
const legacyVersion = "1.0"

var (
	ErrNotFound           = errors.New("bundle not found")
	ErrNoManifest         = errors.New("bundle has no manifest")
	ErrUnsupportedVersion = errors.New("unsupported bundle version")
)

// Include selects the optional resources of a bundle.
type Include struct {
	Storage       bool
	Auth          bool
	EdgeFunctions bool
}

type Manifest struct {
	Timestamp            string `json:"timestamp"`
	SourceURL            string `json:"supabase_url"`
	IncludeStorage       bool   `json:"include_storage"`
	IncludeAuth          bool   `json:"include_auth"`
	IncludeEdgeFunctions bool   `json:"include_edge_functions"`
	Version              string `json:"backup_version"`
	ProjectName          string `json:"project_name,omitempty"`
	ToolVersion          string `json:"tool_version,omitempty"`
}

func NewManifest(now time.Time, sourceURL string, inc Include) Manifest {
	return Manifest{
		Timestamp:            now.Format(time.RFC3339),
		SourceURL:            sourceURL,
		IncludeStorage:       inc.Storage,
		IncludeAuth:          inc.Auth,
		IncludeEdgeFunctions: inc.EdgeFunctions,
		Version:              FormatVersion,
	}
}

func (m Manifest) Includes() Include {
	return Include{Storage: m.IncludeStorage, Auth: m.IncludeAuth, EdgeFunctions: m.IncludeEdgeFunctions}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Time parses the manifest timestamp. Offset-less values are read as UTC.
func (m Manifest) Time() (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, m.Timestamp); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid manifest timestamp %q", m.Timestamp)
}

// WriteManifest atomically writes metadata.json into dir.
func WriteManifest(dir string, m Manifest) error {
	tmp := filepath.Join(dir, "."+ManifestFile+".tmp")
	if err := WriteJSON(tmp, m); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, ManifestFile))
}

// ReadManifest loads and validates metadata.json from dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(dir, ManifestFile)
	if err := ReadJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, fmt.Errorf("%s: %w", dir, ErrNoManifest)
		}
		return Manifest{}, err
	}
	if m.Version == "" {
		m.Version = legacyVersion
	}
	major, _, _ := strings.Cut(m.Version, ".")
	if n, err := strconv.Atoi(major); err != nil || n != 1 {
		return Manifest{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, m.Version)
	}
	if m.Timestamp == "" {
		return Manifest{}, fmt.Errorf("%s: manifest missing timestamp", dir)
	}
	return m, nil
}
