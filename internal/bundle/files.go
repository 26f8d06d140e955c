package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/supa-backup/internal/platform"
)

// AuthUsers is the shape of auth_users.json. Users are kept verbatim.
type AuthUsers struct {
	Users []json.RawMessage `json:"users"`
}

// ProjectConfigFile is the shape of project_config.json. It never holds secrets.
type ProjectConfigFile struct {
	SourceURL  string               `json:"supabase_url"`
	Buckets    []platform.Bucket    `json:"buckets"`
	Extensions []platform.Extension `json:"extensions"`
	Note       string               `json:"note"`
}

// RealtimeConfig is the shape of realtime_config.json.
type RealtimeConfig struct {
	Publications []platform.Publication `json:"publications"`
}

// SafeJoin joins rel under base and rejects results that escape base.
func SafeJoin(base, rel string) (string, error) {
	joined := filepath.Join(base, filepath.FromSlash(rel))
	r, err := filepath.Rel(base, joined)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q escapes %s", rel, base)
	}
	return joined, nil
}

// FunctionNames lists the deployable function directories of a source tree.
// Hidden directories and the _shared module directory are not functions.
func FunctionNames(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") && e.Name() != "_shared" {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
