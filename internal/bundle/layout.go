// Package bundle implements the on-disk backup format: directory layout,
// manifest, bundle naming and discovery.
package bundle

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ManifestFile    = "metadata.json"
	DatabaseFile    = "database.sql"
	TablesDir       = "tables_json"
	RolesJSONFile   = "roles.json"
	RolesSQLFile    = "roles.sql"
	StorageDir      = "storage"
	BucketsMetaFile = "buckets_metadata.json"
	AuthUsersFile   = "auth_users.json"
	FunctionsDir    = "edge_functions"
	ProjectConfig   = "project_config.json"
	WebhooksFile    = "webhooks.json"
	RealtimeFile    = "realtime_config.json"
	PlaceholderFile = "README.md"

	RolesErrorFile    = "roles_error.txt"
	ConfigErrorFile   = "config_error.txt"
	WebhooksErrorFile = "webhooks_error.txt"
	RealtimeErrorFile = "realtime_error.txt"
)

// WriteJSON writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// ReadJSON decodes a bundle file into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteError records a degraded failure next to the resource it concerns.
func WriteError(dir, name string, cause error) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(cause.Error()+"\n"), 0o644)
}

// ReadRoleStatements returns the statements of a roles.sql file, one per line.
func ReadRoleStatements(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stmts []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		stmts = append(stmts, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return stmts, nil
}

// Exists reports whether a regular file or directory is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
