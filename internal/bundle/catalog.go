package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	nameMarker = "backup_"
	nameLayout = "20060102_150405"
)

// Name builds a bundle directory name: [<prefix>_]backup_YYYYMMDD_HHMMSS.
func Name(prefix string, t time.Time) string {
	stamp := nameMarker + t.Format(nameLayout)
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return stamp
	}
	prefix = strings.NewReplacer("/", "-", string(os.PathSeparator), "-", " ", "_").Replace(prefix)
	return prefix + "_" + stamp
}

// NameTime extracts the timestamp embedded in a bundle name.
func NameTime(name string) (time.Time, bool) {
	idx := strings.LastIndex(name, nameMarker)
	if idx < 0 {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(nameLayout, name[idx+len(nameMarker):], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type Summary struct {
	Name     string
	Path     string
	Manifest Manifest
	Size     int64
}

// Open reads the summary of a single bundle directory.
func Open(path string) (Summary, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return Summary{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	m, err := ReadManifest(path)
	if err != nil {
		return Summary{}, err
	}
	size, err := dirSize(path)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Name: filepath.Base(path), Path: path, Manifest: m, Size: size}, nil
}

// List returns the valid bundles under root, newest first. Directories
// without a readable manifest are not bundles and are skipped.
func List(root string) ([]Summary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bundle root: %w", err)
	}
	var out []Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		s, err := Open(filepath.Join(root, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, iok := sortTime(out[i])
		tj, jok := sortTime(out[j])
		if iok && jok && !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Latest returns the newest bundle under root.
func Latest(root string) (Summary, error) {
	list, err := List(root)
	if err != nil {
		return Summary{}, err
	}
	if len(list) == 0 {
		return Summary{}, fmt.Errorf("no bundles under %s: %w", root, ErrNotFound)
	}
	return list[0], nil
}

func sortTime(s Summary) (time.Time, bool) {
	if t, ok := NameTime(s.Name); ok {
		return t, true
	}
	t, err := s.Manifest.Time()
	return t, err == nil
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
