package util

import (
	"path"
	"strings"
)

// ArchiveKey constructs the object key of a packed bundle:
// [prefix/]project/bundle.tar[.ext][.enc].
func ArchiveKey(prefix, project, bundle, extension string, encrypted bool) string {
	name := bundle + ".tar" + extension
	if encrypted {
		name += ".enc"
	}
	return path.Join(ArchivePrefix(prefix, project), name)
}

// ArchivePrefix builds the listing prefix for one project's archives.
func ArchivePrefix(prefix, project string) string {
	parts := []string{}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if project = SafeSegment(project); project != "" {
		parts = append(parts, project)
	}
	return path.Join(parts...)
}

// BundleFromKey recovers the bundle directory name from an archive key.
func BundleFromKey(key string) string {
	base := path.Base(key)
	if i := strings.Index(base, ".tar"); i >= 0 {
		return base[:i]
	}
	return base
}

// SafeSegment makes a name usable as one path segment.
func SafeSegment(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}
