package db

import (
	"bufio"
	"strings"

	"github.com/rowjay/supa-backup/internal/platform"
)

// conflictMarkers identify errors caused by objects that already exist on the
// target. Loading over an existing project produces them for every object.
var conflictMarkers = []string{
	"already exists",
	"duplicate key value",
	"multiple primary keys",
}

// ClassifyPsqlOutput sorts psql diagnostics into conflicts, genuine errors
// and warnings.
func ClassifyPsqlOutput(stderr string) *platform.LoadResult {
	res := &platform.LoadResult{}
	sc := bufio.NewScanner(strings.NewReader(stderr))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.Contains(line, "ERROR:"):
			if IsConflict(line) {
				res.Conflicts = append(res.Conflicts, line)
			} else {
				res.Errors = append(res.Errors, line)
			}
		case strings.Contains(line, "FATAL:"):
			res.Errors = append(res.Errors, line)
		case strings.Contains(line, "WARNING:"):
			res.Warnings = append(res.Warnings, line)
		}
	}
	return res
}

// IsConflict reports whether a diagnostic is an already-exists class error.
func IsConflict(msg string) bool {
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
