// Package restore replays a bundle into a target project.
package restore

import (
	"fmt"
	"strings"
)

type Mode string

const (
	// ModeClean drops the user tables of the public schema before loading.
	ModeClean Mode = "clean"
	// ModeMerge loads over existing objects and tolerates conflicts.
	ModeMerge Mode = "merge"
	// ModeForce drops and recreates the whole public schema before loading.
	ModeForce Mode = "force"
)

// ParseMode accepts clean, merge or force. Empty selects clean.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeClean:
		return ModeClean, nil
	case ModeMerge:
		return ModeMerge, nil
	case ModeForce:
		return ModeForce, nil
	default:
		return "", fmt.Errorf("unknown restore mode %q (want clean, merge or force)", s)
	}
}

// StopOnError reports whether relational load errors abort the restore.
func (m Mode) StopOnError() bool {
	return m != ModeMerge
}

// Prepares reports whether the mode mutates the schema before loading.
func (m Mode) Prepares() bool {
	return m == ModeClean || m == ModeForce
}

// Warning is shown by the confirmation gate.
func (m Mode) Warning() string {
	if m == ModeForce {
		return "WARNING: force mode drops the entire public schema of the target project. " +
			"Every existing table and row in it will be permanently lost."
	}
	return "WARNING: this will overwrite existing data in the target project."
}
