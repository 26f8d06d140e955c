package util

import (
	"os"
	"strings"
)

// MergeEnv returns the process environment with extra entries applied.
// Entries in extra replace inherited ones with the same name.
func MergeEnv(extra []string) []string {
	override := make(map[string]bool, len(extra))
	for _, kv := range extra {
		if name, _, ok := strings.Cut(kv, "="); ok {
			override[name] = true
		}
	}
	env := make([]string, 0, len(os.Environ())+len(extra))
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if !override[name] {
			env = append(env, kv)
		}
	}
	return append(env, extra...)
}
