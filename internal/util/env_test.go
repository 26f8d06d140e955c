package util

import (
	"strings"
	"testing"
)

func TestMergeEnvOverrides(t *testing.T) {
	t.Setenv("PGPASSWORD", "inherited")
	env := MergeEnv([]string{"PGPASSWORD=fresh", "PGCONNECT_TIMEOUT=5"})
	count := 0
	for _, kv := range env {
		if strings.HasPrefix(kv, "PGPASSWORD=") {
			count++
			if kv != "PGPASSWORD=fresh" {
				t.Fatalf("inherited value survived: %s", kv)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected one PGPASSWORD entry, got %d", count)
	}
}
