package lock

import (
	"testing"
)

func TestForRootExcludesSecondHolder(t *testing.T) {
	root := t.TempDir()
	first, err := ForRoot(root)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := ForRoot(root); err == nil {
		t.Fatalf("expected second lock to fail")
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := ForRoot(root)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	_ = again.Release()
}
