package util

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
)

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}

// Command builds an exec.Cmd inheriting the environment plus env.
func Command(ctx context.Context, name string, args []string, env map[string]string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	extra := make([]string, 0, len(env))
	for k, v := range env {
		extra = append(extra, k+"="+v)
	}
	sort.Strings(extra)
	cmd.Env = MergeEnv(extra)
	return cmd
}
