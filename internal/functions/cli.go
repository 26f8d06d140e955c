// Package functions deploys edge functions through the platform CLI.
package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rowjay/supa-backup/internal/util"
)

type Options struct {
	// Launcher is "supabase" (default) or "npx" to run the CLI through npm.
	Launcher    string
	AccessToken string
	// WorkDir is the directory holding supabase/functions.
	WorkDir           string
	AllowMissingTools bool
}

type runFunc func(ctx context.Context, dir, name string, args []string, env map[string]string) ([]byte, error)

// CLI implements platform.FunctionDeployer.
type CLI struct {
	opts Options
	run  runFunc
}

func NewCLI(opts Options) *CLI {
	if opts.Launcher == "" {
		opts.Launcher = "supabase"
	}
	return &CLI{opts: opts, run: runCommand}
}

func runCommand(ctx context.Context, dir, name string, args []string, env map[string]string) ([]byte, error) {
	cmd := util.Command(ctx, name, args, env)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

func (c *CLI) Unlink(ctx context.Context) error {
	return c.supabase(ctx, "unlink")
}

func (c *CLI) Link(ctx context.Context, projectRef string) error {
	if projectRef == "" {
		return fmt.Errorf("link: empty project ref")
	}
	return c.supabase(ctx, "link", "--project-ref", projectRef)
}

func (c *CLI) Deploy(ctx context.Context, name, projectRef string) error {
	args := []string{"functions", "deploy", name}
	if projectRef != "" {
		args = append(args, "--project-ref", projectRef)
	}
	return c.supabase(ctx, args...)
}

func (c *CLI) supabase(ctx context.Context, args ...string) error {
	name, full := c.command(args)
	if !c.opts.AllowMissingTools {
		if err := util.RequireBinary(name); err != nil {
			return err
		}
	}
	env := map[string]string{}
	if c.opts.AccessToken != "" {
		env["SUPABASE_ACCESS_TOKEN"] = c.opts.AccessToken
	}
	out, err := c.run(ctx, c.opts.WorkDir, name, full, env)
	if err != nil {
		return fmt.Errorf("supabase %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *CLI) command(args []string) (string, []string) {
	if c.opts.Launcher == "npx" {
		return "npx", append([]string{"--yes", "supabase"}, args...)
	}
	return c.opts.Launcher, args
}
