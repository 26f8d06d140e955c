package db

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowjay/supa-backup/internal/platform"
	"github.com/rowjay/supa-backup/internal/util"
)

// Tool is the RelationalStore backed by the pg_dump and psql client binaries.
type Tool struct {
	dbURL             string
	allowMissingTools bool
	connectTimeout    time.Duration
}

func NewTool(dbURL string, allowMissingTools bool, connectTimeout time.Duration) *Tool {
	return &Tool{dbURL: dbURL, allowMissingTools: allowMissingTools, connectTimeout: connectTimeout}
}

// Validate checks the client binaries and, when pg_isready exists, the server.
func (t *Tool) Validate(ctx context.Context) error {
	if !t.allowMissingTools {
		for _, bin := range []string{"pg_dump", "psql"} {
			if err := util.RequireBinary(bin); err != nil {
				return err
			}
		}
	}
	if err := util.RequireBinary("pg_isready"); err != nil {
		return nil
	}
	dsn, env, err := buildPostgresEnv(t.dbURL, t.connectTimeout)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, "pg_isready", "--dbname", dsn)
	cmd.Env = util.MergeEnv(env)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pg_isready: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Dump writes a plain SQL dump without ownership or privilege statements.
// Both output pipes are drained concurrently before the process is reaped.
func (t *Tool) Dump(ctx context.Context, path string) error {
	if !t.allowMissingTools {
		if err := util.RequireBinary("pg_dump"); err != nil {
			return err
		}
	}
	dsn, env, err := buildPostgresEnv(t.dbURL, t.connectTimeout)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--no-acl", "--dbname", dsn)
	cmd.Env = util.MergeEnv(env)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start pg_dump: %w", err)
	}

	stderr := stderrSink()
	var written int64
	var g errgroup.Group
	g.Go(func() error {
		n, err := io.Copy(f, stdout)
		written = n
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, stderrPipe)
		return err
	})
	copyErr := g.Wait()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, stderr.Tail())
	}
	if copyErr != nil {
		return fmt.Errorf("write dump: %w", copyErr)
	}
	if written == 0 {
		return fmt.Errorf("pg_dump produced no output")
	}
	return f.Close()
}

// Load replays a dump through psql. Strict loads stop at the first error;
// tolerant loads run to the end and report what failed.
func (t *Tool) Load(ctx context.Context, path string, tolerant bool) (*platform.LoadResult, error) {
	if !t.allowMissingTools {
		if err := util.RequireBinary("psql"); err != nil {
			return nil, err
		}
	}
	dsn, env, err := buildPostgresEnv(t.dbURL, t.connectTimeout)
	if err != nil {
		return nil, err
	}
	args := []string{"-X", "-q", "--dbname", dsn, "-f", path}
	if !tolerant {
		args = append(args, "-v", "ON_ERROR_STOP=1")
	}
	stderr := stderrSink()
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = util.MergeEnv(env)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	runErr := cmd.Run()
	res := ClassifyPsqlOutput(stderr.String())
	if runErr != nil {
		return res, fmt.Errorf("psql: %w: %s", runErr, stderr.Tail())
	}
	return res, nil
}

// buildPostgresEnv moves the password of a URL connection string into
// PGPASSWORD so it does not show up in the process list.
func buildPostgresEnv(dbURL string, connectTimeout time.Duration) (string, []string, error) {
	if dbURL == "" {
		return "", nil, fmt.Errorf("database url is required: %w", platform.ErrNotConfigured)
	}
	var env []string
	if connectTimeout > 0 {
		env = append(env, "PGCONNECT_TIMEOUT="+strconv.Itoa(int(connectTimeout.Seconds())))
	}
	if !strings.HasPrefix(dbURL, "postgres://") && !strings.HasPrefix(dbURL, "postgresql://") {
		return dbURL, env, nil
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid database url: %w", err)
	}
	if u.User != nil {
		if pw, ok := u.User.Password(); ok {
			env = append(env, "PGPASSWORD="+pw)
			u.User = url.User(u.User.Username())
		}
	}
	return u.String(), env, nil
}

// sink keeps all of stderr for classification and exposes a short tail for
// error messages.
type sink struct {
	bytes.Buffer
}

func stderrSink() *sink {
	return &sink{}
}

func (s *sink) Tail() string {
	out := strings.TrimSpace(s.String())
	const limit = 2048
	if len(out) > limit {
		out = "..." + out[len(out)-limit:]
	}
	return out
}
