// Package db talks to the project database: pg_dump and psql for the
// relational dump, and a pgx catalog for everything queried directly.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowjay/supa-backup/internal/platform"
)

const (
	sqlstateDuplicateObject = "42710"
	sqlstateUndefinedObject = "42704"
)

// Querier is satisfied by *pgxpool.Pool and by pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a small pool; the engine issues one statement at a time.
func Connect(ctx context.Context, dbURL string, connectTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 2
	if connectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = connectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}

// Catalog implements the role, publication, table, schema and config
// capabilities over SQL.
type Catalog struct {
	q Querier
}

func NewCatalog(q Querier) *Catalog {
	return &Catalog{q: q}
}

const listRolesSQL = `SELECT rolname, rolsuper, rolinherit, rolcreaterole, rolcreatedb, rolcanlogin, rolreplication, rolconnlimit,
       CASE WHEN rolvaliduntil IS NULL OR rolvaliduntil = 'infinity' THEN NULL ELSE rolvaliduntil END
FROM pg_roles
WHERE rolname NOT LIKE 'pg\_%'
ORDER BY rolname`

func (c *Catalog) ListRoles(ctx context.Context) ([]platform.Role, error) {
	rows, err := c.q.Query(ctx, listRolesSQL)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()
	var out []platform.Role
	for rows.Next() {
		var r platform.Role
		var validUntil *time.Time
		if err := rows.Scan(&r.Name, &r.Superuser, &r.Inherit, &r.CreateRole, &r.CreateDB, &r.CanLogin, &r.Replication, &r.ConnLimit, &validUntil); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		r.ValidUntil = validUntil
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyRoleStatements executes each statement on its own so one failure does
// not roll back the others. duplicate_object counts as already existing.
func (c *Catalog) ApplyRoleStatements(ctx context.Context, statements []string, tolerant bool) (*platform.ApplyResult, error) {
	res := &platform.ApplyResult{}
	for _, stmt := range statements {
		_, err := c.q.Exec(ctx, stmt)
		switch {
		case err == nil:
			res.Applied++
		case sqlState(err) == sqlstateDuplicateObject:
			res.Existing++
		default:
			res.Failed = append(res.Failed, platform.StatementError{Statement: stmt, Err: err})
			if !tolerant {
				return res, fmt.Errorf("apply role statement: %w", err)
			}
		}
	}
	return res, nil
}

const (
	listPublicationsSQL = `SELECT pubname, puballtables, pubinsert, pubupdate, pubdelete, pubtruncate
FROM pg_publication
ORDER BY pubname`
	listPublicationTablesSQL = `SELECT pubname, schemaname, tablename
FROM pg_publication_tables
ORDER BY pubname, schemaname, tablename`
)

func (c *Catalog) ListPublications(ctx context.Context) ([]platform.Publication, error) {
	rows, err := c.q.Query(ctx, listPublicationsSQL)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	var pubs []platform.Publication
	index := map[string]int{}
	for rows.Next() {
		var p platform.Publication
		if err := rows.Scan(&p.Name, &p.AllTables, &p.Insert, &p.Update, &p.Delete, &p.Truncate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		p.Tables = []platform.PublicationTable{}
		index[p.Name] = len(pubs)
		pubs = append(pubs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.q.Query(ctx, listPublicationTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("list publication tables: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var t platform.PublicationTable
		if err := rows.Scan(&name, &t.Schema, &t.Table); err != nil {
			return nil, fmt.Errorf("scan publication table: %w", err)
		}
		if i, ok := index[name]; ok {
			pubs[i].Tables = append(pubs[i].Tables, t)
		}
	}
	return pubs, rows.Err()
}

const listTablesSQL = `SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

func (c *Catalog) ListTables(ctx context.Context, schema string) ([]string, error) {
	rows, err := c.q.Query(ctx, listTablesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

func (c *Catalog) TableRows(ctx context.Context, schema, table string) ([]map[string]any, error) {
	rows, err := c.q.Query(ctx, "SELECT * FROM "+qualified(schema, table))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (c *Catalog) DropTable(ctx context.Context, schema, table string) error {
	_, err := c.q.Exec(ctx, "DROP TABLE IF EXISTS "+qualified(schema, table)+" CASCADE")
	return err
}

// defaultGrants restore the access the platform API roles have on a fresh
// project. Targets without those roles skip them.
var defaultGrants = []string{
	"GRANT USAGE ON SCHEMA %[1]s TO postgres, anon, authenticated, service_role",
	"GRANT ALL ON SCHEMA %[1]s TO postgres, service_role",
	"ALTER DEFAULT PRIVILEGES IN SCHEMA %[1]s GRANT ALL ON TABLES TO postgres, anon, authenticated, service_role",
	"ALTER DEFAULT PRIVILEGES IN SCHEMA %[1]s GRANT ALL ON FUNCTIONS TO postgres, anon, authenticated, service_role",
	"ALTER DEFAULT PRIVILEGES IN SCHEMA %[1]s GRANT ALL ON SEQUENCES TO postgres, anon, authenticated, service_role",
}

func (c *Catalog) RecreateSchema(ctx context.Context, schema string) error {
	ident := QuoteIdent(schema)
	if _, err := c.q.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE"); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	if _, err := c.q.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	for _, tmpl := range defaultGrants {
		if _, err := c.q.Exec(ctx, fmt.Sprintf(tmpl, ident)); err != nil && sqlState(err) != sqlstateUndefinedObject {
			return fmt.Errorf("grant: %w", err)
		}
	}
	return nil
}

const listExtensionsSQL = `SELECT e.extname, e.extversion, n.nspname
FROM pg_extension e
JOIN pg_namespace n ON n.oid = e.extnamespace
ORDER BY e.extname`

func (c *Catalog) ListExtensions(ctx context.Context) ([]platform.Extension, error) {
	rows, err := c.q.Query(ctx, listExtensionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list extensions: %w", err)
	}
	defer rows.Close()
	var out []platform.Extension
	for rows.Next() {
		var e platform.Extension
		if err := rows.Scan(&e.Name, &e.Version, &e.Schema); err != nil {
			return nil, fmt.Errorf("scan extension: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Database webhooks are triggers calling the HTTP request helpers.
const listWebhookTriggersSQL = `SELECT event_object_schema, event_object_table, trigger_name, event_manipulation, action_timing, action_statement
FROM information_schema.triggers
WHERE action_statement ILIKE '%supabase_functions.http_request%' OR action_statement ILIKE '%net.http_post%'
ORDER BY event_object_schema, event_object_table, trigger_name`

func (c *Catalog) Webhooks(ctx context.Context) (*platform.WebhookSnapshot, error) {
	rows, err := c.q.Query(ctx, listWebhookTriggersSQL)
	if err != nil {
		return nil, fmt.Errorf("list webhook triggers: %w", err)
	}
	defer rows.Close()
	snap := &platform.WebhookSnapshot{
		DatabaseWebhooks: []map[string]any{},
		AuthHooks:        []map[string]any{},
		Note:             "auth hooks live in the project auth settings and are not readable from the database",
	}
	for rows.Next() {
		var schema, table, name, event, timing, action string
		if err := rows.Scan(&schema, &table, &name, &event, &timing, &action); err != nil {
			return nil, fmt.Errorf("scan webhook trigger: %w", err)
		}
		snap.DatabaseWebhooks = append(snap.DatabaseWebhooks, map[string]any{
			"schema": schema,
			"table":  table,
			"name":   name,
			"event":  event,
			"timing": timing,
			"action": action,
		})
	}
	return snap, rows.Err()
}

const (
	listBucketSettingsSQL = `SELECT id, name, public, file_size_limit, allowed_mime_types
FROM storage.buckets
ORDER BY name`
	updateBucketSettingsSQL = `UPDATE storage.buckets
SET public = $2, file_size_limit = $3, allowed_mime_types = $4
WHERE id = $1`
)

// BucketSettings reads bucket configuration from the storage schema.
func (c *Catalog) BucketSettings(ctx context.Context) ([]platform.Bucket, error) {
	rows, err := c.q.Query(ctx, listBucketSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("list bucket settings: %w", err)
	}
	defer rows.Close()
	var out []platform.Bucket
	for rows.Next() {
		var b platform.Bucket
		var limit *int64
		var mimes []string
		if err := rows.Scan(&b.ID, &b.Name, &b.Public, &limit, &mimes); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.FileSizeLimit = limit
		b.AllowedMimeTypes = mimes
		out = append(out, b)
	}
	return out, rows.Err()
}

// ApplyBucketSettings writes public, size limit and allowed types of a bucket.
func (c *Catalog) ApplyBucketSettings(ctx context.Context, b platform.Bucket) error {
	id := b.ID
	if id == "" {
		id = b.Name
	}
	tag, err := c.q.Exec(ctx, updateBucketSettingsSQL, id, b.Public, b.FileSizeLimit, b.AllowedMimeTypes)
	if err != nil {
		return fmt.Errorf("update bucket %s: %w", b.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update bucket %s: no such bucket", b.Name)
	}
	return nil
}

// QuoteIdent quotes a Postgres identifier.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func qualified(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
