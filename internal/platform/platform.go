// Package platform declares the capabilities the backup and restore engine
// needs from a hosted project, and the normalized records that cross them.
package platform

import (
	"context"
	"errors"
)

var (
	// ErrNotConfigured is returned when a capability is absent for a project.
	ErrNotConfigured = errors.New("capability not configured")
	// ErrObjectExists is returned by a non-upsert upload of an existing object.
	ErrObjectExists = errors.New("object already exists")
)

// RelationalStore dumps and loads the schema and data of the project database.
type RelationalStore interface {
	Dump(ctx context.Context, path string) error
	Load(ctx context.Context, path string, tolerant bool) (*LoadResult, error)
}

// LoadResult is the diagnostic summary of a relational load.
type LoadResult struct {
	Conflicts []string
	Errors    []string
	Warnings  []string
}

// Clean reports whether the load produced no genuine errors.
func (r *LoadResult) Clean() bool {
	return r == nil || len(r.Errors) == 0
}

type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	CreateBucket(ctx context.Context, bucket Bucket) error
	// ListObjects lists one level below prefix. Folders have an empty ID.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectEntry, error)
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Upload(ctx context.Context, bucket, path string, data []byte, upsert bool) error
}

type UserDirectory interface {
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, user NewUser) error
}

type RoleCatalog interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ApplyRoleStatements(ctx context.Context, statements []string, tolerant bool) (*ApplyResult, error)
}

// ApplyResult tallies role statements. Existing counts "already exists" responses.
type ApplyResult struct {
	Applied  int
	Existing int
	Failed   []StatementError
}

type StatementError struct {
	Statement string
	Err       error
}

func (e StatementError) Error() string {
	return e.Err.Error()
}

func (e StatementError) Unwrap() error {
	return e.Err
}

type FunctionDeployer interface {
	Unlink(ctx context.Context) error
	Link(ctx context.Context, projectRef string) error
	Deploy(ctx context.Context, name, projectRef string) error
}

type PublicationCatalog interface {
	ListPublications(ctx context.Context) ([]Publication, error)
}

// TableCatalog enumerates base tables and projects their rows.
type TableCatalog interface {
	ListTables(ctx context.Context, schema string) ([]string, error)
	TableRows(ctx context.Context, schema, table string) ([]map[string]any, error)
}

// SchemaAdmin performs the destructive preparation steps of a restore.
type SchemaAdmin interface {
	DropTable(ctx context.Context, schema, table string) error
	RecreateSchema(ctx context.Context, schema string) error
}

// ConfigInspector reads documentary project configuration.
type ConfigInspector interface {
	ListExtensions(ctx context.Context) ([]Extension, error)
	Webhooks(ctx context.Context) (*WebhookSnapshot, error)
}

// Capabilities is the full set of collaborators for one project. Nil members
// are treated as not configured.
type Capabilities struct {
	URL          string
	Relational   RelationalStore
	Objects      ObjectStore
	Users        UserDirectory
	Roles        RoleCatalog
	Functions    FunctionDeployer
	Publications PublicationCatalog
	Tables       TableCatalog
	Schema       SchemaAdmin
	Inspector    ConfigInspector
}
