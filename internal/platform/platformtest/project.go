// Package platformtest provides an in-memory project implementing every
// platform capability, with failure injection for tests.
package platformtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rowjay/supa-backup/internal/platform"
)

type bucketState struct {
	meta    platform.Bucket
	objects map[string][]byte
}

// Project is a fake hosted project. Exported error fields inject failures.
type Project struct {
	mu sync.Mutex

	tables       map[string]map[string][]map[string]any
	buckets      map[string]*bucketState
	users        []platform.User
	roles        []platform.Role
	publications []platform.Publication
	extensions   []platform.Extension
	hooks        *platform.WebhookSnapshot
	nextUserID   int

	DumpErr         error
	LoadErr         error
	ListTablesErr   error
	ListBucketsErr  error
	ListUsersErr    error
	RolesErr        error
	PublicationsErr error
	ExtensionsErr   error
	WebhooksErr     error
	RecreateErr     error
	LinkErr         error
	DownloadErr     map[string]error
	DropErr         map[string]error
	CreateUserErr   map[string]error
	DeployErr       map[string]error
	ApplyErr        map[string]error

	Dropped      []string
	Recreated    []string
	Loads        []LoadCall
	Linked       []string
	Deployed     []string
	Unlinked     int
	AppliedRoles []string
}

// LoadCall records one relational load and the public tables present when it began.
type LoadCall struct {
	Path         string
	Tolerant     bool
	TablesBefore []string
}

func New() *Project {
	return &Project{
		tables:        map[string]map[string][]map[string]any{},
		buckets:       map[string]*bucketState{},
		DownloadErr:   map[string]error{},
		DropErr:       map[string]error{},
		CreateUserErr: map[string]error{},
		DeployErr:     map[string]error{},
		ApplyErr:      map[string]error{},
	}
}

// Capabilities exposes the fake through every capability slot.
func (p *Project) Capabilities(url string) platform.Capabilities {
	return platform.Capabilities{
		URL:          url,
		Relational:   p,
		Objects:      p,
		Users:        p,
		Roles:        p,
		Functions:    p,
		Publications: p,
		Tables:       p,
		Schema:       p,
		Inspector:    p,
	}
}

func (p *Project) AddTable(schema, name string, rows []map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tables[schema] == nil {
		p.tables[schema] = map[string][]map[string]any{}
	}
	p.tables[schema][name] = rows
}

func (p *Project) AddBucket(b platform.Bucket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.ID == "" {
		b.ID = b.Name
	}
	p.buckets[b.Name] = &bucketState{meta: b, objects: map[string][]byte{}}
}

func (p *Project) PutObject(bucket, path string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.buckets[bucket]
	if !ok {
		st = &bucketState{meta: platform.Bucket{ID: bucket, Name: bucket}, objects: map[string][]byte{}}
		p.buckets[bucket] = st
	}
	st.objects[path] = append([]byte(nil), data...)
}

func (p *Project) AddUser(u platform.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appendUser(u)
}

func (p *Project) AddRole(r platform.Role) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roles = append(p.roles, r)
}

func (p *Project) AddPublication(pub platform.Publication) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publications = append(p.publications, pub)
}

func (p *Project) AddExtension(ext platform.Extension) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extensions = append(p.extensions, ext)
}

func (p *Project) SetWebhooks(s *platform.WebhookSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = s
}

// Objects returns a copy of a bucket's contents.
func (p *Project) Objects(bucket string) map[string][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string][]byte{}
	if st, ok := p.buckets[bucket]; ok {
		for k, v := range st.objects {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out
}

func (p *Project) BucketMeta(name string) (platform.Bucket, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.buckets[name]
	if !ok {
		return platform.Bucket{}, false
	}
	return st.meta, true
}

func (p *Project) BucketNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.buckets))
	for name := range p.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Project) Users() []platform.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.User(nil), p.users...)
}

func (p *Project) RoleNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.roles))
	for _, r := range p.roles {
		names = append(names, r.Name)
	}
	return names
}

func (p *Project) TableNames(schema string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableNames(schema)
}

func (p *Project) tableNames(schema string) []string {
	names := make([]string, 0, len(p.tables[schema]))
	for name := range p.tables[schema] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Project) appendUser(u platform.User) {
	p.nextUserID++
	u.ID = fmt.Sprintf("user-%d", p.nextUserID)
	raw, _ := json.Marshal(u)
	u.Raw = raw
	p.users = append(p.users, u)
}

type dumpFile struct {
	Tables map[string][]map[string]any `json:"tables"`
}

func (p *Project) Dump(_ context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DumpErr != nil {
		return p.DumpErr
	}
	df := dumpFile{Tables: map[string][]map[string]any{}}
	for schema, tables := range p.tables {
		for name, rows := range tables {
			df.Tables[schema+"."+name] = rows
		}
	}
	data, err := json.Marshal(df)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (p *Project) Load(_ context.Context, path string, tolerant bool) (*platform.LoadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Loads = append(p.Loads, LoadCall{Path: path, Tolerant: tolerant, TablesBefore: p.tableNames("public")})
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var df dumpFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("syntax error in dump: %w", err)
	}
	res := &platform.LoadResult{}
	keys := make([]string, 0, len(df.Tables))
	for k := range df.Tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		schema, name, _ := strings.Cut(key, ".")
		if _, exists := p.tables[schema][name]; exists {
			msg := fmt.Sprintf("ERROR:  relation %q already exists", name)
			if !tolerant {
				res.Errors = append(res.Errors, msg)
				return res, errors.New(msg)
			}
			res.Conflicts = append(res.Conflicts, msg)
			continue
		}
		if p.tables[schema] == nil {
			p.tables[schema] = map[string][]map[string]any{}
		}
		p.tables[schema][name] = df.Tables[key]
	}
	return res, nil
}

func (p *Project) ListBuckets(_ context.Context) ([]platform.Bucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListBucketsErr != nil {
		return nil, p.ListBucketsErr
	}
	names := make([]string, 0, len(p.buckets))
	for name := range p.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]platform.Bucket, 0, len(names))
	for _, name := range names {
		out = append(out, p.buckets[name].meta)
	}
	return out, nil
}

func (p *Project) CreateBucket(_ context.Context, b platform.Bucket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.buckets[b.Name]; ok {
		return fmt.Errorf("bucket %s already exists", b.Name)
	}
	b.ID = b.Name
	p.buckets[b.Name] = &bucketState{meta: b, objects: map[string][]byte{}}
	return nil
}

func (p *Project) ListObjects(_ context.Context, bucket, prefix string) ([]platform.ObjectEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s not found", bucket)
	}
	if err := p.DownloadErr[bucket]; err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []platform.ObjectEntry
	for key, data := range st.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if dir, _, nested := strings.Cut(rest, "/"); nested {
			if !seen[dir] {
				seen[dir] = true
				out = append(out, platform.ObjectEntry{Name: dir})
			}
			continue
		}
		out = append(out, platform.ObjectEntry{Name: rest, ID: "obj:" + key, Size: int64(len(data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (p *Project) Download(_ context.Context, bucket, path string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.DownloadErr[bucket]; err != nil {
		return nil, err
	}
	st, ok := p.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s not found", bucket)
	}
	data, ok := st.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, path)
	}
	return append([]byte(nil), data...), nil
}

func (p *Project) Upload(_ context.Context, bucket, path string, data []byte, upsert bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s not found", bucket)
	}
	if _, exists := st.objects[path]; exists && !upsert {
		return platform.ErrObjectExists
	}
	st.objects[path] = append([]byte(nil), data...)
	return nil
}

func (p *Project) ListUsers(_ context.Context) ([]platform.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListUsersErr != nil {
		return nil, p.ListUsersErr
	}
	return append([]platform.User(nil), p.users...), nil
}

func (p *Project) CreateUser(_ context.Context, nu platform.NewUser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := nu.Email
	if key == "" {
		key = nu.Phone
	}
	if err := p.CreateUserErr[key]; err != nil {
		return err
	}
	for _, u := range p.users {
		if (nu.Email != "" && u.Email == nu.Email) || (nu.Phone != "" && u.Phone == nu.Phone) {
			return fmt.Errorf("a user with this identifier has already been registered: %s", key)
		}
	}
	p.appendUser(platform.User{
		Email:        nu.Email,
		Phone:        nu.Phone,
		UserMetadata: nu.UserMetadata,
		AppMetadata:  nu.AppMetadata,
	})
	return nil
}

func (p *Project) ListRoles(_ context.Context) ([]platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RolesErr != nil {
		return nil, p.RolesErr
	}
	return append([]platform.Role(nil), p.roles...), nil
}

var createRoleName = regexp.MustCompile(`(?i)^CREATE ROLE "((?:[^"]|"")+)"`)

func (p *Project) ApplyRoleStatements(_ context.Context, statements []string, tolerant bool) (*platform.ApplyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := &platform.ApplyResult{}
	for _, stmt := range statements {
		m := createRoleName.FindStringSubmatch(stmt)
		if m == nil {
			res.Failed = append(res.Failed, platform.StatementError{Statement: stmt, Err: errors.New("syntax error")})
			if !tolerant {
				return res, res.Failed[len(res.Failed)-1]
			}
			continue
		}
		name := strings.ReplaceAll(m[1], `""`, `"`)
		if err := p.ApplyErr[name]; err != nil {
			res.Failed = append(res.Failed, platform.StatementError{Statement: stmt, Err: err})
			if !tolerant {
				return res, err
			}
			continue
		}
		exists := false
		for _, r := range p.roles {
			if r.Name == name {
				exists = true
				break
			}
		}
		if exists {
			res.Existing++
			continue
		}
		p.roles = append(p.roles, platform.Role{Name: name})
		p.AppliedRoles = append(p.AppliedRoles, name)
		res.Applied++
	}
	return res, nil
}

func (p *Project) Unlink(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Unlinked++
	return nil
}

func (p *Project) Link(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LinkErr != nil {
		return p.LinkErr
	}
	p.Linked = append(p.Linked, ref)
	return nil
}

func (p *Project) Deploy(_ context.Context, name, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.DeployErr[name]; err != nil {
		return err
	}
	p.Deployed = append(p.Deployed, name)
	return nil
}

func (p *Project) ListPublications(_ context.Context) ([]platform.Publication, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublicationsErr != nil {
		return nil, p.PublicationsErr
	}
	return append([]platform.Publication(nil), p.publications...), nil
}

func (p *Project) ListTables(_ context.Context, schema string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListTablesErr != nil {
		return nil, p.ListTablesErr
	}
	return p.tableNames(schema), nil
}

func (p *Project) TableRows(_ context.Context, schema, table string) ([]map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, ok := p.tables[schema][table]
	if !ok {
		return nil, fmt.Errorf("relation %s.%s does not exist", schema, table)
	}
	return rows, nil
}

func (p *Project) DropTable(_ context.Context, schema, table string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Dropped = append(p.Dropped, table)
	if err := p.DropErr[table]; err != nil {
		return err
	}
	delete(p.tables[schema], table)
	return nil
}

func (p *Project) RecreateSchema(_ context.Context, schema string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Recreated = append(p.Recreated, schema)
	if p.RecreateErr != nil {
		return p.RecreateErr
	}
	p.tables[schema] = map[string][]map[string]any{}
	return nil
}

func (p *Project) ListExtensions(_ context.Context) ([]platform.Extension, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ExtensionsErr != nil {
		return nil, p.ExtensionsErr
	}
	return append([]platform.Extension(nil), p.extensions...), nil
}

func (p *Project) Webhooks(_ context.Context) (*platform.WebhookSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WebhooksErr != nil {
		return nil, p.WebhooksErr
	}
	if p.hooks == nil {
		return &platform.WebhookSnapshot{}, nil
	}
	return p.hooks, nil
}
