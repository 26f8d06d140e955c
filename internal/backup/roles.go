package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/rowjay/supa-backup/internal/platform"
)

// builtinRoles are provisioned by the platform on every project.
var builtinRoles = map[string]bool{
	"postgres":       true,
	"anon":           true,
	"authenticated":  true,
	"service_role":   true,
	"authenticator":  true,
	"dashboard_user": true,
	"pgbouncer":      true,
}

var systemRolePrefixes = []string{"pg_", "supabase", "pgsodium_"}

// IsSystemRole reports whether a role belongs to the platform rather than the user.
func IsSystemRole(name string) bool {
	if builtinRoles[name] {
		return true
	}
	for _, prefix := range systemRolePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// UserRoles drops system roles and the primary admin role.
func UserRoles(roles []platform.Role) []platform.Role {
	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		if !IsSystemRole(r.Name) {
			out = append(out, r)
		}
	}
	return out
}

// SplitRoles separates roles whose names cannot be written as one line of
// roles.sql, which is read back a statement per line.
func SplitRoles(roles []platform.Role) (kept []platform.Role, rejected []string) {
	kept = make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		if strings.ContainsAny(r.Name, "\r\n") {
			rejected = append(rejected, r.Name)
			continue
		}
		kept = append(kept, r)
	}
	return kept, rejected
}

// RoleStatement renders a single-line CREATE ROLE for r.
func RoleStatement(r platform.Role) string {
	var b strings.Builder
	b.WriteString("CREATE ROLE ")
	b.WriteString(quoteIdent(r.Name))
	b.WriteString(" WITH")
	flag := func(on bool, yes, no string) {
		b.WriteByte(' ')
		if on {
			b.WriteString(yes)
		} else {
			b.WriteString(no)
		}
	}
	flag(r.CanLogin, "LOGIN", "NOLOGIN")
	flag(r.Superuser, "SUPERUSER", "NOSUPERUSER")
	flag(r.Inherit, "INHERIT", "NOINHERIT")
	flag(r.CreateRole, "CREATEROLE", "NOCREATEROLE")
	flag(r.CreateDB, "CREATEDB", "NOCREATEDB")
	flag(r.Replication, "REPLICATION", "NOREPLICATION")
	fmt.Fprintf(&b, " CONNECTION LIMIT %d", r.ConnLimit)
	if r.ValidUntil != nil {
		fmt.Fprintf(&b, " VALID UNTIL %s", quoteLiteral(r.ValidUntil.UTC().Format(time.RFC3339)))
	}
	b.WriteByte(';')
	return b.String()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}
