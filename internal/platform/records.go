package platform

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role struct {
	Name        string     `json:"rolname"`
	Superuser   bool       `json:"rolsuper"`
	Inherit     bool       `json:"rolinherit"`
	CreateRole  bool       `json:"rolcreaterole"`
	CreateDB    bool       `json:"rolcreatedb"`
	CanLogin    bool       `json:"rolcanlogin"`
	Replication bool       `json:"rolreplication"`
	ConnLimit   int        `json:"rolconnlimit"`
	ValidUntil  *time.Time `json:"rolvaliduntil"`
}

type Bucket struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Public           bool     `json:"public"`
	FileSizeLimit    *int64   `json:"file_size_limit"`
	AllowedMimeTypes []string `json:"allowed_mime_types"`
}

type ObjectEntry struct {
	Name string
	ID   string
	Size int64
}

// IsFolder reports whether the entry is a prefix rather than a stored object.
func (e ObjectEntry) IsFolder() bool {
	return e.ID == ""
}

// User is a directory identity. Raw keeps the object exactly as the platform
// returned it so that a backup can persist it verbatim.
type User struct {
	ID           string          `json:"id,omitempty"`
	Email        string          `json:"email,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	UserMetadata map[string]any  `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any  `json:"app_metadata,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// DecodeUser normalizes one raw admin user object.
func DecodeUser(raw json.RawMessage) (User, error) {
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	u.Raw = append(json.RawMessage(nil), raw...)
	return u, nil
}

// Label identifies the user in logs.
func (u User) Label() string {
	switch {
	case u.Email != "":
		return u.Email
	case u.Phone != "":
		return u.Phone
	default:
		return u.ID
	}
}

// NewUser is the create request for a fresh identity on the target.
type NewUser struct {
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	EmailConfirm bool           `json:"email_confirm,omitempty"`
	PhoneConfirm bool           `json:"phone_confirm,omitempty"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

// NewUserFrom builds a pre-confirmed create request carrying the metadata over.
func NewUserFrom(u User) NewUser {
	nu := NewUser{
		Email:        u.Email,
		Phone:        u.Phone,
		EmailConfirm: u.Email != "",
		PhoneConfirm: u.Phone != "",
		UserMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
	}
	if nu.UserMetadata == nil {
		nu.UserMetadata = map[string]any{}
	}
	if nu.AppMetadata == nil {
		nu.AppMetadata = map[string]any{}
	}
	return nu
}

type Publication struct {
	Name      string             `json:"name"`
	AllTables bool               `json:"all_tables"`
	Insert    bool               `json:"insert"`
	Update    bool               `json:"update"`
	Delete    bool               `json:"delete"`
	Truncate  bool               `json:"truncate"`
	Tables    []PublicationTable `json:"tables"`
}

type PublicationTable struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type Extension struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Schema  string `json:"schema"`
}

// WebhookSnapshot is documentary: its shape depends on the platform version.
type WebhookSnapshot struct {
	DatabaseWebhooks []map[string]any `json:"database_webhooks"`
	AuthHooks        []map[string]any `json:"auth_hooks"`
	Note             string           `json:"note,omitempty"`
}
