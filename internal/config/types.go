package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Project       ProjectConfig       `mapstructure:"project"`
	Target        ProjectConfig       `mapstructure:"target"`
	Functions     FunctionsConfig     `mapstructure:"functions"`
	Backup        BackupConfig        `mapstructure:"backup"`
	Restore       RestoreConfig       `mapstructure:"restore"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

type GlobalConfig struct {
	LogLevel          string        `mapstructure:"log_level"`
	LogFormat         string        `mapstructure:"log_format"` // json or console
	LockFile          string        `mapstructure:"lock_file"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase  string        `mapstructure:"config_passphrase"` // optional; may come from env
	AllowMissingTools bool          `mapstructure:"allow_missing_tools"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// ProjectConfig locates one hosted project.
type ProjectConfig struct {
	Name       string        `mapstructure:"name"`
	URL        string        `mapstructure:"url"`
	ServiceKey string        `mapstructure:"service_key"`
	DBURL      string        `mapstructure:"db_url"`
	PageSize   int           `mapstructure:"page_size"`
	Storage    StorageConfig `mapstructure:"storage"`
}

// StorageConfig is the S3-compatible endpoint of the project's file storage.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type FunctionsConfig struct {
	Launcher    string `mapstructure:"launcher"` // supabase or npx
	SourceDir   string `mapstructure:"source_dir"`
	StagingDir  string `mapstructure:"staging_dir"`
	AccessToken string `mapstructure:"access_token"`
}

type BackupConfig struct {
	Dir                  string        `mapstructure:"dir"`
	IncludeStorage       bool          `mapstructure:"include_storage"`
	IncludeAuth          bool          `mapstructure:"include_auth"`
	IncludeEdgeFunctions bool          `mapstructure:"include_edge_functions"`
	TableJSON            bool          `mapstructure:"table_json"`
	RetryCount           int           `mapstructure:"retry_count"`
	RetryBackoff         time.Duration `mapstructure:"retry_backoff"`
	Archive              bool          `mapstructure:"archive"`
}

type RestoreConfig struct {
	Mode            string `mapstructure:"mode"` // clean, merge, force
	Database        bool   `mapstructure:"database"`
	Storage         bool   `mapstructure:"storage"`
	Auth            bool   `mapstructure:"auth"`
	EdgeFunctions   bool   `mapstructure:"edge_functions"`
	Roles           bool   `mapstructure:"roles"`
	Realtime        bool   `mapstructure:"realtime"`
	Webhooks        bool   `mapstructure:"webhooks"`
	DeployFunctions bool   `mapstructure:"deploy_functions"`
}

// ArchiveConfig is the offsite destination for packed bundles.
type ArchiveConfig struct {
	Backend       string     `mapstructure:"backend"` // local, s3
	Local         LocalStore `mapstructure:"local"`
	S3            S3Store    `mapstructure:"s3"`
	Prefix        string     `mapstructure:"prefix"`
	Compression   string     `mapstructure:"compression"` // none, gzip, zstd
	Encryption    bool       `mapstructure:"encryption"`
	EncryptionKey string     `mapstructure:"encryption_key"`
	Retention     Retention  `mapstructure:"retention"`
}

type Retention struct {
	KeepLast int   `mapstructure:"keep_last"`
	KeepDays int   `mapstructure:"keep_days"`
	MaxBytes int64 `mapstructure:"max_bytes"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

// TargetProject resolves the restore target. An unset target means the
// source project itself; a partly set one never borrows source endpoints.
func (c *Config) TargetProject() ProjectConfig {
	t := c.Target
	if t.URL == "" && t.DBURL == "" {
		return c.Project
	}
	if t.Name == "" {
		t.Name = c.Project.Name
	}
	if t.PageSize == 0 {
		t.PageSize = c.Project.PageSize
	}
	return t
}
