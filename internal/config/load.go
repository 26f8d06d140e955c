package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/supa-backup/internal/cryptoutil"
)

const (
	envPrefix = "SBU"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("SBU_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but SBU_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("SBU_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"sbu.yaml",
		"sbu.yml",
		"sbu.toml",
		"sbu.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "sbu")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"sbu.yaml.enc", "sbu.yml.enc", "sbu.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.operation_timeout", "2h")
	vp.SetDefault("global.connect_timeout", "10s")
	vp.SetDefault("project.page_size", 50)
	vp.SetDefault("project.storage.use_ssl", true)
	vp.SetDefault("project.storage.force_path_style", true)
	vp.SetDefault("functions.launcher", "supabase")
	vp.SetDefault("functions.source_dir", "supabase/functions")
	vp.SetDefault("functions.staging_dir", "supabase/functions")
	vp.SetDefault("backup.dir", "./backups")
	vp.SetDefault("backup.include_storage", true)
	vp.SetDefault("backup.include_auth", true)
	vp.SetDefault("backup.include_edge_functions", true)
	vp.SetDefault("backup.table_json", true)
	vp.SetDefault("backup.retry_count", 3)
	vp.SetDefault("backup.retry_backoff", "2s")
	vp.SetDefault("restore.mode", "clean")
	for _, r := range []string{"database", "storage", "auth", "edge_functions", "roles", "realtime", "webhooks"} {
		vp.SetDefault("restore."+r, true)
	}
	vp.SetDefault("archive.backend", "local")
	vp.SetDefault("archive.local.path", "./archives")
	vp.SetDefault("archive.compression", "zstd")
	vp.SetDefault("metrics.job", "sbu")
	vp.SetDefault("schedule.timezone", "")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"project.name", "project.url", "project.service_key", "project.db_url",
		"target.name", "target.url", "target.service_key", "target.db_url",
		"functions.access_token", "archive.encryption_key", "metrics.pushgateway_url",
	} {
		_ = vp.BindEnv(key)
	}
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Backup.RetryBackoff == 0 {
		cfg.Backup.RetryBackoff = 2 * time.Second
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
	if cfg.Project.PageSize <= 0 {
		cfg.Project.PageSize = 50
	}
}

func expandEnv(cfg *Config) {
	cfg.Project = expandProjectEnv(cfg.Project)
	cfg.Target = expandProjectEnv(cfg.Target)
	cfg.Functions.AccessToken = os.ExpandEnv(cfg.Functions.AccessToken)
	cfg.Archive.EncryptionKey = os.ExpandEnv(cfg.Archive.EncryptionKey)
	cfg.Archive.S3.AccessKey = os.ExpandEnv(cfg.Archive.S3.AccessKey)
	cfg.Archive.S3.SecretKey = os.ExpandEnv(cfg.Archive.S3.SecretKey)
	cfg.Archive.S3.SessionToken = os.ExpandEnv(cfg.Archive.S3.SessionToken)
	cfg.Metrics.PushgatewayURL = os.ExpandEnv(cfg.Metrics.PushgatewayURL)
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandProjectEnv(p ProjectConfig) ProjectConfig {
	p.URL = os.ExpandEnv(p.URL)
	p.ServiceKey = os.ExpandEnv(p.ServiceKey)
	p.DBURL = os.ExpandEnv(p.DBURL)
	p.Storage.AccessKey = os.ExpandEnv(p.Storage.AccessKey)
	p.Storage.SecretKey = os.ExpandEnv(p.Storage.SecretKey)
	p.Storage.SessionToken = os.ExpandEnv(p.Storage.SessionToken)
	return p
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.Mattermost {
		cfg.Mattermost[i].URL = os.ExpandEnv(cfg.Mattermost[i].URL)
	}
	for i := range cfg.Matrix {
		cfg.Matrix[i].ServerURL = os.ExpandEnv(cfg.Matrix[i].ServerURL)
		cfg.Matrix[i].AccessToken = os.ExpandEnv(cfg.Matrix[i].AccessToken)
		cfg.Matrix[i].RoomID = os.ExpandEnv(cfg.Matrix[i].RoomID)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
