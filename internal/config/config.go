package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Log      LogConfig      `mapstructure:"log"`
	UI       UIConfig       `mapstructure:"ui"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
	// SearchIndex is the bleve index directory; empty scans the mirror instead.
	SearchIndex string `mapstructure:"search_index"`
}

type SyncConfig struct {
	FlushThreshold       int           `mapstructure:"flush_threshold"`
	ChunkSize            int           `mapstructure:"chunk_size"`
	MaxConcurrentRefresh int           `mapstructure:"max_concurrent_refresh"`
	HTTPTimeout          time.Duration `mapstructure:"http_timeout"`
	RefreshInterval      time.Duration `mapstructure:"refresh_interval"`
	UserAgent            string        `mapstructure:"user_agent"`
	// AllowPrivateHosts lets feeds on localhost and private networks be added.
	AllowPrivateHosts bool `mapstructure:"allow_private_hosts"`
}

type BackendConfig struct {
	// Kind is one of local, readerapi, feedwrangler or cloud.
	Kind string `mapstructure:"kind"`
	// Endpoint is the Reader API or Feed Wrangler base URL, or the cloud
	// database file.
	Endpoint string `mapstructure:"endpoint"`
	Variant  string `mapstructure:"variant"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	AppID    string `mapstructure:"app_id"`
	// AppKey doubles as the Feed Wrangler client key.
	AppKey string `mapstructure:"app_key"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File is the log destination; "-" writes to stderr.
	File string `mapstructure:"file"`
}

type UIConfig struct {
	Colors  UIColors      `mapstructure:"colors"`
	Article ArticleConfig `mapstructure:"article"`
}

type UIColors struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	Accent    string `mapstructure:"accent"`
	Text      string `mapstructure:"text"`
	Muted     string `mapstructure:"muted"`
	Error     string `mapstructure:"error"`
	Success   string `mapstructure:"success"`
}

type ArticleConfig struct {
	MaxDescriptionLength int `mapstructure:"max_description_length"`
	WordWrapMaxWidth     int `mapstructure:"word_wrap_max_width"`
	WordWrapMinWidth     int `mapstructure:"word_wrap_min_width"`
}

const (
	BackendLocal        = "local"
	BackendReaderAPI    = "readerapi"
	BackendFeedWrangler = "feedwrangler"
	BackendCloud        = "cloud"
)

// DefaultPath is where Load looks when no file is given.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "fwrdsync", "config.toml")
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".fwrdsync")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "fwrdsync.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
		},
		Sync: SyncConfig{
			FlushThreshold:       100,
			ChunkSize:            100,
			MaxConcurrentRefresh: 5,
			HTTPTimeout:          30 * time.Second,
			RefreshInterval:      15 * time.Minute,
			UserAgent:            "fwrdsync/1.0 (https://github.com/pders01/fwrdsync)",
		},
		Backend: BackendConfig{
			Kind: BackendLocal,
		},
		Log: LogConfig{
			Level: "off",
		},
		UI: UIConfig{
			Colors: UIColors{
				Primary:   "#FF6B6B",
				Secondary: "#4ECDC4",
				Accent:    "#95E1D3",
				Text:      "#EAEAEA",
				Muted:     "#94A3B8",
				Error:     "#F87171",
				Success:   "#4ADE80",
			},
			Article: ArticleConfig{
				MaxDescriptionLength: 150,
				WordWrapMaxWidth:     120,
				WordWrapMinWidth:     40,
			},
		},
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Leaf defaults, so a partial table in the file keeps the keys it omits
	// and AutomaticEnv can resolve every nested key.
	for key, value := range defaultValues(defaultConfig()) {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Dir(DefaultPath()))
		v.AddConfigPath(".")
	}

	// FWRDSYNC_BACKEND_PASSWORD overrides backend.password, and so on.
	v.SetEnvPrefix("FWRDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand paths after loading
	expandPaths(&config)

	return &config, nil
}

func defaultValues(cfg *Config) map[string]any {
	return map[string]any{
		"database.path":         cfg.Database.Path,
		"database.timeout":      cfg.Database.Timeout,
		"database.search_index": cfg.Database.SearchIndex,

		"sync.flush_threshold":        cfg.Sync.FlushThreshold,
		"sync.chunk_size":             cfg.Sync.ChunkSize,
		"sync.max_concurrent_refresh": cfg.Sync.MaxConcurrentRefresh,
		"sync.http_timeout":           cfg.Sync.HTTPTimeout,
		"sync.refresh_interval":       cfg.Sync.RefreshInterval,
		"sync.user_agent":             cfg.Sync.UserAgent,
		"sync.allow_private_hosts":    cfg.Sync.AllowPrivateHosts,

		"backend.kind":     cfg.Backend.Kind,
		"backend.endpoint": cfg.Backend.Endpoint,
		"backend.variant":  cfg.Backend.Variant,
		"backend.username": cfg.Backend.Username,
		"backend.password": cfg.Backend.Password,
		"backend.app_id":   cfg.Backend.AppID,
		"backend.app_key":  cfg.Backend.AppKey,

		"log.level": cfg.Log.Level,
		"log.file":  cfg.Log.File,

		"ui.colors.primary":   cfg.UI.Colors.Primary,
		"ui.colors.secondary": cfg.UI.Colors.Secondary,
		"ui.colors.accent":    cfg.UI.Colors.Accent,
		"ui.colors.text":      cfg.UI.Colors.Text,
		"ui.colors.muted":     cfg.UI.Colors.Muted,
		"ui.colors.error":     cfg.UI.Colors.Error,
		"ui.colors.success":   cfg.UI.Colors.Success,

		"ui.article.max_description_length": cfg.UI.Article.MaxDescriptionLength,
		"ui.article.word_wrap_max_width":    cfg.UI.Article.WordWrapMaxWidth,
		"ui.article.word_wrap_min_width":    cfg.UI.Article.WordWrapMinWidth,
	}
}

// Validate reports every setting that would prevent an account from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is empty"))
	}
	if c.Sync.FlushThreshold <= 0 {
		errs = append(errs, fmt.Errorf("sync.flush_threshold must be positive, got %d", c.Sync.FlushThreshold))
	}
	if c.Sync.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.chunk_size must be positive, got %d", c.Sync.ChunkSize))
	}
	if c.Sync.MaxConcurrentRefresh <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_concurrent_refresh must be positive, got %d", c.Sync.MaxConcurrentRefresh))
	}

	switch c.Backend.Kind {
	case BackendLocal:
	case BackendReaderAPI:
		u, err := url.Parse(c.Backend.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend.endpoint %q is not an http(s) URL", c.Backend.Endpoint))
		}
		if c.Backend.Username == "" {
			errs = append(errs, errors.New("backend.username is required for readerapi"))
		}
	case BackendFeedWrangler:
		if c.Backend.Endpoint != "" {
			u, err := url.Parse(c.Backend.Endpoint)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, fmt.Errorf("backend.endpoint %q is not an http(s) URL", c.Backend.Endpoint))
			}
		}
		if c.Backend.Username == "" {
			errs = append(errs, errors.New("backend.username must be the feedwrangler email"))
		}
	case BackendCloud:
		if c.Backend.Endpoint == "" {
			errs = append(errs, errors.New("backend.endpoint must name the cloud database file"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend.kind %q is not one of local, readerapi, feedwrangler, cloud", c.Backend.Kind))
	}
	return errors.Join(errs...)
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand tilde
	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	// Convert to absolute path if not already absolute
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

// expandPaths expands all paths in the config
func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	if cfg.Log.File != "-" {
		cfg.Log.File = expandPath(cfg.Log.File)
	}
	if cfg.Backend.Kind == BackendCloud {
		cfg.Backend.Endpoint = expandPath(cfg.Backend.Endpoint)
	}
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Convert durations to strings for TOML readability
	dbCfg := map[string]interface{}{
		"path":         config.Database.Path,
		"timeout":      config.Database.Timeout.String(),
		"search_index": config.Database.SearchIndex,
	}

	syncCfg := map[string]interface{}{
		"flush_threshold":        config.Sync.FlushThreshold,
		"chunk_size":             config.Sync.ChunkSize,
		"max_concurrent_refresh": config.Sync.MaxConcurrentRefresh,
		"http_timeout":           config.Sync.HTTPTimeout.String(),
		"refresh_interval":       config.Sync.RefreshInterval.String(),
		"user_agent":             config.Sync.UserAgent,
		"allow_private_hosts":    config.Sync.AllowPrivateHosts,
	}

	// Secrets are left to the environment.
	backendCfg := map[string]interface{}{
		"kind":     config.Backend.Kind,
		"endpoint": config.Backend.Endpoint,
		"variant":  config.Backend.Variant,
		"username": config.Backend.Username,
		"app_id":   config.Backend.AppID,
	}

	v.Set("database", dbCfg)
	v.Set("sync", syncCfg)
	v.Set("backend", backendCfg)
	v.Set("log", map[string]interface{}{
		"level": config.Log.Level,
		"file":  config.Log.File,
	})
	v.Set("ui", map[string]interface{}{
		"colors": map[string]interface{}{
			"primary":   config.UI.Colors.Primary,
			"secondary": config.UI.Colors.Secondary,
			"accent":    config.UI.Colors.Accent,
			"text":      config.UI.Colors.Text,
			"muted":     config.UI.Colors.Muted,
			"error":     config.UI.Colors.Error,
			"success":   config.UI.Colors.Success,
		},
		"article": map[string]interface{}{
			"max_description_length": config.UI.Article.MaxDescriptionLength,
			"word_wrap_max_width":    config.UI.Article.WordWrapMaxWidth,
			"word_wrap_min_width":    config.UI.Article.WordWrapMinWidth,
		},
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
