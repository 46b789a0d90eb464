package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	// Test database defaults
	if cfg.Database.Timeout != 1*time.Second {
		t.Errorf("Database.Timeout = %v, want 1s", cfg.Database.Timeout)
	}

	// Test sync defaults
	if cfg.Sync.FlushThreshold != 100 {
		t.Errorf("Sync.FlushThreshold = %d, want 100", cfg.Sync.FlushThreshold)
	}
	if cfg.Sync.ChunkSize != 100 {
		t.Errorf("Sync.ChunkSize = %d, want 100", cfg.Sync.ChunkSize)
	}
	if cfg.Sync.MaxConcurrentRefresh != 5 {
		t.Errorf("Sync.MaxConcurrentRefresh = %d, want 5", cfg.Sync.MaxConcurrentRefresh)
	}
	if cfg.Sync.HTTPTimeout != 30*time.Second {
		t.Errorf("Sync.HTTPTimeout = %v, want 30s", cfg.Sync.HTTPTimeout)
	}
	if cfg.Sync.UserAgent == "" {
		t.Error("Sync.UserAgent should not be empty")
	}

	if cfg.Backend.Kind != BackendLocal {
		t.Errorf("Backend.Kind = %s, want %s", cfg.Backend.Kind, BackendLocal)
	}

	// Test UI defaults
	if cfg.UI.Article.MaxDescriptionLength != 150 {
		t.Errorf("UI.Article.MaxDescriptionLength = %d, want 150", cfg.UI.Article.MaxDescriptionLength)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_DefaultConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	// Test loading without a config file (should use defaults)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	// Should have default values
	if cfg.Sync.RefreshInterval != 15*time.Minute {
		t.Errorf("Sync.RefreshInterval = %v, want 15m", cfg.Sync.RefreshInterval)
	}
	if cfg.Backend.Kind != BackendLocal {
		t.Errorf("Backend.Kind = %s, want local", cfg.Backend.Kind)
	}
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "test-config.toml")
	configContent := `
[database]
path = "/tmp/test.db"
timeout = "10s"

[sync]
flush_threshold = 25
chunk_size = 50
http_timeout = "60s"
refresh_interval = "1h"
user_agent = "test-agent"

[backend]
kind = "readerapi"
endpoint = "https://reader.example.com"
variant = "freshrss"
username = "me"

[ui.colors]
primary = "#FF0000"
`

	if writeErr := os.WriteFile(configPath, []byte(configContent), 0o644); writeErr != nil {
		t.Fatal(writeErr)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Check loaded values
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %s, want '/tmp/test.db'", cfg.Database.Path)
	}
	if cfg.Database.Timeout != 10*time.Second {
		t.Errorf("Database.Timeout = %v, want 10s", cfg.Database.Timeout)
	}
	if cfg.Sync.FlushThreshold != 25 {
		t.Errorf("Sync.FlushThreshold = %d, want 25", cfg.Sync.FlushThreshold)
	}
	if cfg.Sync.ChunkSize != 50 {
		t.Errorf("Sync.ChunkSize = %d, want 50", cfg.Sync.ChunkSize)
	}
	if cfg.Sync.HTTPTimeout != 60*time.Second {
		t.Errorf("Sync.HTTPTimeout = %v, want 60s", cfg.Sync.HTTPTimeout)
	}
	if cfg.Sync.RefreshInterval != 1*time.Hour {
		t.Errorf("Sync.RefreshInterval = %v, want 1h", cfg.Sync.RefreshInterval)
	}
	if cfg.Sync.UserAgent != "test-agent" {
		t.Errorf("Sync.UserAgent = %s, want 'test-agent'", cfg.Sync.UserAgent)
	}
	if cfg.Backend.Kind != BackendReaderAPI || cfg.Backend.Variant != "freshrss" {
		t.Errorf("Backend = %+v, want readerapi/freshrss", cfg.Backend)
	}
	if cfg.UI.Colors.Primary != "#FF0000" {
		t.Errorf("UI.Colors.Primary = %s, want '#FF0000'", cfg.UI.Colors.Primary)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_PartialTablesKeepDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "partial.toml")
	configContent := `
[sync]
allow_private_hosts = true

[ui.colors]
accent = "#00FF00"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := defaultConfig()
	if !cfg.Sync.AllowPrivateHosts {
		t.Error("Sync.AllowPrivateHosts should be read from the file")
	}
	if cfg.Sync.FlushThreshold != def.Sync.FlushThreshold || cfg.Sync.MaxConcurrentRefresh != def.Sync.MaxConcurrentRefresh {
		t.Errorf("Sync = %+v, omitted keys should keep their defaults", cfg.Sync)
	}
	if cfg.Sync.HTTPTimeout != def.Sync.HTTPTimeout {
		t.Errorf("Sync.HTTPTimeout = %v, want %v", cfg.Sync.HTTPTimeout, def.Sync.HTTPTimeout)
	}
	if cfg.UI.Colors.Accent != "#00FF00" || cfg.UI.Colors.Primary != def.UI.Colors.Primary {
		t.Errorf("UI.Colors = %+v, want accent override and default primary", cfg.UI.Colors)
	}
	if cfg.UI.Article.WordWrapMaxWidth != def.UI.Article.WordWrapMaxWidth {
		t.Errorf("UI.Article.WordWrapMaxWidth = %d, want default", cfg.UI.Article.WordWrapMaxWidth)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should default when the table is missing")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	configContent := `
[backend]
kind = "readerapi"
endpoint = "https://reader.example.com"
username = "me"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FWRDSYNC_BACKEND_PASSWORD", "from-env")
	t.Setenv("FWRDSYNC_BACKEND_USERNAME", "env-user")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Password != "from-env" {
		t.Errorf("Backend.Password = %q, want 'from-env'", cfg.Backend.Password)
	}
	if cfg.Backend.Username != "env-user" {
		t.Errorf("Backend.Username = %q, want 'env-user'", cfg.Backend.Username)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "test config",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend.Kind = "ftp" },
			wantErr: "backend.kind",
		},
		{
			name: "readerapi without endpoint",
			mutate: func(c *Config) {
				c.Backend.Kind = BackendReaderAPI
				c.Backend.Username = "me"
			},
			wantErr: "backend.endpoint",
		},
		{
			name: "readerapi without username",
			mutate: func(c *Config) {
				c.Backend.Kind = BackendReaderAPI
				c.Backend.Endpoint = "https://reader.example.com"
			},
			wantErr: "backend.username",
		},
		{
			name: "feedwrangler on the hosted endpoint",
			mutate: func(c *Config) {
				c.Backend.Kind = BackendFeedWrangler
				c.Backend.Username = "me@example.com"
			},
		},
		{
			name:    "feedwrangler without email",
			mutate:  func(c *Config) { c.Backend.Kind = BackendFeedWrangler },
			wantErr: "feedwrangler email",
		},
		{
			name: "feedwrangler with bad endpoint",
			mutate: func(c *Config) {
				c.Backend.Kind = BackendFeedWrangler
				c.Backend.Username = "me@example.com"
				c.Backend.Endpoint = "feedwrangler.net"
			},
			wantErr: "backend.endpoint",
		},
		{
			name:    "cloud without database file",
			mutate:  func(c *Config) { c.Backend.Kind = BackendCloud },
			wantErr: "cloud database file",
		},
		{
			name:    "zero threshold",
			mutate:  func(c *Config) { c.Sync.FlushThreshold = 0 },
			wantErr: "sync.flush_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := TestConfig()
	cfg.Database.Path = "/test/path.db"
	cfg.Sync.UserAgent = "test-save-agent"
	cfg.Sync.FlushThreshold = 42
	cfg.Backend = BackendConfig{
		Kind:     BackendReaderAPI,
		Endpoint: "https://reader.example.com",
		Username: "me",
		Password: "secret",
	}

	savePath := filepath.Join(tmpDir, "nested", "saved-config.toml")
	if saveErr := Save(cfg, savePath); saveErr != nil {
		t.Fatalf("Save() error = %v", saveErr)
	}

	// Verify file was created
	data, err := os.ReadFile(savePath)
	if err != nil {
		t.Fatalf("Save() did not create config file: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("Save() should not write the backend password")
	}

	// Load it back and verify
	loaded, err := Load(savePath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Database.Path != cfg.Database.Path {
		t.Errorf("Loaded Database.Path = %s, want %s", loaded.Database.Path, cfg.Database.Path)
	}
	if loaded.Sync.UserAgent != cfg.Sync.UserAgent {
		t.Errorf("Loaded Sync.UserAgent = %s, want %s", loaded.Sync.UserAgent, cfg.Sync.UserAgent)
	}
	if loaded.Sync.FlushThreshold != 42 {
		t.Errorf("Loaded Sync.FlushThreshold = %d, want 42", loaded.Sync.FlushThreshold)
	}
	if loaded.Backend.Endpoint != cfg.Backend.Endpoint {
		t.Errorf("Loaded Backend.Endpoint = %s, want %s", loaded.Backend.Endpoint, cfg.Backend.Endpoint)
	}
}

func TestGenerateDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "generated.toml")
	if genErr := GenerateDefaultConfig(configPath); genErr != nil {
		t.Fatalf("GenerateDefaultConfig() error = %v", genErr)
	}

	// Load and verify it has defaults
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load generated config: %v", err)
	}

	if cfg.Sync.FlushThreshold != 100 {
		t.Errorf("Generated config has Sync.FlushThreshold = %d, want 100", cfg.Sync.FlushThreshold)
	}
	if cfg.Backend.Kind != BackendLocal {
		t.Errorf("Generated config has Backend.Kind = %s, want local", cfg.Backend.Kind)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandPath("~/data.db"); got != filepath.Join(home, "data.db") {
		t.Errorf("expandPath(~/data.db) = %s", got)
	}
	if got := expandPath("/tmp/data.db"); got != "/tmp/data.db" {
		t.Errorf("expandPath(/tmp/data.db) = %s", got)
	}
	if got := expandPath(""); got != "" {
		t.Errorf("expandPath(\"\") = %s, want empty", got)
	}
}

func TestTestConfig(t *testing.T) {
	cfg := TestConfig()

	if cfg == nil {
		t.Fatal("TestConfig() returned nil")
	}

	// Verify test-specific settings
	if cfg.Database.Path != ":memory:" {
		t.Errorf("TestConfig Database.Path = %s, want ':memory:'", cfg.Database.Path)
	}
	if cfg.Sync.UserAgent != "fwrdsync-test/1.0" {
		t.Errorf("TestConfig Sync.UserAgent = %s, want 'fwrdsync-test/1.0'", cfg.Sync.UserAgent)
	}
}
