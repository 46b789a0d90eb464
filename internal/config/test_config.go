package config

import "time"

// TestConfig returns a config suitable for testing
func TestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:    ":memory:", // Tests replace this with a t.TempDir() file
			Timeout: 1 * time.Second,
		},
		Sync: SyncConfig{
			FlushThreshold:       100,
			ChunkSize:            100,
			MaxConcurrentRefresh: 2,
			HTTPTimeout:          5 * time.Second,
			RefreshInterval:      1 * time.Minute,
			UserAgent:            "fwrdsync-test/1.0",
			AllowPrivateHosts:    true,
		},
		Backend: BackendConfig{Kind: BackendLocal},
		Log:     LogConfig{Level: "off"},
		UI:      defaultConfig().UI,
	}
}
