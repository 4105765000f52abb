// Package testsupport provides shared helpers for package tests: temp-dir
// configs and pre-opened stores with cleanup registered.
package testsupport

import (
	"path/filepath"
	"testing"

	"bookplayer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ProcessedDir = filepath.Join(base, "Processed")
	cfg.Paths.InboxDir = filepath.Join(base, "inbox")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.API.BaseURL = "https://sync.invalid/v1"
	cfg.Notifications.NtfyTopic = ""

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWifiOnlyUploads toggles the data-usage gate on the test config.
func WithWifiOnlyUploads(enabled bool) ConfigOption {
	return func(c *config.Config) {
		c.Sync.WifiOnlyUploads = enabled
	}
}
