package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateImport(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.ProcessedDir) == "" {
		return errors.New("paths.processed_dir must be set")
	}
	if c.Paths.ProcessedDir == c.Paths.InboxDir {
		return errors.New("paths.inbox_dir must differ from paths.processed_dir")
	}
	return nil
}

func (c *Config) validateAPI() error {
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", parsed.Scheme)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.QueuePollInterval < 1 {
		return errors.New("sync.queue_poll_interval must be at least 1 second")
	}
	if c.Sync.MaxRetryInterval < c.Sync.ErrorRetryInterval {
		return errors.New("sync.max_retry_interval must not be below sync.error_retry_interval")
	}
	return nil
}

func (c *Config) validateImport() error {
	if len(c.Import.Extensions) == 0 {
		return errors.New("import.extensions must list at least one audio extension")
	}
	for _, ext := range c.Import.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("import.extensions entry %q must be a dotted extension", ext)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
