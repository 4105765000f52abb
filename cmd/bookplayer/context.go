package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStores opens the queue and library stores for the duration of fn. The
// library writes its mutation tasks through the queue, matching the daemon's
// wiring, so offline CLI edits still sync later.
func (c *commandContext) withStores(fn func(cfg *config.Config, lib *library.Store, queue *syncqueue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	queue, err := syncqueue.Open(cfg)
	if err != nil {
		return err
	}
	defer queue.Close()

	lib, err := library.Open(cfg, library.WithTaskSink(queue))
	if err != nil {
		return err
	}
	defer lib.Close()

	return fn(cfg, lib, queue)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
