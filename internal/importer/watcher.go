package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"bookplayer/internal/config"
	"bookplayer/internal/fileutil"
	"bookplayer/internal/logging"
)

// settleDelay is how long the watcher waits after the last write event before
// importing, so a file still being copied into the inbox isn't picked up half
// written.
const settleDelay = 2 * time.Second

// Watcher monitors the inbox directory and feeds settled files to the
// importer. Imports land at the library root; organizing into folders stays a
// deliberate user action.
type Watcher struct {
	cfg    *config.Config
	imp    *Importer
	logger *slog.Logger
	settle time.Duration
}

// NewWatcher builds an inbox watcher for the given importer.
func NewWatcher(cfg *config.Config, imp *Importer, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:    cfg,
		imp:    imp,
		logger: logging.NewComponentLogger(logger, "inbox"),
		settle: settleDelay,
	}
}

// Run watches the inbox until the context is cancelled. Files already present
// at startup are imported first, so nothing dropped while the daemon was down
// is missed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.cfg.Paths.InboxDir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	w.sweep(ctx)

	// Per-path settle timers: every write restarts the file's timer and the
	// import fires once the file has been quiet for the settle window.
	pending := make(map[string]*time.Timer)
	fired := make(chan string, 16)
	defer func() {
		for _, timer := range pending {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("inbox watcher closed")
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if fileutil.IsHidden(event.Name) {
				continue
			}
			path := event.Name
			if timer, exists := pending[path]; exists {
				timer.Reset(w.settle)
				continue
			}
			pending[path] = time.AfterFunc(w.settle, func() {
				select {
				case fired <- path:
				case <-ctx.Done():
				}
			})

		case path := <-fired:
			delete(pending, path)
			w.importPath(ctx, path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("inbox watcher closed")
			}
			w.logger.Warn("inbox watch error", logging.Error(err))
		}
	}
}

// sweep imports everything already sitting in the inbox.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Paths.InboxDir)
	if err != nil {
		w.logger.Warn("cannot read inbox", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if fileutil.IsHidden(entry.Name()) {
			continue
		}
		w.importPath(ctx, filepath.Join(w.cfg.Paths.InboxDir, entry.Name()))
	}
}

func (w *Watcher) importPath(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		// Gone before the settle window expired.
		return
	}
	result, err := w.imp.ImportBatch(ctx, []string{path}, "")
	if err != nil {
		w.logger.Warn("inbox import failed",
			logging.String("source", path),
			logging.Error(err),
		)
		return
	}
	for _, skipped := range result.Skipped {
		w.logger.Warn("inbox file skipped",
			logging.String("source", skipped.Source),
			logging.Error(skipped.Reason),
		)
	}
	if len(result.Imported) > 0 {
		w.logger.Info("inbox import complete",
			logging.Int("imported", len(result.Imported)),
		)
	}
}
