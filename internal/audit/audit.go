// Package audit scans the processed directory and reconciles what is on disk
// against the library tree. Files without a corresponding tree node are
// orphans: bytes that no rename, move, or delete will ever touch again.
package audit

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/logging"
)

// walkConcurrency bounds the number of top-level subtrees scanned in parallel.
const walkConcurrency = 4

// Scanner walks the processed directory and flags orphaned entries.
type Scanner struct {
	cfg    *config.Config
	lib    *library.Store
	logger *slog.Logger
}

// Option configures optional Scanner collaborators.
type Option func(*Scanner)

// WithLogger sets the logger used for scan diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logging.NewComponentLogger(logger, "audit") }
}

// New constructs a scanner over cfg's processed directory.
func New(cfg *config.Config, lib *library.Store, opts ...Option) *Scanner {
	s := &Scanner{
		cfg:    cfg,
		lib:    lib,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan enumerates the processed directory and returns every entry found,
// sorted by path. Top-level subtrees are walked concurrently. Enumeration
// errors are logged and skip the affected subtree; they never fail the scan.
func (s *Scanner) Scan(ctx context.Context) ([]library.StorageItem, error) {
	root := s.cfg.Paths.ProcessedDir
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	scratch := filepath.Base(s.cfg.ScratchDir())

	var mu sync.Mutex
	var items []library.StorageItem

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(walkConcurrency)
	for _, entry := range entries {
		name := entry.Name()
		if name == scratch || strings.HasPrefix(name, ".") {
			continue
		}
		group.Go(func() error {
			found := s.walkSubtree(groupCtx, filepath.Join(root, name))
			mu.Lock()
			items = append(items, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	return items, nil
}

// Orphans returns only the entries that have no tree node.
func (s *Scanner) Orphans(ctx context.Context) ([]library.StorageItem, error) {
	all, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	orphans := all[:0]
	for _, item := range all {
		if item.ShowWarning {
			orphans = append(orphans, item)
		}
	}
	return orphans, nil
}

func (s *Scanner) walkSubtree(ctx context.Context, start string) []library.StorageItem {
	var found []library.StorageItem
	err := filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Warn("skipping unreadable subtree",
				logging.String("path", path),
				logging.Error(err),
			)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		relative, relErr := filepath.Rel(s.cfg.Paths.ProcessedDir, path)
		if relErr != nil {
			return nil
		}
		relative = filepath.ToSlash(relative)

		var size int64
		if info, infoErr := entry.Info(); infoErr == nil && !entry.IsDir() {
			size = info.Size()
		}
		_, known := s.lib.Item(relative)
		found = append(found, library.StorageItem{
			Path:        relative,
			Size:        size,
			ShowWarning: !known,
		})
		return nil
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("subtree walk aborted",
			logging.String("path", start),
			logging.Error(err),
		)
	}
	return found
}
