package importer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"bookplayer/internal/config"
	"bookplayer/internal/events"
	"bookplayer/internal/fileutil"
	"bookplayer/internal/library"
	"bookplayer/internal/logging"
)

// ErrNothingToImport indicates no recognized audio file was found among the
// sources.
var ErrNothingToImport = errors.New("no importable files found")

// Importer normalizes incoming files into content-addressed library items.
// All batches serialize on one mutex so two imports never race on the same
// destination path.
type Importer struct {
	cfg    *config.Config
	lib    *library.Store
	logger *slog.Logger
	bus    *events.Bus

	mu sync.Mutex
}

// Option configures optional Importer collaborators.
type Option func(*Importer)

// WithLogger sets the logger used for import diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Importer) { i.logger = logging.NewComponentLogger(logger, "importer") }
}

// WithBus wires the event bus that receives per-item import events.
func WithBus(bus *events.Bus) Option {
	return func(i *Importer) { i.bus = bus }
}

// New builds an importer writing into the given library store.
func New(cfg *config.Config, lib *library.Store, opts ...Option) *Importer {
	imp := &Importer{cfg: cfg, lib: lib, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Skipped records one source file the batch gave up on and why.
type Skipped struct {
	Source string
	Reason error
}

// BatchResult summarizes an import batch. Imported holds the resulting
// library items in source order; a deduplicated source resolves to the item
// already present.
type BatchResult struct {
	Imported []library.Item
	Skipped  []Skipped
}

// ImportBatch imports the given source paths (files, directories, or zip
// archives) into the folder at destFolder ("" for the library root).
//
// Per-file failures are recorded in the result and the batch continues; a
// cancelled context stops processing at the next file boundary, leaving
// already-imported files in place.
func (i *Importer) ImportBatch(ctx context.Context, sources []string, destFolder string) (*BatchResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if destFolder != "" {
		if parent, ok := i.lib.Item(destFolder); !ok || !parent.IsContainer() {
			return nil, fmt.Errorf("%w: %s", library.ErrNotContainer, destFolder)
		}
	}

	result := &BatchResult{}
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		files, cleanup, err := i.expandSource(source)
		if err != nil {
			i.logger.Warn("skipping unreadable source",
				logging.String("source", source),
				logging.Error(err),
			)
			result.Skipped = append(result.Skipped, Skipped{Source: source, Reason: err})
			continue
		}

		for _, file := range files {
			if err := ctx.Err(); err != nil {
				cleanup()
				return result, err
			}
			item, err := i.importFile(ctx, file, destFolder)
			if err != nil {
				i.logger.Warn("skipping file",
					logging.String("source", file),
					logging.Error(err),
				)
				result.Skipped = append(result.Skipped, Skipped{Source: file, Reason: err})
				continue
			}
			result.Imported = append(result.Imported, item)
		}
		cleanup()
	}

	if len(result.Imported) == 0 && len(result.Skipped) == 0 {
		return result, ErrNothingToImport
	}
	if i.bus != nil && len(result.Imported) > 0 {
		i.bus.Publish(events.Event{
			Type:    events.TypeImportCompleted,
			Count:   len(result.Imported),
			Message: fmt.Sprintf("imported %d file(s)", len(result.Imported)),
		})
	}
	return result, nil
}

// expandSource turns one source path into the list of audio files it
// contributes. The returned cleanup removes any scratch state (extracted
// archives, emptied source directories) and must run regardless of outcome.
func (i *Importer) expandSource(source string) (files []string, cleanup func(), err error) {
	cleanup = func() {}

	info, err := os.Stat(source)
	if err != nil {
		return nil, cleanup, fmt.Errorf("stat source: %w", err)
	}

	switch {
	case info.IsDir():
		files, err = i.enumerateAudio(source)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() { _ = os.RemoveAll(source) }
		return files, cleanup, nil

	case strings.EqualFold(filepath.Ext(source), ".zip"):
		scratch := filepath.Join(i.cfg.ScratchDir(), uuid.NewString())
		cleanup = func() { _ = os.RemoveAll(scratch) }
		if err := extractZip(source, scratch); err != nil {
			return nil, cleanup, fmt.Errorf("extract archive: %w", err)
		}
		files, err = i.enumerateAudio(scratch)
		if err != nil {
			return nil, cleanup, err
		}
		// The archive itself is consumed on successful extraction.
		_ = os.Remove(source)
		return files, cleanup, nil

	default:
		if !i.cfg.RecognizedExtension(filepath.Ext(source)) {
			return nil, cleanup, fmt.Errorf("unrecognized extension %q", filepath.Ext(source))
		}
		return []string{source}, cleanup, nil
	}
}

// enumerateAudio collects recognized audio files under root, skipping hidden
// entries. Results come back in walk order so multi-part books keep their
// file order.
func (i *Importer) enumerateAudio(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if fileutil.IsHidden(d.Name()) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if i.cfg.RecognizedExtension(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	return files, nil
}

// importFile hashes one audio file and places it at its content-addressed
// destination. Importing the same bytes twice resolves to the same relative
// path with a single backing file.
func (i *Importer) importFile(ctx context.Context, source, destFolder string) (library.Item, error) {
	digest, err := fileutil.HashFile(source, i.cfg.Import.HashChunkKiB*1024)
	if err != nil {
		return library.Item{}, err
	}

	ext := strings.ToLower(filepath.Ext(source))
	destName := digest + ext
	relativePath := library.ChildPath(destFolder, destName)
	destAbs := i.lib.AbsolutePath(relativePath)

	if existing, ok := i.lib.Item(relativePath); ok {
		// Same bytes already imported: drop the incoming copy.
		if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return library.Item{}, fmt.Errorf("remove duplicate: %w", err)
		}
		i.logger.Info("duplicate import resolved to existing item",
			logging.String(logging.FieldRelativePath, relativePath),
		)
		return existing, nil
	}

	if _, err := os.Stat(destAbs); err == nil {
		// File present on disk but unknown to the tree (earlier crash mid
		// import). Reuse the bytes and register the item below.
		if err := os.Remove(source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return library.Item{}, fmt.Errorf("remove duplicate: %w", err)
		}
	} else {
		if err := fileutil.MoveFile(source, destAbs); err != nil {
			return library.Item{}, fmt.Errorf("place file: %w", err)
		}
	}

	if err := fileutil.RelaxProtection(destAbs); err != nil {
		i.logger.Warn("could not relax file protection",
			logging.String(logging.FieldRelativePath, relativePath),
			logging.Error(err),
		)
	}

	item, err := i.lib.Insert(ctx, library.Item{
		Kind:             library.KindBook,
		Title:            titleFrom(source),
		OriginalFileName: destName,
	}, destFolder, -1)
	if err != nil {
		return library.Item{}, err
	}
	i.logger.Info("imported",
		logging.String(logging.FieldRelativePath, item.RelativePath),
		logging.String("source", source),
	)
	return item, nil
}

// titleFrom derives a human title from the source filename, before the name
// is replaced by the content hash.
func titleFrom(source string) string {
	base := filepath.Base(source)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.ReplaceAll(title, "_", " ")
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		return trimmed
	}
	return base
}

// extractZip unpacks archive into dir, refusing entries that would escape it.
func extractZip(archive, dir string) error {
	reader, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, entry := range reader.File {
		name := filepath.FromSlash(entry.Name)
		target := filepath.Join(dir, name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes extraction dir: %s", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractEntry(entry, target); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}
	return nil
}

func extractEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
