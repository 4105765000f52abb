package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"bookplayer/internal/config"
	"bookplayer/internal/events"
	"bookplayer/internal/fileutil"
	"bookplayer/internal/logging"
	"bookplayer/internal/syncqueue"
)

// chapterTolerance is how far the last chapter's end may drift from the book
// duration before SetChapters rejects the list.
const chapterTolerance = 1.0

// TaskSink receives the sync tasks derived from tree mutations. The sync
// queue store implements it; tests substitute a recording stub.
type TaskSink interface {
	Enqueue(ctx context.Context, job syncqueue.JobType, relativePath string, params map[string]string) (*syncqueue.Task, error)
	Rekey(ctx context.Context, changes []syncqueue.PathRewrite) error
}

// DeleteMode selects between deep and shallow deletion.
type DeleteMode string

const (
	// DeleteDeep removes the item, its descendants, and their backing files.
	DeleteDeep DeleteMode = "deep"
	// DeleteShallow removes a folder only, re-parenting its children.
	DeleteShallow DeleteMode = "shallow"
)

// Store is the authoritative library model: an in-memory tree written through
// to SQLite, plus the file moves that keep the Processed directory in
// agreement with every relative path.
//
// The store is single-writer. Every mutation takes the one mutex, so move,
// delete, and rename can never interleave inconsistently; reads return copies
// taken under the same lock.
type Store struct {
	db     *sql.DB
	path   string
	cfg    *config.Config
	logger *slog.Logger
	sink   TaskSink
	bus    *events.Bus

	mu   sync.Mutex
	tree *Tree
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithTaskSink wires the sync queue that receives mutation-derived tasks.
func WithTaskSink(sink TaskSink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithBus wires the event bus that receives tree-changed events.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithLogger sets the logger used for library diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.NewComponentLogger(logger, "library") }
}

// Open initializes or connects to the library database and loads the tree.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "library.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, cfg: cfg, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.loadTree(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AbsolutePath resolves an item's relative path against the Processed root.
func (s *Store) AbsolutePath(relativePath string) string {
	return filepath.Join(s.cfg.Paths.ProcessedDir, filepath.FromSlash(relativePath))
}

// Item returns a copy of the item at the given relative path.
func (s *Store) Item(relativePath string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Item(relativePath)
}

// Children returns the ordered children of a container ("" for root).
func (s *Store) Children(relativePath string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Children(relativePath)
}

// List returns every item depth-first in sibling order.
func (s *Store) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Item, 0, s.tree.Len())
	s.tree.Walk(func(item Item) { items = append(items, item) })
	return items
}

// Insert adds a tree-ready item (its backing file already at its destination)
// under parentPath, appending to the sibling list when at is negative. The
// insert enqueues an upload task and publishes a tree-changed event.
func (s *Store) Insert(ctx context.Context, item Item, parentPath string, at int) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(ctx, item, parentPath, at, true)
}

// InsertRemote adds an item that originated on the remote side. No sync task
// is enqueued and the item starts out marked synced.
func (s *Store) InsertRemote(ctx context.Context, item Item, parentPath string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.SyncStatus = SyncSynced
	return s.insertLocked(ctx, item, parentPath, -1, false)
}

func (s *Store) insertLocked(ctx context.Context, item Item, parentPath string, at int, enqueue bool) (Item, error) {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.SyncStatus == "" {
		item.SyncStatus = SyncPending
	}

	if err := s.tree.InsertAt(item, parentPath, at); err != nil {
		return Item{}, err
	}
	inserted, _ := s.tree.Item(ChildPath(parentPath, item.OriginalFileName))

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := upsertItemTx(ctx, tx, inserted); err != nil {
			return err
		}
		return s.persistSiblingRanks(ctx, tx, parentPath)
	}); err != nil {
		return Item{}, err
	}

	if enqueue {
		if err := s.enqueue(ctx, syncqueue.JobUpload, inserted.RelativePath, map[string]string{
			"title":            inserted.Title,
			"originalFileName": inserted.OriginalFileName,
			"type":             string(inserted.Kind),
		}); err != nil {
			return inserted, err
		}
	}
	s.publishTreeChanged(inserted.RelativePath)
	return inserted, nil
}

// CreateFolder creates a folder (or bound volume) on disk and in the tree.
func (s *Store) CreateFolder(ctx context.Context, title, parentPath string, kind Kind) (Item, error) {
	if kind != KindFolder && kind != KindBound {
		return Item{}, fmt.Errorf("%w: cannot create children under a %s", ErrNotContainer, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fileName := FolderFileName(title)
	relativePath := ChildPath(parentPath, fileName)
	if s.tree.Contains(relativePath) {
		return Item{}, fmt.Errorf("%w: %s", ErrPathCollision, relativePath)
	}
	if err := os.MkdirAll(s.AbsolutePath(relativePath), 0o755); err != nil {
		return Item{}, fmt.Errorf("create folder directory: %w", err)
	}

	return s.insertLocked(ctx, Item{
		Kind:             kind,
		Title:            title,
		OriginalFileName: fileName,
	}, parentPath, -1, true)
}

// Move re-parents items under newParentPath. For each item the backing file is
// moved first; a file-move failure aborts that item's tree mutation entirely.
func (s *Store) Move(ctx context.Context, relativePaths []string, newParentPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, relativePath := range relativePaths {
		item, ok := s.tree.Item(relativePath)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, relativePath)
		}
		newPath := ChildPath(newParentPath, item.OriginalFileName)
		if newPath == relativePath {
			continue
		}
		if s.tree.Contains(newPath) {
			return fmt.Errorf("%w: %s", ErrPathCollision, newPath)
		}
		if newParentPath != "" {
			if parent, ok := s.tree.Item(newParentPath); !ok || !parent.IsContainer() {
				return fmt.Errorf("%w: %s", ErrNotContainer, newParentPath)
			}
		}

		if err := fileutil.MoveFile(s.AbsolutePath(relativePath), s.AbsolutePath(newPath)); err != nil {
			return fmt.Errorf("move %s: %w", relativePath, err)
		}

		changes, err := s.tree.Move(relativePath, newParentPath)
		if err != nil {
			// The file already moved; put it back so disk and tree agree.
			if restoreErr := fileutil.MoveFile(s.AbsolutePath(newPath), s.AbsolutePath(relativePath)); restoreErr != nil {
				s.logger.Error("failed to restore file after aborted move",
					logging.String(logging.FieldRelativePath, relativePath),
					logging.Error(restoreErr),
				)
			}
			return err
		}

		oldParent := parentOf(relativePath)
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := applyPathChangesTx(ctx, tx, changes); err != nil {
				return err
			}
			if err := s.persistSiblingRanks(ctx, tx, oldParent); err != nil {
				return err
			}
			return s.persistSiblingRanks(ctx, tx, newParentPath)
		}); err != nil {
			return err
		}

		if err := s.rekeyTasks(ctx, changes); err != nil {
			return err
		}
		if err := s.enqueue(ctx, syncqueue.JobMove, relativePath, map[string]string{
			"origin":      relativePath,
			"destination": newPath,
		}); err != nil {
			return err
		}
		s.publishTreeChanged(newPath)
	}
	return nil
}

// RenameFolder retitles a folder, renames its directory on disk, and
// recomputes the relative path of every descendant. The operation fails
// atomically on any collision and returns the folder's new relative path.
func (s *Store) RenameFolder(ctx context.Context, relativePath, newTitle string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.tree.Item(relativePath)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if !item.IsContainer() {
		return "", fmt.Errorf("%w: %s", ErrNotContainer, relativePath)
	}

	fileName := FolderFileName(newTitle)
	newPath := ChildPath(parentOf(relativePath), fileName)
	if newPath != relativePath && s.tree.Contains(newPath) {
		return "", fmt.Errorf("%w: %s", ErrPathCollision, newPath)
	}

	if newPath != relativePath {
		if err := os.Rename(s.AbsolutePath(relativePath), s.AbsolutePath(newPath)); err != nil {
			return "", fmt.Errorf("rename folder directory: %w", err)
		}
	}

	changes, err := s.tree.RenameFolder(relativePath, newTitle)
	if err != nil {
		if newPath != relativePath {
			if restoreErr := os.Rename(s.AbsolutePath(newPath), s.AbsolutePath(relativePath)); restoreErr != nil {
				s.logger.Error("failed to restore directory after aborted rename",
					logging.String(logging.FieldRelativePath, relativePath),
					logging.Error(restoreErr),
				)
			}
		}
		return "", err
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Rekey rows first so the upsert below lands on the new primary key.
		if err := applyPathChangesTx(ctx, tx, changes); err != nil {
			return err
		}
		renamed, _ := s.tree.Item(newPath)
		return upsertItemTx(ctx, tx, renamed)
	}); err != nil {
		return "", err
	}

	if err := s.rekeyTasks(ctx, changes); err != nil {
		return newPath, err
	}
	if err := s.enqueue(ctx, syncqueue.JobRenameFolder, relativePath, map[string]string{
		"newTitle": newTitle,
		"newPath":  newPath,
	}); err != nil {
		return newPath, err
	}
	s.publishTreeChanged(newPath)
	return newPath, nil
}

// Delete removes an item. DeleteDeep removes the whole subtree and backing
// files; DeleteShallow (folders only) re-parents children to the folder's
// former parent, physically moving each child's file up one level.
func (s *Store) Delete(ctx context.Context, relativePath string, mode DeleteMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case DeleteDeep:
		return s.deleteDeepLocked(ctx, relativePath)
	case DeleteShallow:
		return s.deleteShallowLocked(ctx, relativePath)
	default:
		return fmt.Errorf("unknown delete mode %q", mode)
	}
}

func (s *Store) deleteDeepLocked(ctx context.Context, relativePath string) error {
	item, ok := s.tree.Item(relativePath)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	oldParent := parentOf(relativePath)

	removed, err := s.tree.DeleteDeep(relativePath)
	if err != nil {
		return err
	}

	// Post-order: files first, directories after their contents.
	for _, gone := range removed {
		removeErr := os.Remove(s.AbsolutePath(gone.RelativePath))
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			// The tree mutation is committed; an unremovable file becomes an
			// orphan the storage audit will flag.
			s.logger.Warn("failed to remove backing file",
				logging.String(logging.FieldRelativePath, gone.RelativePath),
				logging.Error(removeErr),
			)
		}
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, gone := range removed {
			if _, err := tx.ExecContext(ctx, `DELETE FROM library_items WHERE relative_path = ?`, gone.RelativePath); err != nil {
				return fmt.Errorf("delete row %s: %w", gone.RelativePath, err)
			}
		}
		return s.persistSiblingRanks(ctx, tx, oldParent)
	}); err != nil {
		return err
	}

	if err := s.enqueue(ctx, syncqueue.JobDelete, relativePath, map[string]string{
		"type": string(item.Kind),
	}); err != nil {
		return err
	}
	s.publishTreeChanged(relativePath)
	return nil
}

func (s *Store) deleteShallowLocked(ctx context.Context, relativePath string) error {
	item, ok := s.tree.Item(relativePath)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if !item.IsContainer() {
		return fmt.Errorf("%w: %s", ErrNotContainer, relativePath)
	}

	children, err := s.tree.Children(relativePath)
	if err != nil {
		return err
	}
	newParent := parentOf(relativePath)

	// Move backing files up one level before touching the tree so a failure
	// leaves the tree untouched. Already-moved files are put back on error.
	var moved []PathChange
	for _, child := range children {
		dest := ChildPath(newParent, child.OriginalFileName)
		if s.tree.Contains(dest) {
			s.restoreMoved(moved)
			return fmt.Errorf("%w: %s", ErrPathCollision, dest)
		}
		if err := fileutil.MoveFile(s.AbsolutePath(child.RelativePath), s.AbsolutePath(dest)); err != nil {
			s.restoreMoved(moved)
			return fmt.Errorf("relocate %s: %w", child.RelativePath, err)
		}
		moved = append(moved, PathChange{OldPath: child.RelativePath, NewPath: dest})
	}

	changes, err := s.tree.DeleteShallow(relativePath)
	if err != nil {
		s.restoreMoved(moved)
		return err
	}

	if removeErr := os.Remove(s.AbsolutePath(relativePath)); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		s.logger.Warn("failed to remove emptied folder directory",
			logging.String(logging.FieldRelativePath, relativePath),
			logging.Error(removeErr),
		)
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := applyPathChangesTx(ctx, tx, changes); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM library_items WHERE relative_path = ?`, relativePath); err != nil {
			return fmt.Errorf("delete row %s: %w", relativePath, err)
		}
		return s.persistSiblingRanks(ctx, tx, newParent)
	}); err != nil {
		return err
	}

	if err := s.rekeyTasks(ctx, changes); err != nil {
		return err
	}
	if err := s.enqueue(ctx, syncqueue.JobShallowDelete, relativePath, map[string]string{
		"type": string(item.Kind),
	}); err != nil {
		return err
	}
	s.publishTreeChanged(relativePath)
	return nil
}

func (s *Store) restoreMoved(moved []PathChange) {
	for i := len(moved) - 1; i >= 0; i-- {
		if err := fileutil.MoveFile(s.AbsolutePath(moved[i].NewPath), s.AbsolutePath(moved[i].OldPath)); err != nil {
			s.logger.Error("failed to restore file after aborted shallow delete",
				logging.String(logging.FieldRelativePath, moved[i].OldPath),
				logging.Error(err),
			)
		}
	}
}

// SetFinished flips a book's finished flag, recomputes ancestor folder
// completion, and enqueues a metadata update.
func (s *Store) SetFinished(ctx context.Context, relativePath string, finished bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed, err := s.tree.SetFinished(relativePath, finished)
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, item := range changed {
			if err := upsertItemTx(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.enqueue(ctx, syncqueue.JobUpdate, relativePath, map[string]string{
		"isFinished": strconv.FormatBool(finished),
	}); err != nil {
		return err
	}
	s.publishTreeChanged(relativePath)
	return nil
}

// UpdatePlayback records the playback position for a book and enqueues a
// coalescible metadata update.
func (s *Store) UpdatePlayback(ctx context.Context, relativePath string, currentTime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.tree.Update(relativePath, func(item *Item) {
		item.CurrentTime = currentTime
		if item.Duration > 0 {
			item.PercentCompleted = currentTime / item.Duration * 100
		}
		item.SyncStatus = SyncPending
		item.UpdatedAt = time.Now().UTC()
	})
	if err != nil {
		return err
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertItemTx(ctx, tx, item)
	}); err != nil {
		return err
	}

	return s.enqueue(ctx, syncqueue.JobUpdate, relativePath, map[string]string{
		"currentTime":      strconv.FormatFloat(currentTime, 'f', -1, 64),
		"percentCompleted": strconv.FormatFloat(item.PercentCompleted, 'f', -1, 64),
	})
}

// MarkSynced records that the remote acknowledged the item's latest upload.
func (s *Store) MarkSynced(ctx context.Context, relativePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.tree.Update(relativePath, func(item *Item) {
		item.SyncStatus = SyncSynced
	})
	if err != nil {
		return err
	}
	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		return upsertItemTx(ctx, tx, item)
	}); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.TypeSyncStatus, RelativePath: relativePath})
	}
	return nil
}

// ApplySnapshot merges a canonical remote listing into the local tree. The
// remote wins for the metadata it owns, except for items with still-queued
// local tasks, which keep their local state until the queue drains. Items
// unknown locally are inserted as remote-origin entries.
func (s *Store) ApplySnapshot(ctx context.Context, snapshot []Item, hasPending func(string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, remote := range snapshot {
		if hasPending != nil && hasPending(remote.RelativePath) {
			continue
		}
		if _, ok := s.tree.Item(remote.RelativePath); ok {
			item, err := s.tree.Update(remote.RelativePath, func(item *Item) {
				item.Title = remote.Title
				item.Duration = remote.Duration
				item.CurrentTime = remote.CurrentTime
				item.PercentCompleted = remote.PercentCompleted
				item.IsFinished = remote.IsFinished
				item.SyncStatus = SyncSynced
				item.UpdatedAt = time.Now().UTC()
			})
			if err != nil {
				return err
			}
			if err := s.inTx(ctx, func(tx *sql.Tx) error {
				return upsertItemTx(ctx, tx, item)
			}); err != nil {
				return err
			}
			continue
		}

		parent := remote.ParentPath()
		if parent != "" && !s.tree.Contains(parent) {
			// Parent not arrived yet in this snapshot ordering; skip and let
			// the next snapshot fill the gap.
			s.logger.Warn("snapshot item skipped: unknown parent",
				logging.String(logging.FieldRelativePath, remote.RelativePath),
			)
			continue
		}
		remote.SyncStatus = SyncSynced
		if _, err := s.insertLocked(ctx, remote, parent, -1, false); err != nil {
			return err
		}
	}
	return nil
}

// rekeyTasks points still-queued tasks at the paths a structural mutation just
// produced. Without it a queued upload would resolve against a path the tree
// no longer knows and be mistaken for a local deletion.
func (s *Store) rekeyTasks(ctx context.Context, changes []PathChange) error {
	if s.sink == nil || len(changes) == 0 {
		return nil
	}
	rewrites := make([]syncqueue.PathRewrite, 0, len(changes))
	for _, change := range changes {
		if change.OldPath == change.NewPath {
			continue
		}
		rewrites = append(rewrites, syncqueue.PathRewrite{OldPath: change.OldPath, NewPath: change.NewPath})
	}
	if len(rewrites) == 0 {
		return nil
	}
	if err := s.sink.Rekey(ctx, rewrites); err != nil {
		return fmt.Errorf("rekey queued tasks: %w", err)
	}
	return nil
}

func (s *Store) enqueue(ctx context.Context, job syncqueue.JobType, relativePath string, params map[string]string) error {
	if s.sink == nil {
		return nil
	}
	if _, err := s.sink.Enqueue(ctx, job, relativePath, params); err != nil {
		return fmt.Errorf("enqueue %s task: %w", job, err)
	}
	return nil
}

func (s *Store) publishTreeChanged(relativePath string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: events.TypeTreeChanged, RelativePath: relativePath})
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) persistSiblingRanks(ctx context.Context, tx *sql.Tx, parentPath string) error {
	children, err := s.tree.Children(parentPath)
	if err != nil {
		return err
	}
	for _, child := range children {
		if _, err := tx.ExecContext(ctx,
			`UPDATE library_items SET order_rank = ?, parent_path = ? WHERE relative_path = ?`,
			child.OrderRank, parentPath, child.RelativePath,
		); err != nil {
			return fmt.Errorf("persist rank for %s: %w", child.RelativePath, err)
		}
	}
	return nil
}

func upsertItemTx(ctx context.Context, tx *sql.Tx, item Item) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO library_items (
            relative_path, parent_path, kind, title, original_filename,
            order_rank, duration, play_position, percent_completed,
            is_finished, sync_status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(relative_path) DO UPDATE SET
            parent_path = excluded.parent_path,
            title = excluded.title,
            original_filename = excluded.original_filename,
            order_rank = excluded.order_rank,
            duration = excluded.duration,
            play_position = excluded.play_position,
            percent_completed = excluded.percent_completed,
            is_finished = excluded.is_finished,
            sync_status = excluded.sync_status,
            updated_at = excluded.updated_at`,
		item.RelativePath,
		item.ParentPath(),
		string(item.Kind),
		item.Title,
		item.OriginalFileName,
		item.OrderRank,
		item.Duration,
		item.CurrentTime,
		item.PercentCompleted,
		boolToInt(item.IsFinished),
		string(item.SyncStatus),
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
		item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.RelativePath, err)
	}
	return nil
}

func applyPathChangesTx(ctx context.Context, tx *sql.Tx, changes []PathChange) error {
	for _, change := range changes {
		if change.OldPath == change.NewPath {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE library_items SET relative_path = ?, parent_path = ? WHERE relative_path = ?`,
			change.NewPath, parentOf(change.NewPath), change.OldPath,
		); err != nil {
			return fmt.Errorf("rekey %s: %w", change.OldPath, err)
		}
	}
	return nil
}

func (s *Store) loadTree(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relative_path, parent_path, kind, title, original_filename,
                order_rank, duration, play_position, percent_completed,
                is_finished, sync_status, created_at, updated_at
         FROM library_items
         ORDER BY LENGTH(relative_path) - LENGTH(REPLACE(relative_path, '/', '')), parent_path, order_rank`)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	tree := NewTree()
	for rows.Next() {
		var (
			item       Item
			parentPath string
			kind       string
			finished   int
			status     string
			createdAt  string
			updatedAt  string
		)
		if err := rows.Scan(
			&item.RelativePath, &parentPath, &kind, &item.Title, &item.OriginalFileName,
			&item.OrderRank, &item.Duration, &item.CurrentTime, &item.PercentCompleted,
			&finished, &status, &createdAt, &updatedAt,
		); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		item.Kind = Kind(kind)
		item.IsFinished = finished != 0
		item.SyncStatus = SyncStatus(status)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			item.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			item.UpdatedAt = ts
		}

		// Rows are ordered shallow-first, so parents always precede children.
		if err := tree.Insert(item, parentPath); err != nil {
			s.logger.Warn("skipping unloadable item",
				logging.String(logging.FieldRelativePath, item.RelativePath),
				logging.Error(err),
			)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate items: %w", err)
	}

	tree.sortChildren()
	s.tree = tree
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
