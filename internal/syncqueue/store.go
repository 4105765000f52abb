package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"bookplayer/internal/config"
	"bookplayer/internal/events"
	"bookplayer/internal/logging"
)

// Store is the durable FIFO of pending remote mutations, backed by SQLite.
// All writes are serialized through one mutex so enqueue coalescing and drain
// removal never interleave.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	bus    *events.Bus

	mu sync.Mutex
}

// Option configures optional Store collaborators.
type Option func(*Store)

// WithBus wires the event bus that receives queue-changed events.
func WithBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithLogger sets the logger used for queue diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.NewComponentLogger(logger, "syncqueue") }
}

// Open initializes or connects to the queue database.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "queue.db")
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

	store := &Store{db: db, path: dbPath, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
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

// Path returns the queue database location.
func (s *Store) Path() string { return s.path }

// Enqueue appends a task, applying the coalescing rules first:
//   - a new update replaces any still-queued update for the same path
//   - a delete supersedes every queued task for the path and its descendants
//   - a move or folder rename whose destination still has a queued upload is
//     dropped entirely: the remote never saw the origin, and the upload
//     (rekeyed to the destination) creates the item there directly
//
// The returned task carries the assigned ID; a coalesced-away move or rename
// returns a nil task.
func (s *Store) Enqueue(ctx context.Context, job JobType, relativePath string, params map[string]string) (*Task, error) {
	if !job.Valid() {
		return nil, fmt.Errorf("unknown job type %q", job)
	}
	if relativePath == "" {
		return nil, errors.New("relative path required")
	}
	if params == nil {
		params = map[string]string{}
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch job {
	case JobUpdate:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sync_tasks WHERE relative_path = ? AND job_type = ?`,
			relativePath, string(JobUpdate),
		); err != nil {
			return nil, fmt.Errorf("coalesce updates: %w", err)
		}
	case JobDelete:
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sync_tasks WHERE relative_path = ? OR relative_path LIKE ? ESCAPE '\'`,
			relativePath, likePrefix(relativePath),
		); err != nil {
			return nil, fmt.Errorf("coalesce deletes: %w", err)
		}
	case JobMove, JobRenameFolder:
		destination := params["destination"]
		if job == JobRenameFolder {
			destination = params["newPath"]
		}
		uploads, err := countUploadsTx(ctx, tx, destination)
		if err != nil {
			return nil, err
		}
		if uploads > 0 {
			return nil, nil
		}
	}

	task := &Task{
		ID:           uuid.NewString(),
		RelativePath: relativePath,
		JobType:      job,
		Parameters:   params,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_tasks (id, seq, relative_path, job_type, parameters, created_at)
         VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM sync_tasks), ?, ?, ?, ?)`,
		task.ID,
		task.RelativePath,
		string(task.JobType),
		string(encoded),
		task.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	depth, err := countTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}

	s.logger.Debug("task enqueued",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldJobType, string(job)),
		logging.String(logging.FieldRelativePath, relativePath),
	)
	s.publishDepth(depth, task.ID)
	return task, nil
}

// Rekey redirects queued tasks after a structural mutation moved items
// locally. Only paths the remote has never seen are rewritten: when an upload
// is still queued for the old path, every queued task for that path follows
// the item to its new location, so the upload resolves against the tree and
// ships the bytes from where they now live. Tasks for already-synced paths
// stay put; in queue order they run before the structural task that relocates
// them remotely.
func (s *Store) Rekey(ctx context.Context, changes []PathRewrite) error {
	if len(changes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rekey tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, change := range changes {
		if change.OldPath == change.NewPath {
			continue
		}
		uploads, err := countUploadsTx(ctx, tx, change.OldPath)
		if err != nil {
			return err
		}
		if uploads == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_tasks SET relative_path = ? WHERE relative_path = ?`,
			change.NewPath, change.OldPath,
		); err != nil {
			return fmt.Errorf("rekey tasks %s -> %s: %w", change.OldPath, change.NewPath, err)
		}
		s.logger.Debug("queued tasks rekeyed",
			logging.String(logging.FieldRelativePath, change.NewPath),
		)
	}
	return tx.Commit()
}

// NextPending returns the oldest queued task, or nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, relative_path, job_type, parameters, created_at, attempts, last_error
         FROM sync_tasks ORDER BY seq ASC LIMIT 1`)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

// Remove deletes a drained or dropped task by ID.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove task: %w", err)
	}
	depth, err := s.countLocked(ctx)
	if err != nil {
		return err
	}
	s.publishDepth(depth, id)
	return nil
}

// RecordFailure bumps the attempt counter and stores the latest error text so
// a stuck task is diagnosable from the queue listing.
func (s *Store) RecordFailure(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sync_tasks SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		message, id,
	); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Count returns the number of queued tasks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sync_tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// List returns every queued task in FIFO order.
func (s *Store) List(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, relative_path, job_type, parameters, created_at, attempts, last_error
         FROM sync_tasks ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// HasPendingFor reports whether any queued task targets the given path.
func (s *Store) HasPendingFor(ctx context.Context, relativePath string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sync_tasks WHERE relative_path = ?`, relativePath,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return count > 0, nil
}

// Clear removes every queued task and returns how many were dropped.
func (s *Store) Clear(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_tasks`)
	if err != nil {
		return 0, fmt.Errorf("clear tasks: %w", err)
	}
	affected, _ := res.RowsAffected()
	s.publishDepth(0, "")
	return int(affected), nil
}

func (s *Store) countLocked(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sync_tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func countUploadsTx(ctx context.Context, tx *sql.Tx, relativePath string) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sync_tasks WHERE relative_path = ? AND job_type = ?`,
		relativePath, string(JobUpload),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queued uploads for %s: %w", relativePath, err)
	}
	return count, nil
}

func countTx(ctx context.Context, tx *sql.Tx) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sync_tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

func (s *Store) publishDepth(depth int, taskID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:       events.TypeQueueChanged,
		QueueDepth: depth,
		TaskID:     taskID,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task      Task
		jobType   string
		encoded   string
		createdAt string
	)
	if err := row.Scan(&task.ID, &task.RelativePath, &jobType, &encoded, &createdAt, &task.Attempts, &task.LastError); err != nil {
		return nil, err
	}
	task.JobType = JobType(jobType)
	if err := json.Unmarshal([]byte(encoded), &task.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters for task %s: %w", task.ID, err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		task.CreatedAt = ts
	}
	return &task, nil
}

// likePrefix builds a LIKE pattern matching strict descendants of path,
// escaping LIKE metacharacters in the path itself.
func likePrefix(path string) string {
	escaped := make([]rune, 0, len(path)+8)
	for _, r := range path {
		switch r {
		case '%', '_', '\\':
			escaped = append(escaped, '\\', r)
		default:
			escaped = append(escaped, r)
		}
	}
	return string(escaped) + "/%"
}
