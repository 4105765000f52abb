package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"bookplayer/internal/syncqueue"
)

// SetBookmark saves (or overwrites) a bookmark at the given position and
// enqueues its remote mutation.
func (s *Store) SetBookmark(ctx context.Context, relativePath string, at float64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tree.Contains(relativePath) {
		return fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bookmarks (relative_path, time, note, created_at)
             VALUES (?, ?, ?, ?)
             ON CONFLICT(relative_path, time) DO UPDATE SET note = excluded.note`,
			relativePath, at, note, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("upsert bookmark: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	return s.enqueue(ctx, syncqueue.JobSetBookmark, relativePath, map[string]string{
		"time": strconv.FormatFloat(at, 'f', -1, 64),
		"note": note,
	})
}

// DeleteBookmark removes a bookmark and enqueues its remote deletion.
func (s *Store) DeleteBookmark(ctx context.Context, relativePath string, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM bookmarks WHERE relative_path = ? AND time = ?`,
			relativePath, at,
		)
		if err != nil {
			return fmt.Errorf("delete bookmark: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: no bookmark at %.2f for %s", ErrNotFound, at, relativePath)
		}
		return nil
	}); err != nil {
		return err
	}

	return s.enqueue(ctx, syncqueue.JobDeleteBookmark, relativePath, map[string]string{
		"time": strconv.FormatFloat(at, 'f', -1, 64),
	})
}

// Bookmarks returns an item's bookmarks ordered by position.
func (s *Store) Bookmarks(ctx context.Context, relativePath string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relative_path, time, note, created_at
         FROM bookmarks WHERE relative_path = ? ORDER BY time ASC`,
		relativePath)
	if err != nil {
		return nil, fmt.Errorf("load bookmarks: %w", err)
	}
	defer rows.Close()

	var bookmarks []Bookmark
	for rows.Next() {
		var (
			bookmark  Bookmark
			createdAt string
		)
		if err := rows.Scan(&bookmark.RelativePath, &bookmark.Time, &bookmark.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			bookmark.CreatedAt = ts
		}
		bookmarks = append(bookmarks, bookmark)
	}
	return bookmarks, rows.Err()
}

// SetArtwork enqueues an artwork upload for the item. The artwork file must
// exist; it is referenced by absolute path in the task parameters.
func (s *Store) SetArtwork(ctx context.Context, relativePath, artworkPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tree.Contains(relativePath) {
		return fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if _, err := os.Stat(artworkPath); err != nil {
		return fmt.Errorf("artwork file: %w", err)
	}

	return s.enqueue(ctx, syncqueue.JobUploadArtwork, relativePath, map[string]string{
		"artwork": artworkPath,
	})
}
