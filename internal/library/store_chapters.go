package library

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

// SetChapters replaces a book's chapter list after validating the ordering
// invariants: 1-based contiguous indices, non-overlapping spans, and a final
// end within tolerance of the book duration.
func (s *Store) SetChapters(ctx context.Context, relativePath string, chapters []Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.tree.Item(relativePath)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, relativePath)
	}
	if item.Kind != KindBook {
		return fmt.Errorf("chapters only apply to books, %s is a %s", relativePath, item.Kind)
	}
	if err := validateChapters(chapters, item.Duration); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE relative_path = ?`, relativePath); err != nil {
			return fmt.Errorf("clear chapters: %w", err)
		}
		for _, chapter := range chapters {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chapters (relative_path, chapter_index, title, start, duration)
                 VALUES (?, ?, ?, ?, ?)`,
				relativePath, chapter.Index, chapter.Title, chapter.Start, chapter.Duration,
			); err != nil {
				return fmt.Errorf("insert chapter %d: %w", chapter.Index, err)
			}
		}
		return nil
	})
}

// Chapters returns a book's ordered chapter list.
func (s *Store) Chapters(ctx context.Context, relativePath string) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chapter_index, title, start, duration
         FROM chapters WHERE relative_path = ? ORDER BY chapter_index ASC`,
		relativePath)
	if err != nil {
		return nil, fmt.Errorf("load chapters: %w", err)
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		var chapter Chapter
		if err := rows.Scan(&chapter.Index, &chapter.Title, &chapter.Start, &chapter.Duration); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, chapter)
	}
	return chapters, rows.Err()
}

func validateChapters(chapters []Chapter, duration float64) error {
	if len(chapters) == 0 {
		return nil
	}
	for i, chapter := range chapters {
		if chapter.Index != i+1 {
			return fmt.Errorf("chapter indices must be 1-based and contiguous, got %d at position %d", chapter.Index, i)
		}
		if chapter.Duration < 0 {
			return fmt.Errorf("chapter %d has negative duration", chapter.Index)
		}
		if i == 0 {
			continue
		}
		prev := chapters[i-1]
		if math.Abs(chapter.Start-prev.End()) > chapterTolerance {
			return fmt.Errorf("chapter %d starts at %.2f but chapter %d ends at %.2f", chapter.Index, chapter.Start, prev.Index, prev.End())
		}
	}
	if duration > 0 {
		last := chapters[len(chapters)-1]
		if math.Abs(last.End()-duration) > chapterTolerance {
			return fmt.Errorf("last chapter ends at %.2f but the book lasts %.2f", last.End(), duration)
		}
	}
	return nil
}
