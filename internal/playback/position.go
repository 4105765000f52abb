// Package playback maps global playback time to chapter-relative time for an
// item's chapter list. Everything here is pure; the store owns persistence and
// the playback engine owns the clock.
package playback

import "bookplayer/internal/library"

// boundaryGuard is the window, in seconds, inside which a skip is allowed to
// cross a chapter boundary instead of being truncated to it. Without the
// guard, a rewind pressed just after a chapter starts would pin the position
// to the boundary instead of going back.
const boundaryGuard = 3.0

// CurrentChapter returns the chapter containing t, where a chapter spans
// [start, end). A position exactly at the end of the last chapter resolves to
// the last chapter, so end-of-book never reads as "no chapter".
func CurrentChapter(chapters []library.Chapter, t float64) (library.Chapter, bool) {
	if len(chapters) == 0 {
		return library.Chapter{}, false
	}
	for _, chapter := range chapters {
		if t >= chapter.Start && t < chapter.End() {
			return chapter, true
		}
	}
	last := chapters[len(chapters)-1]
	if t == last.End() {
		return last, true
	}
	return library.Chapter{}, false
}

// ChapterRelativeTime converts a global position into an offset within its
// chapter. Positions outside every chapter are returned unchanged.
func ChapterRelativeTime(chapters []library.Chapter, t float64) float64 {
	chapter, ok := CurrentChapter(chapters, t)
	if !ok {
		return t
	}
	return t - chapter.Start
}

// ClampedSkip resolves a relative skip from currentTime within chapter. A
// skip that would overshoot the chapter boundary is truncated to land exactly
// on it, unless the position is already within boundaryGuard of that boundary,
// in which case the skip crosses into the neighboring chapter as requested.
func ClampedSkip(interval, currentTime float64, chapter library.Chapter) float64 {
	proposed := currentTime + interval
	switch {
	case interval < 0:
		if proposed < chapter.Start && currentTime-chapter.Start > boundaryGuard {
			return chapter.Start
		}
	case interval > 0:
		if proposed > chapter.End() && chapter.End()-currentTime > boundaryGuard {
			return chapter.End()
		}
	}
	return proposed
}

// PlayableItem is the read-only projection of a book plus its chapter list
// handed to the playback engine.
type PlayableItem struct {
	RelativePath string
	Title        string
	Duration     float64
	CurrentTime  float64
	IsFinished   bool
	Chapters     []library.Chapter
}

// NewPlayableItem projects a library item and its chapters for playback.
func NewPlayableItem(item library.Item, chapters []library.Chapter) PlayableItem {
	return PlayableItem{
		RelativePath: item.RelativePath,
		Title:        item.Title,
		Duration:     item.Duration,
		CurrentTime:  item.CurrentTime,
		IsFinished:   item.IsFinished,
		Chapters:     chapters,
	}
}

// CurrentChapter resolves the chapter containing the item's current position.
func (p PlayableItem) CurrentChapter() (library.Chapter, bool) {
	return CurrentChapter(p.Chapters, p.CurrentTime)
}

// ChapterProgress returns the position within the current chapter and that
// chapter's duration. Chapterless items report whole-book progress.
func (p PlayableItem) ChapterProgress() (position, total float64) {
	chapter, ok := p.CurrentChapter()
	if !ok {
		return p.CurrentTime, p.Duration
	}
	return p.CurrentTime - chapter.Start, chapter.Duration
}
