package playback

import (
	"testing"

	"bookplayer/internal/library"
)

var twoChapters = []library.Chapter{
	{Index: 1, Title: "One", Start: 0, Duration: 10},
	{Index: 2, Title: "Two", Start: 10, Duration: 8},
}

func TestCurrentChapterBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		at        float64
		wantIndex int
		wantOK    bool
	}{
		{"start of book", 0, 1, true},
		{"inside first", 9.99, 1, true},
		{"exact boundary belongs to next", 10, 2, true},
		{"inside second", 15, 2, true},
		{"exact end of book resolves to last", 18, 2, true},
		{"past end of book", 18.5, 0, false},
		{"negative position", -1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chapter, ok := CurrentChapter(twoChapters, tc.at)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && chapter.Index != tc.wantIndex {
				t.Fatalf("chapter index = %d, want %d", chapter.Index, tc.wantIndex)
			}
		})
	}
}

func TestCurrentChapterEmptyList(t *testing.T) {
	if _, ok := CurrentChapter(nil, 5); ok {
		t.Fatal("expected no chapter for chapterless item")
	}
}

func TestChapterRelativeTime(t *testing.T) {
	if got := ChapterRelativeTime(twoChapters, 12); got != 2 {
		t.Fatalf("relative time = %v, want 2", got)
	}
	if got := ChapterRelativeTime(twoChapters, 4); got != 4 {
		t.Fatalf("relative time = %v, want 4", got)
	}
	// Outside every chapter the global position passes through.
	if got := ChapterRelativeTime(twoChapters, 25); got != 25 {
		t.Fatalf("relative time = %v, want 25", got)
	}
}

func TestClampedSkipBackward(t *testing.T) {
	second := twoChapters[1]

	// Far from the boundary: a 30s rewind lands on the chapter start instead
	// of overshooting into chapter one.
	if got := ClampedSkip(-30, 15, second); got != 10 {
		t.Fatalf("clamped rewind = %v, want 10", got)
	}

	// Within the guard window the rewind crosses into the previous chapter.
	if got := ClampedSkip(-30, 11, second); got != -19 {
		t.Fatalf("guarded rewind = %v, want -19", got)
	}

	// A rewind that stays inside the chapter is untouched.
	if got := ClampedSkip(-3, 15, second); got != 12 {
		t.Fatalf("in-chapter rewind = %v, want 12", got)
	}
}

func TestClampedSkipForward(t *testing.T) {
	first := twoChapters[0]

	if got := ClampedSkip(30, 5, first); got != 10 {
		t.Fatalf("clamped forward skip = %v, want 10", got)
	}

	// Within the guard window of the end the skip crosses the boundary.
	if got := ClampedSkip(30, 8, first); got != 38 {
		t.Fatalf("guarded forward skip = %v, want 38", got)
	}

	if got := ClampedSkip(2, 5, first); got != 7 {
		t.Fatalf("in-chapter forward skip = %v, want 7", got)
	}
}

func TestClampedSkipZeroInterval(t *testing.T) {
	if got := ClampedSkip(0, 12, twoChapters[1]); got != 12 {
		t.Fatalf("zero skip = %v, want 12", got)
	}
}

func TestPlayableItemProjection(t *testing.T) {
	item := library.Item{
		RelativePath: "book.m4b",
		Kind:         library.KindBook,
		Title:        "Book",
		Duration:     18,
		CurrentTime:  12,
	}
	playable := NewPlayableItem(item, twoChapters)

	chapter, ok := playable.CurrentChapter()
	if !ok || chapter.Index != 2 {
		t.Fatalf("current chapter = %+v ok=%v", chapter, ok)
	}

	position, total := playable.ChapterProgress()
	if position != 2 || total != 8 {
		t.Fatalf("chapter progress = %v/%v, want 2/8", position, total)
	}
}

func TestChapterProgressWithoutChapters(t *testing.T) {
	playable := NewPlayableItem(library.Item{Duration: 100, CurrentTime: 40}, nil)
	position, total := playable.ChapterProgress()
	if position != 40 || total != 100 {
		t.Fatalf("progress = %v/%v, want 40/100", position, total)
	}
}
