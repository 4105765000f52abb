package library

import (
	"path"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind discriminates the library item variants.
type Kind string

const (
	// KindBook is a single playable audiobook file.
	KindBook Kind = "book"
	// KindFolder is an ordered grouping of items.
	KindFolder Kind = "folder"
	// KindBound is a folder presented to the user as a single multi-part
	// audiobook.
	KindBound Kind = "bound"
)

// SyncStatus tracks whether an item's latest local state reached the remote.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// Item is one node of the library tree. RelativePath doubles as the primary
// key: it is composed from ancestor folder filenames, so it is stable across
// playback updates but changes on move and folder rename.
type Item struct {
	RelativePath     string
	Kind             Kind
	Title            string
	OriginalFileName string
	OrderRank        int
	Duration         float64
	CurrentTime      float64
	PercentCompleted float64
	IsFinished       bool
	SyncStatus       SyncStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsContainer reports whether the item can hold children.
func (i Item) IsContainer() bool {
	return i.Kind == KindFolder || i.Kind == KindBound
}

// ParentPath returns the relative path of the item's parent, or "" for a
// top-level item.
func (i Item) ParentPath() string {
	return parentOf(i.RelativePath)
}

// Chapter is one entry of a book's ordered chapter list. Index is 1-based and
// contiguous; End is derived.
type Chapter struct {
	Index    int
	Title    string
	Start    float64
	Duration float64
}

// End returns the chapter's exclusive end offset.
func (c Chapter) End() float64 {
	return c.Start + c.Duration
}

// Bookmark is a saved playback position with an optional note.
type Bookmark struct {
	RelativePath string
	Time         float64
	Note         string
	CreatedAt    time.Time
}

// StorageItem is a filesystem entry found during a storage audit. ShowWarning
// is set when no library item references the file (orphaned bytes).
type StorageItem struct {
	Path        string
	Size        int64
	ShowWarning bool
}

func parentOf(relativePath string) string {
	parent := path.Dir(relativePath)
	if parent == "." || parent == "/" {
		return ""
	}
	return parent
}

// ChildPath composes the relative path of a child from its parent's relative
// path and the child's original filename.
func ChildPath(parentPath, originalFileName string) string {
	if parentPath == "" {
		return originalFileName
	}
	return parentPath + "/" + originalFileName
}

// FolderFileName derives the on-disk directory name for a folder title.
// Titles are NFC-normalized so path comparison is stable regardless of how the
// title was typed, and path separators are stripped.
func FolderFileName(title string) string {
	name := norm.NFC.String(strings.TrimSpace(title))
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.Trim(name, ". ")
	if name == "" {
		name = "Untitled"
	}
	return name
}

// IsDescendantPath reports whether candidate lies strictly under ancestor.
func IsDescendantPath(candidate, ancestor string) bool {
	if ancestor == "" {
		return candidate != ""
	}
	return strings.HasPrefix(candidate, ancestor+"/")
}
