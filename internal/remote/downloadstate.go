package remote

// DownloadVariant is the coarse phase of a remote-backed item's local copy.
type DownloadVariant int

const (
	NotDownloaded DownloadVariant = iota
	Downloading
	Downloaded
)

// DownloadState tracks a remote-backed item's fetch progress. It is held in
// memory only; on restart every remote item starts over as NotDownloaded and
// is re-derived from disk.
type DownloadState struct {
	Variant  DownloadVariant
	Progress float64
}

// Equal compares states by variant only. Progress updates arrive constantly
// while downloading, and consumers diffing state must not see each one as a
// distinct transition.
func (s DownloadState) Equal(other DownloadState) bool {
	return s.Variant == other.Variant
}

func (s DownloadState) String() string {
	switch s.Variant {
	case Downloading:
		return "downloading"
	case Downloaded:
		return "downloaded"
	default:
		return "not-downloaded"
	}
}
