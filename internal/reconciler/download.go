package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookplayer/internal/events"
	"bookplayer/internal/fileutil"
	"bookplayer/internal/logging"
	"bookplayer/internal/remote"
)

// progressPublishInterval throttles download progress events so a fast
// transfer does not flood subscribers.
const progressPublishInterval = 250 * time.Millisecond

type downloadTracker struct {
	mu     sync.Mutex
	states map[string]remote.DownloadState
}

func (t *downloadTracker) get(relativePath string) remote.DownloadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[relativePath]
}

func (t *downloadTracker) set(relativePath string, state remote.DownloadState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state.Variant == remote.NotDownloaded {
		delete(t.states, relativePath)
		return
	}
	t.states[relativePath] = state
}

// DownloadState returns the current fetch state for a remote-backed item.
func (r *Reconciler) DownloadState(relativePath string) remote.DownloadState {
	return r.downloads.get(relativePath)
}

// Download fetches a remote-only item's audio bytes into its backing file
// position. The transfer goes through a scratch file so a failed or cancelled
// download never leaves a half-written file at the destination and the state
// reverts to NotDownloaded.
func (r *Reconciler) Download(ctx context.Context, relativePath string) error {
	item, ok := r.lib.Item(relativePath)
	if !ok {
		return fmt.Errorf("unknown item %s", relativePath)
	}
	if item.IsContainer() {
		return fmt.Errorf("cannot download a %s", item.Kind)
	}
	if r.downloads.get(relativePath).Variant == remote.Downloading {
		return fmt.Errorf("download already in flight for %s", relativePath)
	}

	scratch := filepath.Join(r.cfg.ScratchDir(), uuid.NewString()+filepath.Ext(relativePath))
	if err := os.MkdirAll(filepath.Dir(scratch), 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	file, err := os.Create(scratch)
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}

	r.downloads.set(relativePath, remote.DownloadState{Variant: remote.Downloading})
	r.publishProgress(relativePath, 0)

	lastPublish := time.Now()
	err = r.api.Download(ctx, relativePath, file, func(progress float64) {
		r.downloads.set(relativePath, remote.DownloadState{Variant: remote.Downloading, Progress: progress})
		if time.Since(lastPublish) >= progressPublishInterval || progress >= 1 {
			lastPublish = time.Now()
			r.publishProgress(relativePath, progress)
		}
	})
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(scratch)
		r.downloads.set(relativePath, remote.DownloadState{Variant: remote.NotDownloaded})
		r.publishProgress(relativePath, 0)
		return fmt.Errorf("download %s: %w", relativePath, err)
	}

	if err := fileutil.MoveFile(scratch, r.lib.AbsolutePath(relativePath)); err != nil {
		_ = os.Remove(scratch)
		r.downloads.set(relativePath, remote.DownloadState{Variant: remote.NotDownloaded})
		r.publishProgress(relativePath, 0)
		return fmt.Errorf("place download %s: %w", relativePath, err)
	}

	r.downloads.set(relativePath, remote.DownloadState{Variant: remote.Downloaded, Progress: 1})
	r.publishProgress(relativePath, 1)
	r.logger.Info("download complete",
		logging.String(logging.FieldRelativePath, relativePath),
	)
	return nil
}

func (r *Reconciler) publishProgress(relativePath string, progress float64) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{
		Type:         events.TypeDownloadProgress,
		RelativePath: relativePath,
		Progress:     progress,
	})
}
