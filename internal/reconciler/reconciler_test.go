package reconciler

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bookplayer/internal/config"
	"bookplayer/internal/events"
	"bookplayer/internal/library"
	"bookplayer/internal/remote"
	"bookplayer/internal/syncqueue"
	"bookplayer/internal/testsupport"
)

// fakeAPI records remote calls and fails them with scripted errors.
type fakeAPI struct {
	err          error
	uploads      []string
	updates      []string
	moves        [][2]string
	renames      []string
	deletes      []string
	snapshot     []library.Item
	downloadData string
}

func (f *fakeAPI) UploadItem(_ context.Context, item library.Item, body io.Reader) error {
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	f.uploads = append(f.uploads, item.RelativePath)
	return f.err
}

func (f *fakeAPI) UpdateItem(_ context.Context, relativePath string, _ map[string]string) error {
	f.updates = append(f.updates, relativePath)
	return f.err
}

func (f *fakeAPI) MoveItem(_ context.Context, origin, destination string) error {
	f.moves = append(f.moves, [2]string{origin, destination})
	return f.err
}

func (f *fakeAPI) RenameFolder(_ context.Context, relativePath, _, _ string) error {
	f.renames = append(f.renames, relativePath)
	return f.err
}

func (f *fakeAPI) DeleteItem(_ context.Context, relativePath string, _ bool) error {
	f.deletes = append(f.deletes, relativePath)
	return f.err
}

func (f *fakeAPI) SetBookmark(context.Context, string, float64, string) error { return f.err }
func (f *fakeAPI) DeleteBookmark(context.Context, string, float64) error      { return f.err }

func (f *fakeAPI) UploadArtwork(_ context.Context, _ string, body io.Reader) error {
	if body != nil {
		_, _ = io.Copy(io.Discard, body)
	}
	return f.err
}

func (f *fakeAPI) FetchSnapshot(context.Context) ([]library.Item, error) {
	return f.snapshot, f.err
}

func (f *fakeAPI) Download(_ context.Context, _ string, dst io.Writer, progress func(float64)) error {
	if f.err != nil {
		return f.err
	}
	if _, err := dst.Write([]byte(f.downloadData)); err != nil {
		return err
	}
	if progress != nil {
		progress(1)
	}
	return nil
}

type fixture struct {
	cfg   *config.Config
	queue *syncqueue.Store
	lib   *library.Store
	api   *fakeAPI
	rec   *Reconciler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queue := testsupport.MustOpenQueue(t, cfg)
	lib := testsupport.MustOpenLibrary(t, cfg, library.WithTaskSink(queue))
	api := &fakeAPI{}
	return &fixture{
		cfg:   cfg,
		queue: queue,
		lib:   lib,
		api:   api,
		rec:   New(cfg, queue, lib, api, opts...),
	}
}

func insertBook(t *testing.T, f *fixture, name string) library.Item {
	t.Helper()
	item, err := f.lib.Insert(context.Background(), library.Item{
		Kind:             library.KindBook,
		Title:            name,
		OriginalFileName: name + ".m4b",
		Duration:         600,
	}, "", -1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	testsupport.WriteFile(t, f.lib.AbsolutePath(item.RelativePath), "audio")
	return item
}

func TestDrainUploadsAndMarksSynced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := insertBook(t, f, "book")

	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if !done {
		t.Fatal("upload task not processed")
	}
	if len(f.api.uploads) != 1 || f.api.uploads[0] != item.RelativePath {
		t.Fatalf("uploads = %v", f.api.uploads)
	}

	count, _ := f.queue.Count(ctx)
	if count != 0 {
		t.Fatalf("queue depth = %d after drain", count)
	}
	synced, _ := f.lib.Item(item.RelativePath)
	if synced.SyncStatus != library.SyncSynced {
		t.Fatalf("sync status = %s", synced.SyncStatus)
	}
}

func TestTransientFailureKeepsTaskQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	insertBook(t, f, "book")
	f.api.err = remote.Wrap(remote.ErrTransient, "upload", "book.m4b", errors.New("connection reset"))

	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if done {
		t.Fatal("transient failure should leave the task queued")
	}

	head, err := f.queue.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if head == nil {
		t.Fatal("task dropped on transient failure")
	}
	if head.Attempts != 1 {
		t.Fatalf("attempts = %d", head.Attempts)
	}
	if head.LastError == "" {
		t.Fatal("failure message not recorded")
	}
}

func TestUnauthorizedBlocksQueueWithoutDropping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	insertBook(t, f, "book")
	f.api.err = remote.Wrap(remote.ErrUnauthorized, "upload", "book.m4b", nil)

	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if done {
		t.Fatal("unauthorized failure should leave the task queued")
	}
	count, _ := f.queue.Count(ctx)
	if count != 1 {
		t.Fatalf("queue depth = %d, task dropped on auth failure", count)
	}
}

func TestPermanentFailureDropsTaskAndAlerts(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	alerts, cancel := bus.Subscribe(8)
	defer cancel()

	f := newFixture(t, WithBus(bus))
	ctx := context.Background()
	item := insertBook(t, f, "book")
	f.api.err = remote.Wrap(remote.ErrValidation, "upload", "book.m4b", errors.New("rejected"))

	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if !done {
		t.Fatal("permanent failure should remove the task")
	}
	count, _ := f.queue.Count(ctx)
	if count != 0 {
		t.Fatalf("queue depth = %d after permanent drop", count)
	}

	// Local state is untouched: the item stays pending, not synced.
	local, _ := f.lib.Item(item.RelativePath)
	if local.SyncStatus != library.SyncPending {
		t.Fatalf("sync status = %s", local.SyncStatus)
	}

	select {
	case evt := <-alerts:
		for evt.Type != events.TypeAlert {
			evt = <-alerts
		}
		if evt.RelativePath != item.RelativePath {
			t.Fatalf("alert for %s", evt.RelativePath)
		}
	case <-time.After(time.Second):
		t.Fatal("no alert event published")
	}
}

func TestOfflinePausesQueue(t *testing.T) {
	f := newFixture(t, WithReachability(StaticLink(Offline)))
	ctx := context.Background()
	insertBook(t, f, "book")

	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if done {
		t.Fatal("task processed while offline")
	}
	if len(f.api.uploads) != 0 {
		t.Fatal("remote called while offline")
	}
	count, _ := f.queue.Count(ctx)
	if count != 1 {
		t.Fatalf("queue depth = %d, task lost", count)
	}
}

func TestWifiOnlyGateDelaysUploads(t *testing.T) {
	f := newFixture(t, WithReachability(StaticLink(Cellular)))
	f.cfg.Sync.WifiOnlyUploads = true
	ctx := context.Background()
	insertBook(t, f, "book")

	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if done {
		t.Fatal("upload-class task drained on cellular with wifi-only set")
	}
	count, _ := f.queue.Count(ctx)
	if count != 1 {
		t.Fatal("gating dropped the task")
	}

	// Metadata updates are not upload-class and drain on any link.
	if err := f.lib.SetFinished(ctx, "book.m4b", true); err != nil {
		t.Fatalf("SetFinished: %v", err)
	}
	// The upload still heads the queue, so nothing drains; order holds.
	done, err = f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if done {
		t.Fatal("queue reordered around the gated head")
	}
}

func drain(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	for {
		done, err := f.rec.ProcessOnce(ctx)
		if err != nil {
			t.Fatalf("ProcessOnce: %v", err)
		}
		if !done {
			return
		}
	}
}

func TestQueuedUploadFollowsMovedItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := insertBook(t, f, "book")

	if _, err := f.lib.CreateFolder(ctx, "Shelf", "", library.KindFolder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if err := f.lib.Move(ctx, []string{item.RelativePath}, "Shelf"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	drain(t, f)

	found := false
	for _, path := range f.api.uploads {
		if path == "Shelf/book.m4b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("moved book never uploaded, uploads = %v", f.api.uploads)
	}
	if len(f.api.moves) != 0 {
		t.Fatalf("move sent for an origin the remote never saw: %v", f.api.moves)
	}
	count, _ := f.queue.Count(ctx)
	if count != 0 {
		t.Fatalf("queue depth = %d after drain", count)
	}
	moved, ok := f.lib.Item("Shelf/book.m4b")
	if !ok {
		t.Fatal("item missing at destination")
	}
	if moved.SyncStatus != library.SyncSynced {
		t.Fatalf("sync status = %s", moved.SyncStatus)
	}
}

func TestQueuedUploadsFollowRenamedFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.lib.CreateFolder(ctx, "Drafts", "", library.KindFolder); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	book, err := f.lib.Insert(ctx, library.Item{
		Kind:             library.KindBook,
		Title:            "book",
		OriginalFileName: "book.m4b",
		Duration:         600,
	}, "Drafts", -1)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	testsupport.WriteFile(t, f.lib.AbsolutePath(book.RelativePath), "audio")

	if _, err := f.lib.RenameFolder(ctx, "Drafts", "Finals"); err != nil {
		t.Fatalf("RenameFolder: %v", err)
	}
	drain(t, f)

	if len(f.api.uploads) != 2 || f.api.uploads[0] != "Finals" || f.api.uploads[1] != "Finals/book.m4b" {
		t.Fatalf("uploads = %v", f.api.uploads)
	}
	if len(f.api.renames) != 0 {
		t.Fatalf("rename sent for a folder the remote never saw: %v", f.api.renames)
	}
	count, _ := f.queue.Count(ctx)
	if count != 0 {
		t.Fatalf("queue depth = %d after drain", count)
	}
}

func TestUploadForLocallyDeletedItemIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queue.Enqueue(ctx, syncqueue.JobUpload, "ghost.m4b", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	done, err := f.rec.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if !done {
		t.Fatal("stale upload not discarded")
	}
	if len(f.api.uploads) != 0 {
		t.Fatal("remote called for locally deleted item")
	}
}

func TestSnapshotMergePreservesPendingLocalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := insertBook(t, f, "book")

	f.api.snapshot = []library.Item{
		{RelativePath: item.RelativePath, Kind: library.KindBook, Title: "Book", OriginalFileName: item.OriginalFileName, CurrentTime: 500},
		{RelativePath: "remote.m4b", Kind: library.KindBook, Title: "Remote", OriginalFileName: "remote.m4b", Duration: 300},
	}
	if err := f.rec.RefreshSnapshot(ctx); err != nil {
		t.Fatalf("RefreshSnapshot: %v", err)
	}

	// The upload task is still queued, so the local item wins.
	local, _ := f.lib.Item(item.RelativePath)
	if local.CurrentTime == 500 {
		t.Fatal("remote overwrote item with queued local task")
	}
	if _, ok := f.lib.Item("remote.m4b"); !ok {
		t.Fatal("remote-only item not merged")
	}
}

func TestDownloadPlacesFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.lib.InsertRemote(ctx, library.Item{
		Kind:             library.KindBook,
		Title:            "Remote",
		OriginalFileName: "remote.m4b",
	}, "")
	if err != nil {
		t.Fatalf("InsertRemote: %v", err)
	}
	f.api.downloadData = "remote audio"

	if state := f.rec.DownloadState(item.RelativePath); state.Variant != remote.NotDownloaded {
		t.Fatalf("initial state = %s", state)
	}
	if err := f.rec.Download(ctx, item.RelativePath); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if state := f.rec.DownloadState(item.RelativePath); state.Variant != remote.Downloaded {
		t.Fatalf("state after download = %s", state)
	}
	if !testsupport.FileExists(t, f.lib.AbsolutePath(item.RelativePath)) {
		t.Fatal("downloaded file missing at destination")
	}
}

func TestFailedDownloadRevertsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.lib.InsertRemote(ctx, library.Item{
		Kind:             library.KindBook,
		Title:            "Remote",
		OriginalFileName: "remote.m4b",
	}, "")
	if err != nil {
		t.Fatalf("InsertRemote: %v", err)
	}
	f.api.err = remote.Wrap(remote.ErrTransient, "download", item.RelativePath, errors.New("reset"))

	if err := f.rec.Download(ctx, item.RelativePath); err == nil {
		t.Fatal("expected download failure")
	}
	if state := f.rec.DownloadState(item.RelativePath); state.Variant != remote.NotDownloaded {
		t.Fatalf("state after failure = %s", state)
	}
	if testsupport.FileExists(t, f.lib.AbsolutePath(item.RelativePath)) {
		t.Fatal("half-written file left at destination")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sync.ErrorRetryInterval = 10
	f.cfg.Sync.MaxRetryInterval = 60

	if got := f.rec.backoff(1); got != 10*time.Second {
		t.Fatalf("attempt 1 backoff = %v", got)
	}
	if got := f.rec.backoff(2); got != 20*time.Second {
		t.Fatalf("attempt 2 backoff = %v", got)
	}
	if got := f.rec.backoff(3); got != 40*time.Second {
		t.Fatalf("attempt 3 backoff = %v", got)
	}
	if got := f.rec.backoff(10); got != 60*time.Second {
		t.Fatalf("attempt 10 backoff = %v", got)
	}
}
