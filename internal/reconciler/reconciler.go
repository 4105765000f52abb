package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"bookplayer/internal/config"
	"bookplayer/internal/events"
	"bookplayer/internal/library"
	"bookplayer/internal/logging"
	"bookplayer/internal/remote"
	"bookplayer/internal/syncqueue"
)

// snapshotInterval is how often the remote snapshot is merged while the
// queue is drained and the network is up.
const snapshotInterval = 5 * time.Minute

// Link is the current network connectivity class.
type Link int

const (
	Offline Link = iota
	Cellular
	Wifi
)

// Reachability reports the current network link. The daemon supplies a live
// probe; the CLI uses a static value.
type Reachability interface {
	Link() Link
}

// StaticLink is a Reachability that always reports the same link.
type StaticLink Link

func (l StaticLink) Link() Link { return Link(l) }

// API is the remote surface the reconciler drains against. *remote.Client
// satisfies it; tests substitute a scripted fake.
type API interface {
	UploadItem(ctx context.Context, item library.Item, body io.Reader) error
	UpdateItem(ctx context.Context, relativePath string, fields map[string]string) error
	MoveItem(ctx context.Context, origin, destination string) error
	RenameFolder(ctx context.Context, relativePath, newTitle, newPath string) error
	DeleteItem(ctx context.Context, relativePath string, shallow bool) error
	SetBookmark(ctx context.Context, relativePath string, t float64, note string) error
	DeleteBookmark(ctx context.Context, relativePath string, t float64) error
	UploadArtwork(ctx context.Context, relativePath string, body io.Reader) error
	FetchSnapshot(ctx context.Context) ([]library.Item, error)
	Download(ctx context.Context, relativePath string, dst io.Writer, progress func(float64)) error
}

// Reconciler drains the sync task queue against the remote API, tolerating
// offline periods and transient failures. Tasks are processed strictly in
// order: a blocked head (offline, wifi gating, transient failure) delays the
// whole queue rather than reordering it.
type Reconciler struct {
	cfg    *config.Config
	queue  *syncqueue.Store
	lib    *library.Store
	api    API
	reach  Reachability
	logger *slog.Logger
	bus    *events.Bus

	downloads downloadTracker

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional Reconciler collaborators.
type Option func(*Reconciler)

// WithLogger sets the logger used for reconciler diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logging.NewComponentLogger(logger, "reconciler") }
}

// WithBus wires the event bus that receives sync and download events.
func WithBus(bus *events.Bus) Option {
	return func(r *Reconciler) { r.bus = bus }
}

// WithReachability substitutes the connectivity probe.
func WithReachability(reach Reachability) Option {
	return func(r *Reconciler) { r.reach = reach }
}

// New constructs a reconciler draining queue against api.
func New(cfg *config.Config, queue *syncqueue.Store, lib *library.Store, api API, opts ...Option) *Reconciler {
	r := &Reconciler{
		cfg:    cfg,
		queue:  queue,
		lib:    lib,
		api:    api,
		reach:  StaticLink(Wifi),
		logger: logging.NewNop(),
	}
	r.downloads.states = make(map[string]remote.DownloadState)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins background queue draining.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reconciler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	go r.run(runCtx)
	return nil
}

// Stop terminates background draining and waits for completion.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	lastSnapshot := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link := r.reach.Link()
		if link == Offline {
			// Not an error: the queue pauses until connectivity returns.
			r.wait(ctx, r.pollInterval())
			continue
		}

		task, err := r.queue.NextPending(ctx)
		if err != nil {
			r.logger.Error("failed to fetch next sync task",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			r.wait(ctx, r.errorRetryInterval())
			continue
		}
		if task == nil {
			if time.Since(lastSnapshot) >= snapshotInterval {
				if err := r.RefreshSnapshot(ctx); err != nil {
					r.logger.Warn("snapshot merge failed", logging.Error(err))
				} else {
					lastSnapshot = time.Now()
				}
			}
			r.wait(ctx, r.pollInterval())
			continue
		}

		if r.gated(task.JobType, link) {
			r.wait(ctx, r.pollInterval())
			continue
		}

		retryDelay, done := r.processTask(ctx, task)
		if !done {
			r.wait(ctx, retryDelay)
		}
	}
}

// ProcessOnce drains at most one eligible task synchronously. Used by the
// CLI's one-shot sync command; the daemon uses Start.
func (r *Reconciler) ProcessOnce(ctx context.Context) (bool, error) {
	link := r.reach.Link()
	if link == Offline {
		return false, nil
	}
	task, err := r.queue.NextPending(ctx)
	if err != nil {
		return false, err
	}
	if task == nil || r.gated(task.JobType, link) {
		return false, nil
	}
	_, done := r.processTask(ctx, task)
	return done, nil
}

// processTask executes one task. It reports done=true when the task left the
// queue (success or permanent drop); otherwise the task stays at the head and
// the returned delay is the backoff before the next attempt.
func (r *Reconciler) processTask(ctx context.Context, task *syncqueue.Task) (time.Duration, bool) {
	err := r.execute(ctx, task)
	if err == nil {
		if removeErr := r.queue.Remove(ctx, task.ID); removeErr != nil {
			r.logger.Error("drained task could not be removed",
				logging.String(logging.FieldTaskID, task.ID),
				logging.Error(removeErr),
			)
			return r.errorRetryInterval(), false
		}
		r.markSyncedAfter(ctx, task)
		r.logger.Info("task synced",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldJobType, string(task.JobType)),
			logging.String(logging.FieldRelativePath, task.RelativePath),
		)
		return 0, true
	}

	if errors.Is(err, context.Canceled) {
		return 0, false
	}

	if errors.Is(err, remote.ErrUnauthorized) {
		// A rejected credential blocks the whole queue; dropping tasks would
		// lose local changes that a re-login can still sync.
		if recordErr := r.queue.RecordFailure(ctx, task.ID, err.Error()); recordErr != nil {
			r.logger.Error("could not record task failure", logging.Error(recordErr))
		}
		r.logger.Error("sync blocked: credential rejected",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run bookplayer login to refresh the token"),
		)
		if r.bus != nil {
			r.bus.Publish(events.Event{
				Type:    events.TypeAlert,
				TaskID:  task.ID,
				Message: "sync paused: stored credential was rejected, log in again",
			})
		}
		return r.backoff(task.Attempts + 1), false
	}

	if remote.Transient(err) {
		if recordErr := r.queue.RecordFailure(ctx, task.ID, err.Error()); recordErr != nil {
			r.logger.Error("could not record task failure", logging.Error(recordErr))
		}
		delay := r.backoff(task.Attempts + 1)
		r.logger.Warn("task failed, will retry",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String(logging.FieldJobType, string(task.JobType)),
			logging.Error(err),
			logging.Duration("retry_in", delay),
		)
		return delay, false
	}

	// Permanent: drop the task, keep local state, tell the user.
	if removeErr := r.queue.Remove(ctx, task.ID); removeErr != nil {
		r.logger.Error("rejected task could not be removed", logging.Error(removeErr))
		return r.errorRetryInterval(), false
	}
	r.logger.Error("task rejected by remote, dropped",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String(logging.FieldJobType, string(task.JobType)),
		logging.String(logging.FieldRelativePath, task.RelativePath),
		logging.Error(err),
	)
	if r.bus != nil {
		r.bus.Publish(events.Event{
			Type:         events.TypeAlert,
			RelativePath: task.RelativePath,
			TaskID:       task.ID,
			Message:      fmt.Sprintf("sync %s failed for %s: %v", task.JobType, task.RelativePath, err),
		})
	}
	return 0, true
}

func (r *Reconciler) execute(ctx context.Context, task *syncqueue.Task) error {
	switch task.JobType {
	case syncqueue.JobUpload:
		item, ok := r.lib.Item(task.RelativePath)
		if !ok {
			// Deleted locally while queued; nothing left to upload.
			return nil
		}
		if item.IsContainer() {
			return r.api.UploadItem(ctx, item, nil)
		}
		file, err := os.Open(r.lib.AbsolutePath(task.RelativePath))
		if err != nil {
			return remote.Wrap(remote.ErrPermanent, "upload", "open backing file", err)
		}
		defer file.Close()
		return r.api.UploadItem(ctx, item, file)

	case syncqueue.JobUpdate:
		return r.api.UpdateItem(ctx, task.RelativePath, task.Parameters)

	case syncqueue.JobMove:
		return r.api.MoveItem(ctx, task.Parameters["origin"], task.Parameters["destination"])

	case syncqueue.JobRenameFolder:
		return r.api.RenameFolder(ctx, task.RelativePath, task.Parameters["newTitle"], task.Parameters["newPath"])

	case syncqueue.JobDelete:
		return r.api.DeleteItem(ctx, task.RelativePath, false)

	case syncqueue.JobShallowDelete:
		return r.api.DeleteItem(ctx, task.RelativePath, true)

	case syncqueue.JobSetBookmark:
		t, err := strconv.ParseFloat(task.Parameters["time"], 64)
		if err != nil {
			return remote.Wrap(remote.ErrValidation, "set bookmark", "bad time parameter", err)
		}
		return r.api.SetBookmark(ctx, task.RelativePath, t, task.Parameters["note"])

	case syncqueue.JobDeleteBookmark:
		t, err := strconv.ParseFloat(task.Parameters["time"], 64)
		if err != nil {
			return remote.Wrap(remote.ErrValidation, "delete bookmark", "bad time parameter", err)
		}
		return r.api.DeleteBookmark(ctx, task.RelativePath, t)

	case syncqueue.JobUploadArtwork:
		file, err := os.Open(task.Parameters["artwork"])
		if err != nil {
			return remote.Wrap(remote.ErrPermanent, "upload artwork", "open artwork file", err)
		}
		defer file.Close()
		return r.api.UploadArtwork(ctx, task.RelativePath, file)

	default:
		return remote.Wrap(remote.ErrPermanent, "execute", fmt.Sprintf("unknown job type %q", task.JobType), nil)
	}
}

// markSyncedAfter flips the item's sync status once its state reached the
// remote. Only tasks that carry item state count; structural acknowledgements
// (move, delete) do not change per-item status.
func (r *Reconciler) markSyncedAfter(ctx context.Context, task *syncqueue.Task) {
	switch task.JobType {
	case syncqueue.JobUpload, syncqueue.JobUpdate, syncqueue.JobUploadArtwork:
	default:
		return
	}
	if _, ok := r.lib.Item(task.RelativePath); !ok {
		return
	}
	pending, err := r.queue.HasPendingFor(ctx, task.RelativePath)
	if err != nil || pending {
		// Later queued tasks still carry newer local state.
		return
	}
	if err := r.lib.MarkSynced(ctx, task.RelativePath); err != nil {
		r.logger.Warn("could not mark item synced",
			logging.String(logging.FieldRelativePath, task.RelativePath),
			logging.Error(err),
		)
	}
}

// RefreshSnapshot fetches the canonical remote listing and merges it into the
// local tree. Items with still-queued local tasks keep their local state.
func (r *Reconciler) RefreshSnapshot(ctx context.Context) error {
	snapshot, err := r.api.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	return r.lib.ApplySnapshot(ctx, snapshot, func(relativePath string) bool {
		pending, err := r.queue.HasPendingFor(ctx, relativePath)
		if err != nil {
			// Err on the side of keeping local state.
			return true
		}
		return pending
	})
}

// gated reports whether the data-usage preference delays this task on the
// current link. Gating never drops tasks, it only waits for a better link.
func (r *Reconciler) gated(job syncqueue.JobType, link Link) bool {
	return r.cfg.Sync.WifiOnlyUploads && job.UploadClass() && link != Wifi
}

func (r *Reconciler) backoff(attempts int) time.Duration {
	delay := r.errorRetryInterval()
	ceiling := time.Duration(r.cfg.Sync.MaxRetryInterval) * time.Second
	if ceiling <= 0 {
		ceiling = 15 * time.Minute
	}
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

func (r *Reconciler) pollInterval() time.Duration {
	interval := time.Duration(r.cfg.Sync.QueuePollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return interval
}

func (r *Reconciler) errorRetryInterval() time.Duration {
	interval := time.Duration(r.cfg.Sync.ErrorRetryInterval) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return interval
}

func (r *Reconciler) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
