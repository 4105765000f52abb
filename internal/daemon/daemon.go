package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"bookplayer/internal/config"
	"bookplayer/internal/events"
	"bookplayer/internal/importer"
	"bookplayer/internal/library"
	"bookplayer/internal/logging"
	"bookplayer/internal/notifications"
	"bookplayer/internal/reconciler"
	"bookplayer/internal/syncqueue"
)

// heartbeatInterval is how often the daemon logs a liveness line with the
// current queue depth.
const heartbeatInterval = time.Minute

// Daemon coordinates the background services and enforces single-instance
// execution: the inbox watcher, the sync reconciler, and the bridge that turns
// bus events into push notifications.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	lib      *library.Store
	queue    *syncqueue.Store
	rec      *reconciler.Reconciler
	watcher  *importer.Watcher
	notifier notifications.Service
	bus      *events.Bus

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	QueueDepth   int
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(
	cfg *config.Config,
	lib *library.Store,
	queue *syncqueue.Store,
	rec *reconciler.Reconciler,
	watcher *importer.Watcher,
	notifier notifications.Service,
	bus *events.Bus,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || lib == nil || queue == nil || rec == nil || watcher == nil {
		return nil, errors.New("daemon requires config, library, queue, reconciler, and watcher")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.StateDir, "bookplayerd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lib:      lib,
		queue:    queue,
		rec:      rec,
		watcher:  watcher,
		notifier: notifier,
		bus:      bus,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bookplayer daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.cfg.Sync.Enabled {
		if err := d.rec.Start(runCtx); err != nil {
			_ = d.lock.Unlock()
			cancel()
			d.cancel = nil
			return fmt.Errorf("start reconciler: %w", err)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.watcher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("inbox watcher stopped", logging.Error(err))
		}
	}()

	if d.bus != nil {
		d.wg.Add(1)
		go d.bridgeEvents(runCtx)
	}

	d.wg.Add(1)
	go d.heartbeat(runCtx)

	d.running.Store(true)
	d.logger.Info("bookplayer daemon started",
		logging.String("lock", d.lockPath),
		logging.Bool("sync_enabled", d.cfg.Sync.Enabled),
	)
	return nil
}

// Stop terminates background services and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.cfg.Sync.Enabled {
		d.rec.Stop()
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("bookplayer daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if err := d.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.lib.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	depth, err := d.queue.Count(ctx)
	if err != nil {
		depth = -1
	}
	return Status{
		Running:      d.running.Load(),
		QueueDepth:   depth,
		QueueDBPath:  d.queue.Path(),
		LockFilePath: d.lockPath,
	}
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// bridgeEvents forwards bus events to the notification service. Delivery
// failures are logged and dropped; notifications are best effort.
func (d *Daemon) bridgeEvents(ctx context.Context) {
	defer d.wg.Done()

	eventCh, unsubscribe := d.bus.Subscribe(32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			d.dispatchEvent(ctx, evt)
		}
	}
}

func (d *Daemon) dispatchEvent(ctx context.Context, evt events.Event) {
	var err error
	switch evt.Type {
	case events.TypeAlert:
		err = d.notifier.NotifySyncFailure(ctx, evt.RelativePath, evt.Message)
	case events.TypeImportCompleted:
		err = d.notifier.NotifyImportCompleted(ctx, evt.Count, 0)
	default:
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Warn("notification delivery failed",
			logging.String(logging.FieldEventType, string(evt.Type)),
			logging.Error(err),
		)
	}
}

func (d *Daemon) heartbeat(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := d.queue.Count(ctx)
			if err != nil {
				d.logger.Warn("heartbeat queue check failed", logging.Error(err))
				continue
			}
			d.logger.Info("daemon heartbeat", logging.Int("queue_depth", depth))
		}
	}
}
