package daemon_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"bookplayer/internal/config"
	"bookplayer/internal/daemon"
	"bookplayer/internal/events"
	"bookplayer/internal/importer"
	"bookplayer/internal/library"
	"bookplayer/internal/logging"
	"bookplayer/internal/reconciler"
	"bookplayer/internal/testsupport"
)

type nullAPI struct{}

func (nullAPI) UploadItem(context.Context, library.Item, io.Reader) error        { return nil }
func (nullAPI) UpdateItem(context.Context, string, map[string]string) error      { return nil }
func (nullAPI) MoveItem(context.Context, string, string) error                   { return nil }
func (nullAPI) RenameFolder(context.Context, string, string, string) error       { return nil }
func (nullAPI) DeleteItem(context.Context, string, bool) error                   { return nil }
func (nullAPI) SetBookmark(context.Context, string, float64, string) error       { return nil }
func (nullAPI) DeleteBookmark(context.Context, string, float64) error            { return nil }
func (nullAPI) UploadArtwork(context.Context, string, io.Reader) error           { return nil }
func (nullAPI) FetchSnapshot(context.Context) ([]library.Item, error)            { return nil, nil }
func (nullAPI) Download(context.Context, string, io.Writer, func(float64)) error { return nil }

func newDaemon(t *testing.T) (*daemon.Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	queue := testsupport.MustOpenQueue(t, cfg)
	lib := testsupport.MustOpenLibrary(t, cfg, library.WithTaskSink(queue))
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	rec := reconciler.New(cfg, queue, lib, nullAPI{})
	watcher := importer.NewWatcher(cfg, importer.New(cfg, lib), logging.NewNop())
	d, err := daemon.New(cfg, lib, queue, rec, watcher, nil, bus, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, cfg
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := newDaemon(t)
	t.Cleanup(d.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath == "" {
		t.Fatal("expected lock file path")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	time.Sleep(50 * time.Millisecond)
	status = d.Status(ctx)
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockBlocksSecondInstance(t *testing.T) {
	first, cfg := newDaemon(t)
	t.Cleanup(first.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	queue := testsupport.MustOpenQueue(t, cfg)
	lib := testsupport.MustOpenLibrary(t, cfg, library.WithTaskSink(queue))
	rec := reconciler.New(cfg, queue, lib, nullAPI{})
	watcher := importer.NewWatcher(cfg, importer.New(cfg, lib), logging.NewNop())
	second, err := daemon.New(cfg, lib, queue, rec, watcher, nil, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected lock to block second instance")
	}
}

func TestDaemonInboxSweepImportsOnStart(t *testing.T) {
	d, cfg := newDaemon(t)
	t.Cleanup(d.Stop)

	testsupport.WriteFile(t, cfg.Paths.InboxDir+"/dropped.mp3", "audio bytes")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, err := os.Stat(cfg.Paths.InboxDir + "/dropped.mp3"); os.IsNotExist(err) {
			return
		}
		select {
		case <-deadline:
			t.Fatal("inbox file not consumed by startup sweep")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	d, _ := newDaemon(t)

	sent, message, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if sent {
		t.Fatal("expected no notification without a configured topic")
	}
	if message == "" {
		t.Fatal("expected a human-readable reason")
	}
}
