package testsupport

import (
	"testing"

	"bookplayer/internal/config"
	"bookplayer/internal/library"
	"bookplayer/internal/syncqueue"
)

// MustOpenLibrary opens a library.Store for tests and registers cleanup.
func MustOpenLibrary(t testing.TB, cfg *config.Config, opts ...library.Option) *library.Store {
	t.Helper()

	store, err := library.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("library.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenQueue opens a syncqueue.Store for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config, opts ...syncqueue.Option) *syncqueue.Store {
	t.Helper()

	store, err := syncqueue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("syncqueue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
