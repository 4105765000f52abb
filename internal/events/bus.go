package events

import (
	"sync"
	"time"
)

// Type labels the kind of state change an Event describes.
type Type string

const (
	// TypeQueueChanged fires when sync tasks are enqueued, coalesced, or removed.
	TypeQueueChanged Type = "queue_changed"
	// TypeTreeChanged fires after any structural library mutation.
	TypeTreeChanged Type = "tree_changed"
	// TypeSyncStatus fires when an item's sync status flips.
	TypeSyncStatus Type = "sync_status"
	// TypeDownloadProgress fires (throttled) while remote content downloads.
	TypeDownloadProgress Type = "download_progress"
	// TypeImportCompleted fires once per finished import batch.
	TypeImportCompleted Type = "import_completed"
	// TypeAlert fires for user-visible failures: permanent sync errors and
	// storage-audit anomalies.
	TypeAlert Type = "alert"
)

// Event is one published state change. Fields beyond Type are populated per
// event kind; consumers switch on Type.
type Event struct {
	Sequence     uint64
	Timestamp    time.Time
	Type         Type
	RelativePath string
	TaskID       string
	QueueDepth   int
	Count        int
	Progress     float64
	Message      string
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Bus is a multi-producer broadcast channel for component state changes.
// Publishing never blocks: a slow subscriber loses the oldest undelivered
// events rather than stalling mutation paths.
type Bus struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    map[*subscriber]struct{}
	closed  bool
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new listener with the given channel buffer. The
// returned cancel function removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[sub]
			delete(b.subs, sub)
			b.mu.Unlock()
			if ok {
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Publish broadcasts evt to every subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.nextSeq++
	evt.Sequence = b.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Drop the oldest queued event to make room for the newest.
			select {
			case <-sub.ch:
				sub.dropped++
			default:
			}
			select {
			case sub.ch <- evt:
			default:
				sub.dropped++
			}
		}
	}
	b.mu.Unlock()
}

// Close removes all subscribers and closes their channels. Publishing after
// Close is a no-op.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
}
