// Per-entity coalescing of high frequency updates.

package broadcast

import (
	"Lantern/internal/entity"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

type throttleKey struct {
	kind     entity.EventKind
	entityID string
}

type pendingEvent struct {
	event entity.BroadcastEvent
	timer clockwork.Timer
}

// Throttler delivers at most one event per key and window. The first submission opens the
// window, later ones replace the pending event, and the latest one is delivered when it closes.
type Throttler struct {
	clock   clockwork.Clock
	window  time.Duration
	deliver func(entity.BroadcastEvent)

	mu      sync.Mutex
	pending map[throttleKey]*pendingEvent
	// lastSent only feeds Tracked and Purge, it never delays a Submit. Two deliveries of one key
	// are still at least window apart, a key's next window opens only after its previous flush.
	lastSent map[throttleKey]time.Time
	stopped  bool

	coalesced atomic.Uint64
}

func NewThrottler(clock clockwork.Clock, window time.Duration, deliver func(entity.BroadcastEvent)) *Throttler {
	return &Throttler{
		clock:    clock,
		window:   window,
		deliver:  deliver,
		pending:  make(map[throttleKey]*pendingEvent),
		lastSent: make(map[throttleKey]time.Time),
	}
}

// Submit queues e for delivery at the end of its key's window.
func (t *Throttler) Submit(e entity.BroadcastEvent) {
	k := throttleKey{kind: e.Kind, entityID: e.EntityID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if p, ok := t.pending[k]; ok {
		p.event = e
		t.coalesced.Add(1)
		return
	}
	t.pending[k] = &pendingEvent{
		event: e,
		timer: t.clock.AfterFunc(t.window, func() { t.flush(k) }),
	}
}

func (t *Throttler) flush(k throttleKey) {
	t.mu.Lock()
	p, ok := t.pending[k]
	if !ok || t.stopped {
		t.mu.Unlock()
		return
	}
	delete(t.pending, k)
	t.lastSent[k] = t.clock.Now()
	t.mu.Unlock()

	t.deliver(p.event)
}

// Purge forgets keys last delivered more than ttl before now and returns how many were dropped.
func (t *Throttler) Purge(now time.Time, ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	purged := 0
	for k, at := range t.lastSent {
		if now.Sub(at) > ttl {
			delete(t.lastSent, k)
			purged++
		}
	}
	return purged
}

// Tracked is the number of keys with delivery bookkeeping or a pending event.
func (t *Throttler) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.lastSent)
	for k := range t.pending {
		if _, ok := t.lastSent[k]; !ok {
			n++
		}
	}
	return n
}

// Coalesced counts submissions that replaced a pending event.
func (t *Throttler) Coalesced() uint64 {
	return t.coalesced.Load()
}

// Stop cancels every pending event. Later submissions are ignored.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for k, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, k)
	}
}
