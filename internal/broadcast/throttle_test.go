package broadcast

import (
	"Lantern/internal/entity"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []entity.BroadcastEvent
}

func (r *recorder) deliver(e entity.BroadcastEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []entity.BroadcastEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.BroadcastEvent(nil), r.events...)
}

func update(entityID string, value int) entity.BroadcastEvent {
	return entity.BroadcastEvent{Kind: entity.LiveUpdate, EntityID: entityID, Fields: map[string]any{"value": value}}
}

func TestThrottlerDeliversLatestValueOncePerWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	th := NewThrottler(clock, 100*time.Millisecond, rec.deliver)

	th.Submit(update("bot-1", 1))
	clock.Advance(50 * time.Millisecond)
	th.Submit(update("bot-1", 2))
	assert.Empty(t, rec.snapshot())

	clock.Advance(50 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, rec.snapshot()[0].Fields["value"])
	assert.Equal(t, uint64(1), th.Coalesced())

	// Nothing else is pending for the window that just closed
	clock.Advance(200 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestThrottlerKeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	th := NewThrottler(clock, 100*time.Millisecond, rec.deliver)

	th.Submit(update("bot-1", 1))
	th.Submit(update("bot-2", 1))
	th.Submit(entity.BroadcastEvent{Kind: entity.HeartbeatUpdate, EntityID: "bot-1", Heartbeat: &entity.Heartbeat{}})

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, th.Coalesced())
}

func TestThrottlerNextWindowAfterDelivery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	th := NewThrottler(clock, 100*time.Millisecond, rec.deliver)

	th.Submit(update("bot-1", 1))
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	th.Submit(update("bot-1", 2))
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, rec.snapshot()[1].Fields["value"])
}

func TestThrottlerPurge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	th := NewThrottler(clock, 100*time.Millisecond, rec.deliver)

	th.Submit(update("bot-1", 1))
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return th.Tracked() == 1 && len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	assert.Zero(t, th.Purge(clock.Now().Add(time.Minute), 5*time.Minute))
	assert.Equal(t, 1, th.Purge(clock.Now().Add(6*time.Minute), 5*time.Minute))
	assert.Zero(t, th.Tracked())
}

func TestThrottlerStopDropsPending(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	th := NewThrottler(clock, 100*time.Millisecond, rec.deliver)

	th.Submit(update("bot-1", 1))
	th.Stop()
	th.Submit(update("bot-2", 1))
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}
