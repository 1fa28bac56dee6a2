package bus

import (
	"context"
	"sync"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// InMemoryBus is a MessageBus for tests, the LocalRunner, and single
// process deployments, grounded on internal/taskqueue/inmemory_queue.go.
// It preserves send order per destination and suppresses a duplicate
// Send carrying a DedupId it has already accepted, modeling the bus-side
// half of crash-replay compensation.
type InMemoryBus struct {
	mu        sync.Mutex
	queues    map[string]chan Inbound
	sent      map[flow.DedupId]struct{}
	acked     map[flow.DedupId]struct{}
	bufferLen int
}

var _ MessageBus = (*InMemoryBus)(nil)

// NewInMemoryBus returns an InMemoryBus whose per-destination channels
// buffer up to bufferLen pending deliveries before Send blocks.
func NewInMemoryBus(bufferLen int) *InMemoryBus {
	if bufferLen <= 0 {
		bufferLen = 64
	}
	return &InMemoryBus{
		queues:    make(map[string]chan Inbound),
		sent:      make(map[flow.DedupId]struct{}),
		acked:     make(map[flow.DedupId]struct{}),
		bufferLen: bufferLen,
	}
}

func (b *InMemoryBus) Send(ctx context.Context, dest string, payload any, dedup flow.DedupId) error {
	b.mu.Lock()
	if _, dup := b.sent[dedup]; dup {
		b.mu.Unlock()
		return nil
	}
	b.sent[dedup] = struct{}{}
	ch, ok := b.queues[dest]
	b.mu.Unlock()

	if !ok {
		// No subscriber yet: the message is simply dropped, same as a
		// bus delivering to an offline destination that hasn't
		// registered a consumer. Callers that need guaranteed delivery
		// must Subscribe before flows can Send to them, matching the
		// teacher's single-listener-per-queue InMemoryQueue model.
		return nil
	}

	in := Inbound{
		Destination: dest,
		Message:     payload,
		Dedup:       dedup,
		Handler:     NewDedupHandler(dedup),
	}

	select {
	case ch <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBus) Subscribe(_ context.Context, destination string) (<-chan Inbound, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Inbound, b.bufferLen)
	b.queues[destination] = ch
	return ch, nil
}

func (b *InMemoryBus) Acknowledge(_ context.Context, h flow.DedupHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.acked[h.DedupId()] = struct{}{}
	return nil
}

// Acked reports whether id has been acknowledged; exposed for tests that
// assert every acked message has a matching dedup entry.
func (b *InMemoryBus) Acked(id flow.DedupId) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.acked[id]
	return ok
}
