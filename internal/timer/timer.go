// Package timer implements the timer service collaborator:
// schedule/cancel, keyed by FlowId, idempotent. Grounded on
// the scheduling loop shape of pkg/worker/worker.go (EnqueueStartWorkflowAt
// / NotBefore), generalized from "don't run before" task gating to a
// dedicated fire-once timer abstraction.
package timer

import (
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Token identifies a scheduled timer so it can be cancelled.
type Token uint64

// Service arms and disarms fire-once timers keyed by FlowId.
type Service interface {
	// Schedule arms a timer for id to fire at instant. Scheduling a
	// second timer for the same id replaces the first (idempotent
	// per-FlowId arming's ScheduleFlowTimeout).
	Schedule(id flow.FlowId, instant time.Time) Token
	// Cancel disarms token. Cancelling an already-fired or unknown token
	// is a no-op.
	Cancel(token Token)
}

// Fired is delivered on a Service's channel when a timer expires.
type Fired struct {
	FlowId flow.FlowId
	Token  Token
}

// InMemoryService is a Service backed by time.AfterFunc, suitable for
// single-process deployments and tests.
type InMemoryService struct {
	mu      sync.Mutex
	timers  map[flow.FlowId]*entry
	nextTok Token
	fired   chan Fired
}

type entry struct {
	token Token
	timer *time.Timer
}

// NewInMemoryService returns an InMemoryService whose Fired channel has
// the given buffer length.
func NewInMemoryService(bufferLen int) *InMemoryService {
	if bufferLen <= 0 {
		bufferLen = 64
	}
	return &InMemoryService{
		timers: make(map[flow.FlowId]*entry),
		fired:  make(chan Fired, bufferLen),
	}
}

var _ Service = (*InMemoryService)(nil)

// Fired returns the channel on which expirations are delivered.
func (s *InMemoryService) Fired() <-chan Fired {
	return s.fired
}

func (s *InMemoryService) Schedule(id flow.FlowId, instant time.Time) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
	}

	s.nextTok++
	tok := s.nextTok
	d := time.Until(instant)
	if d < 0 {
		d = 0
	}

	t := time.AfterFunc(d, func() {
		select {
		case s.fired <- Fired{FlowId: id, Token: tok}:
		default:
			// Best-effort: a full channel means no one is draining
			// expirations; this expiry is dropped and nothing
			// delivers it later.
		}
	})
	s.timers[id] = &entry{token: tok, timer: t}
	return tok
}

func (s *InMemoryService) Cancel(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.timers {
		if e.token == token {
			e.timer.Stop()
			delete(s.timers, id)
			return
		}
	}
}
