// Package bus implements the reliable message bus collaborator:
// per-destination ordered delivery, at-least-once guarantees, and
// sender-side deduplication via SenderDeduplicationId. Grounded on
// internal/taskqueue's Queue abstraction, generalized from a pull task
// queue to a push/subscribe message bus since flows correspond to
// destinations rather than task types.
package bus

import (
	"context"

	"github.com/flowmesh/flowmesh/pkg/flow"
)

// Inbound is a single delivery handed to a subscriber. Handler must be
// acknowledged (via MessageBus.Acknowledge) only after the receiving
// flow's transaction has committed — acking before commit can lose the
// message if the process crashes in between.
type Inbound struct {
	Destination string
	Message     any // flow.InitialSessionMessage | flow.ExistingSessionMessage | flow.ErrorSessionMessage
	Dedup       flow.DedupId
	Handler     flow.DedupHandler
}

// MessageBus is the collaborator responsible for reliable inter-flow
// delivery.
type MessageBus interface {
	// Send publishes payload to dest under the given SenderDeduplicationId.
	// Ordering is preserved per destination; a duplicate Send (same
	// dest+id) is suppressed rather than delivered twice.
	Send(ctx context.Context, dest string, payload any, dedup flow.DedupId) error

	// Subscribe registers a destination's inbound channel. Calling
	// Subscribe twice for the same destination replaces the previous
	// channel (only one active listener per destination).
	Subscribe(ctx context.Context, destination string) (<-chan Inbound, error)

	// Acknowledge tells the bus a delivery has been durably processed. It
	// is idempotent — acking an already-acked or unknown handler is not
	// an error, since redelivery of an acked message must never occur
	// under at-least-once+dedup.
	Acknowledge(ctx context.Context, h flow.DedupHandler) error
}

type dedupHandler flow.DedupId

func (h dedupHandler) DedupId() flow.DedupId { return flow.DedupId(h) }

// NewDedupHandler wraps id as a flow.DedupHandler.
func NewDedupHandler(id flow.DedupId) flow.DedupHandler { return dedupHandler(id) }
