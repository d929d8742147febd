package scheduler

import (
	"github.com/fairwire/fairwire/transport"
)

// DoneFunc is invoked once per frame when the frame is resolved: accepted
// by the carrier (ok=true) or dropped on hard failure (ok=false). A frame
// parked by a throttling rejection is not resolved until its retry
// succeeds or fails. Callbacks run outside the scheduler lock; panics are
// recovered and reported.
type DoneFunc func(arg any, ok bool, outcome transport.Outcome)

// Frame is one schedulable unit of carrier work: the fully-bound send
// arguments plus optional completion notification.
type Frame struct {
	Dest    transport.Destination
	Payload []byte

	Done    DoneFunc
	DoneArg any

	// size is the accounted byte cost (payload length plus the configured
	// per-frame overhead). Computed once at enqueue time, never recomputed,
	// so a retried frame debits exactly what it did the first time.
	size float64
}
