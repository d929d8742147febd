// Package transport defines the frame-level send primitive the scheduler
// drains into. Implementations wrap a real datagram carrier (QUIC, an
// in-process loopback, a game-client channel) that enforces its own size
// and rate limits.
package transport

// Outcome classifies the result of a single frame send.
type Outcome int

const (
	// OutcomeSuccess means the carrier accepted the frame.
	OutcomeSuccess Outcome = iota

	// OutcomeThrottled means the carrier rejected the frame because the
	// sender is over its rate budget. The frame may be retried verbatim
	// later; the scheduler parks the owning queue until capacity frees up.
	OutcomeThrottled

	// OutcomeError means the frame was not and will not be delivered.
	// The scheduler drops it and reports failure to the producer.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeThrottled:
		return "THROTTLED"
	case OutcomeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Destination addresses one frame on the wire. Channel is the logical
// prefix the receiving side demultiplexes on (registration-limited in
// length by the carrier). Scope names the broadcast domain and Target the
// peer when the scope is point-to-point.
type Destination struct {
	Channel string
	Scope   string
	Target  string
}

// String renders a stable key for the destination, used for per-queue
// bookkeeping in the scheduler.
func (d Destination) String() string {
	if d.Target == "" {
		return d.Channel + "/" + d.Scope
	}
	return d.Channel + "/" + d.Scope + "/" + d.Target
}

// Transport sends one frame synchronously and reports the outcome. A
// Transport must not block indefinitely and must not swallow throttling:
// OutcomeThrottled is load-bearing for the scheduler's blocked-queue
// mechanism. Payload length is bounded by the carrier's wire limit.
type Transport interface {
	SendFrame(dest Destination, payload []byte) Outcome
}

// Func adapts a plain function to the Transport interface.
type Func func(dest Destination, payload []byte) Outcome

// SendFrame calls f.
func (f Func) SendFrame(dest Destination, payload []byte) Outcome {
	return f(dest, payload)
}
