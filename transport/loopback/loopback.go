// Package loopback provides an in-process transport pair with a
// carrier-side rate limit. The limiter models a strict server budget: a
// send over budget comes back OutcomeThrottled, exercising the
// scheduler's blocked-queue path without a network. Delivery to the peer
// is asynchronous and lossy under overload, like the real thing.
package loopback

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fairwire/fairwire/transport"
)

const inboxDepth = 1024

type delivery struct {
	dest    transport.Destination
	payload []byte
	sender  string
}

// FrameFunc consumes raw frames addressed to an endpoint.
type FrameFunc func(dest transport.Destination, payload []byte, sender string)

// Endpoint is one side of a loopback pair. It implements
// transport.Transport for outbound frames and dispatches inbound frames
// to the registered FrameFunc on its own goroutine, so a handler may send
// without re-entering the sender.
type Endpoint struct {
	name    string
	peer    *Endpoint
	limiter *rate.Limiter

	mu      sync.Mutex
	handler FrameFunc

	inbox     chan delivery
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPair wires two endpoints together. limit is each endpoint's send
// budget in bytes per second (non-positive means unlimited); burst is the
// allowance above the sustained rate.
func NewPair(nameA, nameB string, limit float64, burst int) (*Endpoint, *Endpoint) {
	a := newEndpoint(nameA, limit, burst)
	b := newEndpoint(nameB, limit, burst)
	a.peer = b
	b.peer = a
	go a.dispatch()
	go b.dispatch()
	return a, b
}

func newEndpoint(name string, limit float64, burst int) *Endpoint {
	l := rate.Inf
	if limit > 0 {
		l = rate.Limit(limit)
	}
	return &Endpoint{
		name:    name,
		limiter: rate.NewLimiter(l, burst),
		inbox:   make(chan delivery, inboxDepth),
		closed:  make(chan struct{}),
	}
}

// OnFrame registers the inbound frame consumer.
func (e *Endpoint) OnFrame(fn FrameFunc) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

// SendFrame implements transport.Transport. Over-budget sends are
// rejected with OutcomeThrottled; an overflowing peer inbox drops the
// frame silently (the carrier is lossy, reassembly tolerates it).
func (e *Endpoint) SendFrame(dest transport.Destination, payload []byte) transport.Outcome {
	select {
	case <-e.closed:
		return transport.OutcomeError
	default:
	}
	if !e.limiter.AllowN(time.Now(), len(payload)) {
		return transport.OutcomeThrottled
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case e.peer.inbox <- delivery{dest: dest, payload: buf, sender: e.name}:
	default:
	}
	return transport.OutcomeSuccess
}

// Close tears the endpoint down; subsequent sends fail.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() { close(e.closed) })
}

func (e *Endpoint) dispatch() {
	for {
		select {
		case <-e.closed:
			return
		case d := <-e.inbox:
			e.mu.Lock()
			fn := e.handler
			e.mu.Unlock()
			if fn != nil {
				fn(d.dest, d.payload, d.sender)
			}
		}
	}
}
