// Package comm presents an unbounded-length message abstraction over a
// carrier limited to small frames. Oversized payloads are split into
// marker-tagged chunks, submitted through the bandwidth scheduler under
// one FIFO queue, and reassembled on the receiving side before delivery
// to channel subscribers.
package comm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fairwire/fairwire/internal/validation"
	"github.com/fairwire/fairwire/observability"
	"github.com/fairwire/fairwire/scheduler"
	"github.com/fairwire/fairwire/transport"
)

var (
	ErrNilScheduler = errors.New("scheduler must not be nil")
	ErrNilHandler   = errors.New("handler must not be nil")
)

// Handler receives one logically-complete message: single-part, or fully
// reassembled multipart. Handlers must copy the payload if they retain it.
type Handler func(channel string, payload []byte, dest transport.Destination, sender string)

// ProgressFunc reports send progress for one logical message. It fires
// once per constituent frame with the bytes acknowledged so far and the
// frame's outcome; the call carrying the last chunk's outcome is the final
// completion signal.
type ProgressFunc func(sent, total int, outcome transport.Outcome)

// Subscription is a handle on one registered channel handler.
type Subscription struct {
	m       *Messenger
	channel string
	id      uuid.UUID
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if handlers, ok := s.m.subs[s.channel]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.m.subs, s.channel)
		}
	}
}

// Messenger is the fragmentation/reassembly layer bound to one scheduler.
type Messenger struct {
	cfg     Config
	sched   *scheduler.Scheduler
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  oteltrace.Tracer

	mu      sync.Mutex
	subs    map[string]map[uuid.UUID]Handler
	streams map[streamKey]*stream

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewMessenger creates a messenger sending through sched. logger may be
// nil (discarded), metrics may be nil (not recorded). The stale-stream
// janitor starts unless the sweep interval is negative.
func NewMessenger(cfg Config, sched *scheduler.Scheduler, logger *observability.Logger, metrics *observability.Metrics) (*Messenger, error) {
	if sched == nil {
		return nil, ErrNilScheduler
	}
	if logger == nil {
		logger = observability.Nop()
	}
	m := &Messenger{
		cfg:     cfg.normalized(),
		sched:   sched,
		log:     logger,
		metrics: metrics,
		tracer:  observability.Tracer(),
		subs:    make(map[string]map[uuid.UUID]Handler),
		streams: make(map[streamKey]*stream),
		stopCh:  make(chan struct{}),
	}
	if m.cfg.SweepInterval > 0 {
		go m.janitor()
	}
	return m, nil
}

// Close stops the janitor. In-flight streams are kept; the bound
// scheduler is not touched.
func (m *Messenger) Close() {
	m.closeOnce.Do(func() { close(m.stopCh) })
}

// Send submits one logical message of any length. Payloads that fit a
// single frame go out verbatim (escaped if the first byte collides with a
// control marker); longer payloads are split into marker-tagged chunks
// enqueued in order under one queue. Fails fast on an invalid priority or
// an oversized channel id; payload size never errors.
func (m *Messenger) Send(prio scheduler.Priority, channel string, payload []byte, dest transport.Destination, onProgress ProgressFunc) error {
	if !prio.Valid() {
		return scheduler.ErrInvalidPriority
	}
	if err := validation.ValidateChannelID(channel, m.cfg.MaxChannelIDLen); err != nil {
		return err
	}
	dest.Channel = channel

	_, span := m.tracer.Start(context.Background(), "comm.Send",
		oteltrace.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("lane", prio.String()),
			attribute.Int("bytes", len(payload)),
		))
	defer span.End()

	frames := fragment(payload, m.cfg.MaxFrameSize)
	span.SetAttributes(attribute.Int("frames", len(frames)))
	if m.metrics != nil {
		m.metrics.RecordMessageSent(len(frames))
	}
	total := len(payload)
	queueName := dest.String()

	if len(frames) == 1 {
		f := &scheduler.Frame{Dest: dest, Payload: frames[0]}
		if onProgress != nil {
			f.Done = func(_ any, ok bool, out transport.Outcome) {
				if ok {
					onProgress(total, total, out)
				} else {
					onProgress(0, total, out)
				}
			}
		}
		sent, err := m.sched.TrySendNow(prio, f)
		if err != nil {
			return err
		}
		if sent {
			return nil
		}
		return m.sched.Enqueue(prio, queueName, f)
	}

	acked := 0
	for _, w := range frames {
		f := &scheduler.Frame{Dest: dest, Payload: w}
		if onProgress != nil {
			chunkLen := len(w) - 1
			f.Done = func(_ any, ok bool, out transport.Outcome) {
				if ok {
					acked += chunkLen
					if acked > total {
						acked = total
					}
				}
				onProgress(acked, total, out)
			}
		}
		if err := m.sched.Enqueue(prio, queueName, f); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for complete messages on a channel.
func (m *Messenger) Subscribe(channel string, h Handler) (*Subscription, error) {
	if err := validation.ValidateChannelID(channel, m.cfg.MaxChannelIDLen); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	handlers, ok := m.subs[channel]
	if !ok {
		handlers = make(map[uuid.UUID]Handler)
		m.subs[channel] = handlers
	}
	id := uuid.New()
	handlers[id] = h
	return &Subscription{m: m, channel: channel, id: id}, nil
}

// HandleFrame is the receive path: carriers feed every raw frame here.
// Complete messages are delivered to subscribers in completion order.
// Continuation or last chunks with no matching stream, and frames tagged
// with unrecognized reserved markers, are dropped without diagnostics:
// both are legitimate races or future protocol extensions, not errors.
func (m *Messenger) HandleFrame(channel string, raw []byte, dest transport.Destination, sender string) {
	if len(raw) == 0 || !isReserved(raw[0]) {
		m.deliver(channel, raw, dest, sender, 1)
		return
	}

	now := time.Now()
	key := streamKey{channel: channel, scope: dest.Scope, sender: sender}
	switch raw[0] {
	case ctlEscape:
		m.deliver(channel, raw[1:], dest, sender, 1)
	case ctlFirst:
		m.handleFirst(key, raw[1:], now)
	case ctlNext:
		m.handleNext(key, raw[1:], now)
	case ctlLast:
		if payload, parts, ok := m.handleLast(key, raw[1:], now); ok {
			m.deliver(channel, payload, dest, sender, parts)
		}
	default:
		// Reserved marker from a newer protocol revision.
	}
}

func (m *Messenger) deliver(channel string, payload []byte, dest transport.Destination, sender string, parts int) {
	m.mu.Lock()
	handlers := make([]Handler, 0, len(m.subs[channel]))
	for _, h := range m.subs[channel] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	m.log.MessageDelivered(channel, sender, len(payload), parts)
	if m.metrics != nil {
		m.metrics.RecordDelivery()
	}
	for _, h := range handlers {
		m.safeInvoke(h, channel, payload, dest, sender)
	}
}

// safeInvoke shields the receive path from subscriber panics.
func (m *Messenger) safeInvoke(h Handler, channel string, payload []byte, dest transport.Destination, sender string) {
	defer func() {
		if r := recover(); r != nil {
			m.log.CallbackPanic(channel, r)
			if m.metrics != nil {
				m.metrics.RecordHandlerPanic()
			}
		}
	}()
	h(channel, payload, dest, sender)
}
