// Package scheduler implements a bandwidth-fair, rate-limited despooler
// for discrete frames across three priority lanes and arbitrarily many
// named FIFO queues. The carrier may accept a frame, reject it for rate
// reasons (the owning queue is parked and retried later, order intact), or
// fail it outright (the frame is dropped and the producer notified).
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/fairwire/fairwire/observability"
	"github.com/fairwire/fairwire/transport"
)

var (
	ErrInvalidPriority = errors.New("invalid priority")
	ErrNilTransport    = errors.New("transport must not be nil")
	ErrNilFrame        = errors.New("frame must not be nil")
	ErrEmptyQueueName  = errors.New("queue name must not be empty")
	ErrZeroSizeFrame   = errors.New("frame accounted size must be positive")
	ErrStopped         = errors.New("scheduler stopped")
)

// lane is one priority level: its queues, the active and blocked
// rotations, a persistent per-lane budget slice, and telemetry.
type lane struct {
	prio      Priority
	byName    map[string]*queue
	active    ring
	blocked   ring
	avail     float64
	bytesSent int64
}

// completion is a resolved frame waiting for its callback, invoked after
// the scheduler lock is released.
type completion struct {
	f       *Frame
	ok      bool
	outcome transport.Outcome
}

// Scheduler owns the global byte budget and the three lanes. All mutable
// state is guarded by mu; the despool pass runs either on the internal
// ticker or on explicit Tick calls, never both concurrently.
type Scheduler struct {
	cfg     Config
	tr      transport.Transport
	log     *observability.Logger
	metrics *observability.Metrics

	mu              sync.Mutex
	lanes           [numLanes]*lane
	avail           float64
	lastUpdate      time.Time
	lastReintegrate time.Time
	clampUntil      time.Time
	queueing        bool
	loopRunning     bool
	stopped         bool
	externalBytes   int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler draining into tr. logger may be nil (discarded),
// metrics may be nil (not recorded). The startup hard-clamp window begins
// immediately.
func New(cfg Config, tr transport.Transport, logger *observability.Logger, metrics *observability.Metrics) (*Scheduler, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	if logger == nil {
		logger = observability.Nop()
	}
	now := time.Now()
	s := &Scheduler{
		cfg:             cfg.normalized(),
		tr:              tr,
		log:             logger,
		metrics:         metrics,
		lastUpdate:      now,
		lastReintegrate: now,
		stopCh:          make(chan struct{}),
	}
	s.clampUntil = now.Add(s.cfg.StartupClampWindow)
	for p := Priority(0); p < numLanes; p++ {
		s.lanes[p] = &lane{prio: p, byName: make(map[string]*queue)}
	}
	return s, nil
}

// Enqueue appends a frame to the named queue within the given lane,
// creating the queue and adding it to the rotation if absent. The frame's
// accounted size is fixed here and never recomputed.
func (s *Scheduler) Enqueue(prio Priority, queueName string, f *Frame) error {
	if !prio.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, prio)
	}
	if f == nil {
		return ErrNilFrame
	}
	if queueName == "" {
		return ErrEmptyQueueName
	}
	size := float64(len(f.Payload)) + s.cfg.FrameOverhead
	if size <= 0 {
		return ErrZeroSizeFrame
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	f.size = size
	l := s.lanes[prio]
	q, ok := l.byName[queueName]
	if !ok {
		q = &queue{name: queueName}
		l.byName[queueName] = q
		l.active.add(q)
	}
	q.frames = append(q.frames, f)
	s.ensureTickingLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.AddQueuedFrames(1)
	}
	return nil
}

// TrySendNow attempts the carrier call synchronously when the scheduler
// holds no backlog at all and the budget covers the frame. Returns true if
// the frame was resolved inline (sent, or dropped on hard failure, with
// the callback already invoked). Returns false when there is backlog, the
// budget is short, or the carrier throttled; callers fall back to Enqueue.
func (s *Scheduler) TrySendNow(prio Priority, f *Frame) (bool, error) {
	if !prio.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidPriority, prio)
	}
	if f == nil {
		return false, ErrNilFrame
	}
	size := float64(len(f.Payload)) + s.cfg.FrameOverhead
	if size <= 0 {
		return false, ErrZeroSizeFrame
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, ErrStopped
	}
	if s.queueing {
		s.mu.Unlock()
		return false, nil
	}
	s.updateAvailLocked(time.Now())
	if s.avail < size {
		s.mu.Unlock()
		return false, nil
	}
	f.size = size
	outcome := s.callTransport(prio, f)
	if outcome == transport.OutcomeThrottled {
		s.mu.Unlock()
		return false, nil
	}
	ok := outcome == transport.OutcomeSuccess
	if ok {
		s.avail -= f.size
		s.lanes[prio].bytesSent += int64(f.size)
	}
	s.mu.Unlock()

	s.recordSend(prio, f, ok)
	s.invoke(completion{f: f, ok: ok, outcome: outcome})
	return true, nil
}

// Tick runs one scheduling pass at the given time: replenish the budget,
// reintegrate blocked queues on the slower sub-interval, redistribute idle
// lane budget, then despool every lane with active work within its even
// share. Safe to call directly when the internal ticker is disabled.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	comps := s.tickLocked(now)
	s.mu.Unlock()
	for _, c := range comps {
		s.invoke(c)
	}
}

func (s *Scheduler) tickLocked(now time.Time) []completion {
	s.updateAvailLocked(now)

	// Negative budget means traffic is bypassing the scheduler; sending
	// anything now would make the flood worse.
	if s.avail < 0 {
		return nil
	}

	if now.Sub(s.lastReintegrate) >= s.cfg.BlockedReintegrateInterval {
		s.lastReintegrate = now
		for _, l := range s.lanes {
			l.blocked.drainInto(&l.active)
		}
	}

	n := 0
	anyBlocked := false
	for _, l := range s.lanes {
		if !l.active.empty() {
			n++
			continue
		}
		if !l.blocked.empty() {
			anyBlocked = true
		}
		// Return an idle lane's unused slice to the pool.
		if l.avail > 0 {
			s.avail += l.avail
			l.avail = 0
		}
	}
	if s.avail > s.cfg.BurstCeiling {
		s.avail = s.cfg.BurstCeiling
	}

	if n == 0 {
		if !anyBlocked {
			// Fully drained: stop ticking until the next Enqueue.
			s.queueing = false
		}
		return nil
	}

	share := s.avail / float64(n)
	s.avail = 0
	var comps []completion
	for _, l := range s.lanes {
		if l.active.empty() {
			continue
		}
		l.avail += share
		comps = append(comps, s.despoolLocked(l)...)
	}
	return comps
}

// despoolLocked drains the lane's rotation while the head frame of the
// current queue fits the lane budget. A throttling rejection parks the
// whole queue and ends the lane's pass: frames behind a rejected one must
// not be attempted out of order.
func (s *Scheduler) despoolLocked(l *lane) []completion {
	var comps []completion
	for !l.active.empty() {
		q := l.active.current()
		f := q.frames[0]
		if f.size > l.avail {
			break
		}

		outcome := s.callTransport(l.prio, f)
		if outcome == transport.OutcomeThrottled {
			l.active.removeCurrent()
			l.blocked.add(q)
			s.log.QueueBlocked(l.prio.String(), q.name, len(q.frames))
			if s.metrics != nil {
				s.metrics.RecordThrottleReject(l.prio.String())
			}
			break
		}

		q.frames = q.frames[1:]
		ok := outcome == transport.OutcomeSuccess
		if ok {
			l.avail -= f.size
			l.bytesSent += int64(f.size)
		}
		s.recordSend(l.prio, f, ok)
		if s.metrics != nil {
			s.metrics.AddQueuedFrames(-1)
		}
		if q.empty() {
			l.active.removeCurrent()
			delete(l.byName, q.name)
		} else {
			l.active.advance()
		}
		comps = append(comps, completion{f: f, ok: ok, outcome: outcome})
	}
	return comps
}

// callTransport performs the carrier call, converting a panic into a hard
// failure so one poison frame cannot halt the despooler.
func (s *Scheduler) callTransport(prio Priority, f *Frame) (outcome transport.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.TransportPanic(prio.String(), r)
			outcome = transport.OutcomeError
		}
	}()
	return s.tr.SendFrame(f.Dest, f.Payload)
}

func (s *Scheduler) recordSend(prio Priority, f *Frame, ok bool) {
	if ok {
		s.log.FrameSent(prio.String(), f.Dest.String(), len(f.Payload))
		if s.metrics != nil {
			s.metrics.RecordFrameSent(prio.String(), f.size)
		}
		return
	}
	s.log.FrameDropped(prio.String(), f.Dest.String(), len(f.Payload))
	if s.metrics != nil {
		s.metrics.RecordSendFailure(prio.String())
	}
}

func (s *Scheduler) invoke(c completion) {
	if c.f.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.CallbackPanic(c.f.Dest.Channel, r)
			if s.metrics != nil {
				s.metrics.RecordHandlerPanic()
			}
		}
	}()
	c.f.Done(c.f.DoneArg, c.ok, c.outcome)
}

// updateAvailLocked replenishes the global budget. During the startup
// clamp window replenishment runs at a tenth of the rate with the budget
// capped at half a second's worth; under external load it runs at half
// rate capped at one second's worth; otherwise it runs at full rate up to
// the burst ceiling. The floor bounds how far bypass traffic can push the
// budget negative.
func (s *Scheduler) updateAvailLocked(now time.Time) {
	elapsed := now.Sub(s.lastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	repl := s.cfg.MaxBytesPerSec * elapsed
	switch {
	case now.Before(s.clampUntil):
		s.avail = math.Min(s.avail+repl*0.1, s.cfg.MaxBytesPerSec*0.5)
	case s.cfg.UnderLoad != nil && s.cfg.UnderLoad():
		s.avail = math.Min(s.cfg.MaxBytesPerSec, s.avail+repl*0.5)
	default:
		s.avail = math.Min(s.cfg.BurstCeiling, s.avail+repl)
	}
	if floor := -2 * s.cfg.MaxBytesPerSec; s.avail < floor {
		s.avail = floor
	}
	s.lastUpdate = now
}

// RecordExternalTraffic accounts bytes sent to the carrier outside the
// scheduler, debiting the shared budget so total traffic stays within the
// carrier's limits. Portable replacement for intercepting the host send
// function.
func (s *Scheduler) RecordExternalTraffic(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.updateAvailLocked(time.Now())
	s.avail -= float64(n)
	if floor := -2 * s.cfg.MaxBytesPerSec; s.avail < floor {
		s.avail = floor
	}
	s.externalBytes += int64(n)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordExternalBytes(n)
	}
}

// NotifyReconnect re-arms the startup hard-clamp window. Carriers are
// strictest right after a session (re)establishes.
func (s *Scheduler) NotifyReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.clampUntil = now.Add(s.cfg.StartupClampWindow)
	s.avail = math.Min(s.avail, s.cfg.MaxBytesPerSec*0.5)
}

// Idle reports whether the scheduler has fully drained (no active and no
// blocked work) and the tick has shut down.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.queueing
}

// PendingFrames counts frames waiting in all queues, active and blocked.
func (s *Scheduler) PendingFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lanes {
		for _, q := range l.byName {
			n += len(q.frames)
		}
	}
	return n
}

// LaneBytesSent returns the cumulative accounted bytes sent on a lane.
func (s *Scheduler) LaneBytesSent(prio Priority) int64 {
	if !prio.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lanes[prio].bytesSent
}

// ExternalBytes returns the cumulative bytes reported via
// RecordExternalTraffic.
func (s *Scheduler) ExternalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externalBytes
}

// Stop halts the internal ticker. Pending frames are not flushed; further
// Enqueue calls fail with ErrStopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ensureTickingLocked marks the scheduler as having pending work and
// starts the internal ticker if configured and not already running.
func (s *Scheduler) ensureTickingLocked() {
	s.queueing = true
	if s.cfg.TickInterval < 0 || s.loopRunning {
		return
	}
	s.loopRunning = true
	go s.run()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			s.mu.Lock()
			s.loopRunning = false
			s.mu.Unlock()
			return
		case now := <-ticker.C:
			s.Tick(now)
			s.mu.Lock()
			if !s.queueing {
				s.loopRunning = false
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
		}
	}
}
