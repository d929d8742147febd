package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/fairwire/fairwire/transport"
)

// recordingTransport captures sent payloads and plays back a script of
// outcomes, defaulting to success once the script runs out.
type recordingTransport struct {
	sent   []string
	script []transport.Outcome
}

func (r *recordingTransport) SendFrame(_ transport.Destination, payload []byte) transport.Outcome {
	var out transport.Outcome
	if len(r.script) > 0 {
		out = r.script[0]
		r.script = r.script[1:]
	}
	if out == transport.OutcomeSuccess {
		r.sent = append(r.sent, string(payload))
	}
	return out
}

func enqueuePayload(t *testing.T, s *Scheduler, prio Priority, queue, payload string) {
	t.Helper()
	if err := s.Enqueue(prio, queue, &Frame{Payload: []byte(payload)}); err != nil {
		t.Fatalf("Enqueue(%q, %q) failed: %v", queue, payload, err)
	}
}

func setBudget(s *Scheduler, avail float64) {
	s.mu.Lock()
	s.avail = avail
	s.mu.Unlock()
}

func TestEnqueue_Validation(t *testing.T) {
	s := newTestScheduler(t, testConfig(), okTransport())

	if err := s.Enqueue(Priority(7), "q", &Frame{Payload: []byte("x")}); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("expected ErrInvalidPriority, got %v", err)
	}
	if err := s.Enqueue(Normal, "q", nil); !errors.Is(err, ErrNilFrame) {
		t.Errorf("expected ErrNilFrame, got %v", err)
	}
	if err := s.Enqueue(Normal, "", &Frame{Payload: []byte("x")}); !errors.Is(err, ErrEmptyQueueName) {
		t.Errorf("expected ErrEmptyQueueName, got %v", err)
	}
	// Zero overhead plus empty payload accounts to nothing sendable.
	if err := s.Enqueue(Normal, "q", &Frame{}); !errors.Is(err, ErrZeroSizeFrame) {
		t.Errorf("expected ErrZeroSizeFrame, got %v", err)
	}

	s.Stop()
	if err := s.Enqueue(Normal, "q", &Frame{Payload: []byte("x")}); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestDespool_FIFOWithinQueue(t *testing.T) {
	tr := &recordingTransport{}
	s := newTestScheduler(t, testConfig(), tr)

	want := []string{"one", "two", "three", "four", "five"}
	for _, p := range want {
		enqueuePayload(t, s, Normal, "q", p)
	}
	setBudget(s, 1000)
	s.Tick(s.lastUpdate)

	if len(tr.sent) != len(want) {
		t.Fatalf("expected %d frames sent, got %d", len(want), len(tr.sent))
	}
	for i := range want {
		if tr.sent[i] != want[i] {
			t.Errorf("frame %d: expected %q, got %q", i, want[i], tr.sent[i])
		}
	}
}

func TestDespool_FIFOAcrossMultipleTicks(t *testing.T) {
	tr := &recordingTransport{}
	cfg := testConfig()
	s := newTestScheduler(t, cfg, tr)

	for _, p := range []string{"aaaa", "bbbb", "cccc"} {
		enqueuePayload(t, s, Bulk, "q", p)
	}

	// Budget for exactly one 4-byte frame per tick.
	now := s.lastUpdate
	for i := 0; i < 3; i++ {
		setBudget(s, 4)
		s.Tick(now)
	}

	want := []string{"aaaa", "bbbb", "cccc"}
	if len(tr.sent) != 3 {
		t.Fatalf("expected 3 frames across 3 ticks, got %d", len(tr.sent))
	}
	for i := range want {
		if tr.sent[i] != want[i] {
			t.Errorf("frame %d: expected %q, got %q", i, want[i], tr.sent[i])
		}
	}
}

func TestDespool_NoReorderingAcrossRejection(t *testing.T) {
	tr := &recordingTransport{script: []transport.Outcome{transport.OutcomeThrottled}}
	s := newTestScheduler(t, testConfig(), tr)

	enqueuePayload(t, s, Normal, "q", "first")
	enqueuePayload(t, s, Normal, "q", "second")

	now := s.lastUpdate
	setBudget(s, 1000)
	s.Tick(now)
	if len(tr.sent) != 0 {
		t.Fatalf("nothing should send on the rejected tick, got %v", tr.sent)
	}
	if s.Idle() {
		t.Error("blocked work must keep the tick alive")
	}

	// Before reintegration the blocked queue stays parked.
	setBudget(s, 1000)
	s.Tick(now.Add(100 * time.Millisecond))
	if len(tr.sent) != 0 {
		t.Fatalf("blocked queue sent before reintegration: %v", tr.sent)
	}

	// After the reintegration interval the queue retries in order.
	setBudget(s, 1000)
	s.Tick(now.Add(400 * time.Millisecond))
	if len(tr.sent) != 2 || tr.sent[0] != "first" || tr.sent[1] != "second" {
		t.Fatalf("expected [first second] after retry, got %v", tr.sent)
	}
}

func TestDespool_RejectionOnlyParksOwnQueue(t *testing.T) {
	// Throttle the head of queue qa; qb on the same lane must still drain.
	tr := &recordingTransport{script: []transport.Outcome{transport.OutcomeThrottled}}
	s := newTestScheduler(t, testConfig(), tr)

	enqueuePayload(t, s, Normal, "qa", "blocked")
	enqueuePayload(t, s, Normal, "qb", "flows")

	setBudget(s, 1000)
	s.Tick(s.lastUpdate)

	// The lane pass stops at the rejection, so qb drains next tick.
	setBudget(s, 1000)
	s.Tick(s.lastUpdate.Add(100 * time.Millisecond))

	if len(tr.sent) != 1 || tr.sent[0] != "flows" {
		t.Fatalf("expected only qb's frame to send, got %v", tr.sent)
	}
	if s.PendingFrames() != 1 {
		t.Errorf("expected qa's frame still parked, pending=%d", s.PendingFrames())
	}
}

func TestDespool_PoisonFrameDoesNotWedgeQueue(t *testing.T) {
	var sent []string
	tr := transport.Func(func(_ transport.Destination, payload []byte) transport.Outcome {
		if string(payload) == "poison" {
			panic("carrier exploded")
		}
		sent = append(sent, string(payload))
		return transport.OutcomeSuccess
	})
	s := newTestScheduler(t, testConfig(), tr)

	var gotOK *bool
	var gotOutcome transport.Outcome
	f := &Frame{Payload: []byte("poison"), Done: func(_ any, ok bool, out transport.Outcome) {
		gotOK = &ok
		gotOutcome = out
	}}
	if err := s.Enqueue(Normal, "q", f); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	enqueuePayload(t, s, Normal, "q", "after")

	setBudget(s, 1000)
	s.Tick(s.lastUpdate)

	if gotOK == nil {
		t.Fatal("poison frame's callback never fired")
	}
	if *gotOK || gotOutcome != transport.OutcomeError {
		t.Errorf("expected failure callback with OutcomeError, got ok=%v outcome=%v", *gotOK, gotOutcome)
	}
	if len(sent) != 1 || sent[0] != "after" {
		t.Errorf("frame behind the poison frame should still send, got %v", sent)
	}
	if s.PendingFrames() != 0 {
		t.Errorf("poison frame must not be retried, pending=%d", s.PendingFrames())
	}
}

func TestTick_FairShareAcrossLanes(t *testing.T) {
	perLane := make(map[string]int)
	tr := transport.Func(func(dest transport.Destination, _ []byte) transport.Outcome {
		perLane[dest.Channel]++
		return transport.OutcomeSuccess
	})
	s := newTestScheduler(t, testConfig(), tr)

	payload := make([]byte, 100)
	for _, prio := range []Priority{Bulk, Normal, Alert} {
		for i := 0; i < 10; i++ {
			f := &Frame{Dest: transport.Destination{Channel: prio.String()}, Payload: payload}
			if err := s.Enqueue(prio, "q", f); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
		}
	}

	// 300 bytes across 3 loaded lanes: 100 each, exactly one frame per lane.
	setBudget(s, 300)
	s.Tick(s.lastUpdate)

	for _, prio := range []Priority{Bulk, Normal, Alert} {
		if perLane[prio.String()] != 1 {
			t.Errorf("lane %s: expected exactly 1 frame this tick, got %d", prio, perLane[prio.String()])
		}
		if s.LaneBytesSent(prio) != 100 {
			t.Errorf("lane %s: expected 100 accounted bytes, got %d", prio, s.LaneBytesSent(prio))
		}
	}
	if s.PendingFrames() != 27 {
		t.Errorf("expected 27 frames left, got %d", s.PendingFrames())
	}
}

func TestTick_IdleLaneBudgetFlowsBack(t *testing.T) {
	tr := &recordingTransport{}
	s := newTestScheduler(t, testConfig(), tr)

	// Only NORMAL has work: it should get the whole budget, not a third.
	for i := 0; i < 3; i++ {
		enqueuePayload(t, s, Normal, "q", string(make([]byte, 100)))
	}
	setBudget(s, 300)
	s.Tick(s.lastUpdate)

	if len(tr.sent) != 3 {
		t.Errorf("single loaded lane should use the full budget, sent %d frames", len(tr.sent))
	}
}

func TestTick_TwoQueuesOneTick(t *testing.T) {
	tr := &recordingTransport{}
	cfg := testConfig()
	s := newTestScheduler(t, cfg, tr)

	enqueuePayload(t, s, Normal, "queueA", string(make([]byte, 50)))
	enqueuePayload(t, s, Normal, "queueB", string(make([]byte, 50)))

	// One second elapsed at 1000 B/s replenishes well past the 100 bytes
	// these two frames need.
	s.Tick(s.lastUpdate.Add(time.Second))

	if len(tr.sent) != 2 {
		t.Fatalf("expected both frames to send in one tick, got %d", len(tr.sent))
	}
	s.mu.Lock()
	l := s.lanes[Normal]
	remaining := len(l.byName)
	activeLen := len(l.active.queues)
	s.mu.Unlock()
	if remaining != 0 || activeLen != 0 {
		t.Errorf("drained queues must leave the rotation, byName=%d active=%d", remaining, activeLen)
	}
}

func TestTick_IdleShutdownUntilNextEnqueue(t *testing.T) {
	tr := &recordingTransport{}
	s := newTestScheduler(t, testConfig(), tr)

	enqueuePayload(t, s, Normal, "q", "x")
	if s.Idle() {
		t.Fatal("scheduler should be ticking with work queued")
	}
	setBudget(s, 1000)
	s.Tick(s.lastUpdate)

	// The drained pass notices emptiness on the following tick.
	s.Tick(s.lastUpdate.Add(100 * time.Millisecond))
	if !s.Idle() {
		t.Error("expected idle shutdown once all lanes drain")
	}

	enqueuePayload(t, s, Normal, "q", "y")
	if s.Idle() {
		t.Error("Enqueue must restart the tick")
	}
}

func TestTrySendNow_FastPath(t *testing.T) {
	tr := &recordingTransport{}
	s := newTestScheduler(t, testConfig(), tr)
	setBudget(s, 1000)

	var done bool
	f := &Frame{Payload: []byte("now"), Done: func(_ any, ok bool, _ transport.Outcome) { done = ok }}
	sent, err := s.TrySendNow(Alert, f)
	if err != nil {
		t.Fatalf("TrySendNow failed: %v", err)
	}
	if !sent {
		t.Fatal("expected inline send with budget and no backlog")
	}
	if !done {
		t.Error("completion callback should fire inline")
	}
	if len(tr.sent) != 1 || tr.sent[0] != "now" {
		t.Errorf("expected payload sent inline, got %v", tr.sent)
	}
}

func TestTrySendNow_RefusesWithBacklog(t *testing.T) {
	tr := &recordingTransport{}
	s := newTestScheduler(t, testConfig(), tr)
	setBudget(s, 1000)

	enqueuePayload(t, s, Bulk, "q", "queued")
	sent, err := s.TrySendNow(Alert, &Frame{Payload: []byte("now")})
	if err != nil {
		t.Fatalf("TrySendNow failed: %v", err)
	}
	if sent {
		t.Error("fast path must refuse while any backlog exists")
	}
}

func TestTrySendNow_ThrottledFallsBackToCaller(t *testing.T) {
	tr := &recordingTransport{script: []transport.Outcome{transport.OutcomeThrottled}}
	s := newTestScheduler(t, testConfig(), tr)
	setBudget(s, 1000)

	sent, err := s.TrySendNow(Normal, &Frame{Payload: []byte("x")})
	if err != nil {
		t.Fatalf("TrySendNow failed: %v", err)
	}
	if sent {
		t.Error("a throttled inline send is not resolved; caller must enqueue")
	}
}

func TestCallbackPanic_DoesNotUnwindIntoTick(t *testing.T) {
	tr := &recordingTransport{}
	s := newTestScheduler(t, testConfig(), tr)

	f := &Frame{Payload: []byte("x"), Done: func(any, bool, transport.Outcome) {
		panic("producer bug")
	}}
	if err := s.Enqueue(Normal, "q", f); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	enqueuePayload(t, s, Normal, "q", "y")

	setBudget(s, 1000)
	s.Tick(s.lastUpdate) // must not panic

	if len(tr.sent) != 2 {
		t.Errorf("both frames should send despite the panicking callback, got %d", len(tr.sent))
	}
}

func TestParsePriority(t *testing.T) {
	cases := []struct {
		in   string
		want Priority
	}{
		{"BULK", Bulk},
		{"normal", Normal},
		{"Alert", Alert},
	}
	for _, c := range cases {
		got, err := ParsePriority(c.in)
		if err != nil || got != c.want {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
	}
	if _, err := ParsePriority("URGENT"); !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("expected ErrInvalidPriority for unknown lane, got %v", err)
	}
}
