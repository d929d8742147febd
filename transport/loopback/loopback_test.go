package loopback

import (
	"testing"
	"time"

	"github.com/fairwire/fairwire/transport"
)

func TestPair_DeliversAcrossEndpoints(t *testing.T) {
	a, b := NewPair("a", "b", 0, 0)
	defer a.Close()
	defer b.Close()

	type inbound struct {
		dest    transport.Destination
		payload []byte
		sender  string
	}
	got := make(chan inbound, 1)
	b.OnFrame(func(dest transport.Destination, payload []byte, sender string) {
		got <- inbound{dest: dest, payload: payload, sender: sender}
	})

	dest := transport.Destination{Channel: "chat", Scope: "party"}
	if out := a.SendFrame(dest, []byte("hello")); out != transport.OutcomeSuccess {
		t.Fatalf("expected SUCCESS, got %v", out)
	}

	select {
	case in := <-got:
		if string(in.payload) != "hello" || in.sender != "a" || in.dest.Channel != "chat" {
			t.Errorf("unexpected delivery %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}

func TestSendFrame_ThrottlesOverBudget(t *testing.T) {
	// 1 B/s with a 10-byte burst: the first 10-byte frame drains the
	// bucket, the second is over budget.
	a, b := NewPair("a", "b", 1, 10)
	defer a.Close()
	defer b.Close()

	dest := transport.Destination{Channel: "c", Scope: "s"}
	payload := make([]byte, 10)
	if out := a.SendFrame(dest, payload); out != transport.OutcomeSuccess {
		t.Fatalf("first frame should pass, got %v", out)
	}
	if out := a.SendFrame(dest, payload); out != transport.OutcomeThrottled {
		t.Errorf("second frame should be throttled, got %v", out)
	}
}

func TestSendFrame_AfterCloseFails(t *testing.T) {
	a, b := NewPair("a", "b", 0, 0)
	defer b.Close()
	a.Close()
	a.Close() // idempotent

	if out := a.SendFrame(transport.Destination{Channel: "c", Scope: "s"}, []byte("x")); out != transport.OutcomeError {
		t.Errorf("expected ERROR after close, got %v", out)
	}
}

func TestSendFrame_PayloadCopied(t *testing.T) {
	a, b := NewPair("a", "b", 0, 0)
	defer a.Close()
	defer b.Close()

	got := make(chan []byte, 1)
	b.OnFrame(func(_ transport.Destination, payload []byte, _ string) {
		got <- payload
	})

	buf := []byte("original")
	a.SendFrame(transport.Destination{Channel: "c", Scope: "s"}, buf)
	copy(buf, "CLOBBER!")

	select {
	case payload := <-got:
		if string(payload) != "original" {
			t.Errorf("delivery must not alias the sender's buffer, got %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never delivered")
	}
}
