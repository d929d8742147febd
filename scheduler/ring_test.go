package scheduler

import "testing"

func queueNames(r *ring) []string {
	names := make([]string, 0, len(r.queues))
	for i := range r.queues {
		names = append(names, r.queues[(r.pos+i)%len(r.queues)].name)
	}
	return names
}

func TestRing_AddAdvanceRemove(t *testing.T) {
	r := &ring{}
	if !r.empty() {
		t.Fatal("new ring should be empty")
	}

	r.add(&queue{name: "a"})
	r.add(&queue{name: "b"})
	r.add(&queue{name: "c"})

	if got := r.current().name; got != "a" {
		t.Errorf("expected current 'a', got %q", got)
	}
	r.advance()
	if got := r.current().name; got != "b" {
		t.Errorf("expected current 'b' after advance, got %q", got)
	}

	removed := r.removeCurrent()
	if removed.name != "b" {
		t.Errorf("expected to remove 'b', got %q", removed.name)
	}
	if got := r.current().name; got != "c" {
		t.Errorf("expected pointer on 'c' after removal, got %q", got)
	}

	// Removing the last slot wraps the pointer to the front.
	r.removeCurrent()
	if got := r.current().name; got != "a" {
		t.Errorf("expected pointer to wrap to 'a', got %q", got)
	}
}

func TestRing_DrainIntoPreservesRotationOrder(t *testing.T) {
	src := &ring{}
	src.add(&queue{name: "a"})
	src.add(&queue{name: "b"})
	src.add(&queue{name: "c"})
	src.advance() // rotation order is now b, c, a

	dst := &ring{}
	dst.add(&queue{name: "x"})
	src.drainInto(dst)

	if !src.empty() {
		t.Error("source ring should be empty after drain")
	}
	want := []string{"x", "b", "c", "a"}
	got := queueNames(dst)
	if len(got) != len(want) {
		t.Fatalf("expected %d queues, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
