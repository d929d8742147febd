package transport

import "testing"

func TestOutcome_String(t *testing.T) {
	cases := []struct {
		o    Outcome
		want string
	}{
		{OutcomeSuccess, "SUCCESS"},
		{OutcomeThrottled, "THROTTLED"},
		{OutcomeError, "ERROR"},
		{Outcome(42), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := c.o.String(); got != c.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", c.o, got, c.want)
		}
	}
}

func TestDestination_String(t *testing.T) {
	d := Destination{Channel: "chat", Scope: "party"}
	if got := d.String(); got != "chat/party" {
		t.Errorf("expected chat/party, got %q", got)
	}
	d.Target = "alice"
	if got := d.String(); got != "chat/party/alice" {
		t.Errorf("expected chat/party/alice, got %q", got)
	}
}

func TestFunc_Adapts(t *testing.T) {
	var gotDest Destination
	var gotPayload []byte
	tr := Func(func(dest Destination, payload []byte) Outcome {
		gotDest = dest
		gotPayload = payload
		return OutcomeThrottled
	})

	out := tr.SendFrame(Destination{Channel: "c", Scope: "s"}, []byte("p"))
	if out != OutcomeThrottled {
		t.Errorf("expected THROTTLED passthrough, got %v", out)
	}
	if gotDest.Channel != "c" || string(gotPayload) != "p" {
		t.Errorf("arguments not forwarded: %+v %q", gotDest, gotPayload)
	}
}
