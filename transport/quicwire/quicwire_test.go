package quicwire

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fairwire/fairwire/transport"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		dest    transport.Destination
		payload []byte
	}{
		{"broadcast", transport.Destination{Channel: "chat", Scope: "party"}, []byte("hello")},
		{"whisper", transport.Destination{Channel: "sync", Scope: "whisper", Target: "alice"}, []byte{0x01, 0x02, 0x00}},
		{"empty payload", transport.Destination{Channel: "c", Scope: "s"}, nil},
		{"empty fields", transport.Destination{}, []byte("body")},
	}
	for _, c := range cases {
		buf, err := encode(c.dest, c.payload)
		if err != nil {
			t.Fatalf("%s: encode failed: %v", c.name, err)
		}
		dest, payload, err := decode(buf)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", c.name, err)
		}
		if dest != c.dest {
			t.Errorf("%s: destination mismatch: %+v != %+v", c.name, dest, c.dest)
		}
		if !bytes.Equal(payload, c.payload) {
			t.Errorf("%s: payload mismatch", c.name)
		}
	}
}

func TestEncode_FieldTooBig(t *testing.T) {
	dest := transport.Destination{Channel: strings.Repeat("x", 256), Scope: "s"}
	if _, err := encode(dest, nil); !errors.Is(err, ErrFieldTooBig) {
		t.Errorf("expected ErrFieldTooBig, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"short", []byte{headerMagic, 0}},
		{"bad magic", []byte{0x00, 0, 0, 0}},
		{"truncated field", []byte{headerMagic, 5, 'a', 'b'}},
		{"missing field", []byte{headerMagic, 1, 'c', 1, 's'}},
	}
	for _, c := range cases {
		if _, _, err := decode(c.buf); !errors.Is(err, ErrBadHeader) {
			t.Errorf("%s: expected ErrBadHeader, got %v", c.name, err)
		}
	}
}

func TestSendFrame_LocalPacerThrottles(t *testing.T) {
	// The pacer rejects before the connection is touched, so the throttle
	// path needs no network: a frame over the burst is refused outright.
	c := New(nil, 1, 10, nil)
	payload := make([]byte, 11)
	dest := transport.Destination{Channel: "c", Scope: "s"}

	if out := c.SendFrame(dest, payload); out != transport.OutcomeThrottled {
		t.Errorf("expected THROTTLED for a frame over the burst, got %v", out)
	}
}
