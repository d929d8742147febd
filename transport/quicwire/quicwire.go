// Package quicwire adapts a QUIC connection's unreliable datagrams to the
// transport.Transport primitive. Each frame travels as one datagram with
// a small addressing header so the receiving side can demultiplex by
// channel. An optional local pacer models the peer's enforced byte
// budget, mapping over-budget sends to OutcomeThrottled.
package quicwire

import (
	"context"
	"errors"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/time/rate"

	"github.com/fairwire/fairwire/comm"
	"github.com/fairwire/fairwire/observability"
	"github.com/fairwire/fairwire/transport"
)

const headerMagic byte = 0xF7

var (
	ErrBadHeader   = errors.New("malformed datagram header")
	ErrFieldTooBig = errors.New("destination field exceeds 255 bytes")
)

// Conn wraps one QUIC connection as a frame carrier.
type Conn struct {
	qc      *quic.Conn
	limiter *rate.Limiter
	log     *observability.Logger
}

// New creates a carrier over qc. sendLimit is the peer-enforced byte
// budget in bytes per second (non-positive disables local pacing). logger
// may be nil.
func New(qc *quic.Conn, sendLimit float64, burst int, logger *observability.Logger) *Conn {
	if logger == nil {
		logger = observability.Nop()
	}
	c := &Conn{qc: qc, log: logger}
	if sendLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(sendLimit), burst)
	}
	return c
}

// SendFrame implements transport.Transport over QUIC datagrams.
func (c *Conn) SendFrame(dest transport.Destination, payload []byte) transport.Outcome {
	if c.limiter != nil && !c.limiter.AllowN(time.Now(), len(payload)) {
		return transport.OutcomeThrottled
	}
	buf, err := encode(dest, payload)
	if err != nil {
		c.log.Error(err, "datagram encode failed")
		return transport.OutcomeError
	}
	if err := c.qc.SendDatagram(buf); err != nil {
		var tooLarge *quic.DatagramTooLargeError
		if errors.As(err, &tooLarge) {
			c.log.Error(err, "frame exceeds datagram limit")
		}
		return transport.OutcomeError
	}
	return transport.OutcomeSuccess
}

// Receive pumps inbound datagrams into the messenger until ctx is done or
// the connection closes. Malformed datagrams are dropped.
func (c *Conn) Receive(ctx context.Context, m *comm.Messenger) error {
	sender := c.qc.RemoteAddr().String()
	for {
		data, err := c.qc.ReceiveDatagram(ctx)
		if err != nil {
			return err
		}
		dest, payload, err := decode(data)
		if err != nil {
			c.log.Debug("dropping malformed datagram")
			continue
		}
		m.HandleFrame(dest.Channel, payload, dest, sender)
	}
}

// encode lays out [magic][len][channel][len][scope][len][target][payload].
func encode(dest transport.Destination, payload []byte) ([]byte, error) {
	fields := [3]string{dest.Channel, dest.Scope, dest.Target}
	n := 1
	for _, f := range fields {
		if len(f) > 255 {
			return nil, ErrFieldTooBig
		}
		n += 1 + len(f)
	}
	buf := make([]byte, 0, n+len(payload))
	buf = append(buf, headerMagic)
	for _, f := range fields {
		buf = append(buf, byte(len(f)))
		buf = append(buf, f...)
	}
	return append(buf, payload...), nil
}

func decode(buf []byte) (transport.Destination, []byte, error) {
	if len(buf) < 4 || buf[0] != headerMagic {
		return transport.Destination{}, nil, ErrBadHeader
	}
	pos := 1
	var fields [3]string
	for i := range fields {
		if pos >= len(buf) {
			return transport.Destination{}, nil, ErrBadHeader
		}
		l := int(buf[pos])
		pos++
		if pos+l > len(buf) {
			return transport.Destination{}, nil, ErrBadHeader
		}
		fields[i] = string(buf[pos : pos+l])
		pos += l
	}
	dest := transport.Destination{Channel: fields[0], Scope: fields[1], Target: fields[2]}
	return dest, buf[pos:], nil
}
