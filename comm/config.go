package comm

import "time"

// Config holds fragmentation and reassembly tunables.
type Config struct {
	// MaxFrameSize is the carrier's wire limit per frame. Multipart chunks
	// carry MaxFrameSize-1 payload bytes, the spare byte holding the
	// control marker.
	MaxFrameSize int

	// MaxChannelIDLen bounds channel registration ids; a carrier-imposed
	// registration limit, not a scheduler requirement.
	MaxChannelIDLen int

	// ReassemblyTTL is how long an in-flight stream may go without a new
	// chunk before the janitor evicts it.
	ReassemblyTTL time.Duration

	// SweepInterval drives the eviction janitor. Negative disables the
	// janitor for callers that drive eviction themselves.
	SweepInterval time.Duration

	// MaxStreams caps concurrent reassembly streams; the oldest stream is
	// evicted to make room.
	MaxStreams int
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		MaxFrameSize:    255,
		MaxChannelIDLen: 16,
		ReassemblyTTL:   5 * time.Minute,
		SweepInterval:   30 * time.Second,
		MaxStreams:      256,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxFrameSize <= 1 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.MaxChannelIDLen <= 0 {
		c.MaxChannelIDLen = d.MaxChannelIDLen
	}
	if c.ReassemblyTTL <= 0 {
		c.ReassemblyTTL = d.ReassemblyTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MaxStreams <= 0 {
		c.MaxStreams = d.MaxStreams
	}
	return c
}
