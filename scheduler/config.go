package scheduler

import "time"

// Config holds scheduler tunables. The zero value of a numeric field falls
// back to its default, except FrameOverhead where zero is a valid setting
// (no per-frame accounting overhead).
type Config struct {
	// MaxBytesPerSec is the sustained replenishment rate of the global
	// byte budget.
	MaxBytesPerSec float64

	// BurstCeiling caps how many bytes the budget may accumulate to while
	// the scheduler is idle.
	BurstCeiling float64

	// FrameOverhead is added to every frame's payload length when
	// computing its accounted cost. Carrier-specific; negative values are
	// treated as zero.
	FrameOverhead float64

	// TickInterval drives the internal despool clock. Negative disables
	// the internal ticker entirely for callers that drive Tick themselves.
	TickInterval time.Duration

	// BlockedReintegrateInterval is how often throttled queues are moved
	// back into the active rotation for a retry.
	BlockedReintegrateInterval time.Duration

	// StartupClampWindow hard-clamps the budget for this long after
	// construction and after NotifyReconnect. Zero disables the window.
	StartupClampWindow time.Duration

	// UnderLoad, when set and returning true, halves budget replenishment
	// and caps the budget at MaxBytesPerSec. Hook for host-load signals.
	UnderLoad func() bool
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		MaxBytesPerSec:             800,
		BurstCeiling:               4000,
		FrameOverhead:              40,
		TickInterval:               100 * time.Millisecond,
		BlockedReintegrateInterval: 350 * time.Millisecond,
		StartupClampWindow:         5 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBytesPerSec <= 0 {
		c.MaxBytesPerSec = d.MaxBytesPerSec
	}
	if c.BurstCeiling <= 0 {
		c.BurstCeiling = d.BurstCeiling
	}
	if c.FrameOverhead < 0 {
		c.FrameOverhead = 0
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.BlockedReintegrateInterval <= 0 {
		c.BlockedReintegrateInterval = d.BlockedReintegrateInterval
	}
	if c.StartupClampWindow < 0 {
		c.StartupClampWindow = 0
	}
	return c
}
