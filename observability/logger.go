package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithChannel adds channel context to logger.
func (l *Logger) WithChannel(channel string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("channel", channel).Logger(),
	}
}

// WithLane adds priority-lane context to logger.
func (l *Logger) WithLane(lane string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("lane", lane).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// FrameSent logs one frame handed to the carrier.
func (l *Logger) FrameSent(lane, queue string, bytes int) {
	l.logger.Debug().
		Str("lane", lane).
		Str("queue", queue).
		Int("bytes", bytes).
		Msg("frame sent")
}

// QueueBlocked logs a queue parked after a throttling rejection.
func (l *Logger) QueueBlocked(lane, queue string, pending int) {
	l.logger.Debug().
		Str("lane", lane).
		Str("queue", queue).
		Int("pending_frames", pending).
		Msg("queue blocked by carrier throttle")
}

// FrameDropped logs a frame dropped after a hard carrier failure.
func (l *Logger) FrameDropped(lane, queue string, bytes int) {
	l.logger.Warn().
		Str("lane", lane).
		Str("queue", queue).
		Int("bytes", bytes).
		Msg("frame dropped on carrier failure")
}

// TransportPanic logs a panic recovered from the carrier send call.
func (l *Logger) TransportPanic(lane string, v any) {
	l.logger.Error().
		Str("lane", lane).
		Interface("panic", v).
		Msg("carrier send panicked; frame treated as failed")
}

// CallbackPanic logs a panic recovered from a producer completion callback
// or a subscriber delivery handler.
func (l *Logger) CallbackPanic(channel string, v any) {
	l.logger.Error().
		Str("channel", channel).
		Interface("panic", v).
		Msg("callback panicked")
}

// MessageDelivered logs a logically-complete message handed to subscribers.
func (l *Logger) MessageDelivered(channel, sender string, bytes, parts int) {
	l.logger.Debug().
		Str("channel", channel).
		Str("sender", sender).
		Int("bytes", bytes).
		Int("parts", parts).
		Msg("message delivered")
}

// StreamEvicted logs a reassembly stream removed without completing.
func (l *Logger) StreamEvicted(channel, sender string, age time.Duration, reason string) {
	l.logger.Warn().
		Str("channel", channel).
		Str("sender", sender).
		Dur("age", age).
		Str("reason", reason).
		Msg("reassembly stream evicted")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
