package validation

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyString = errors.New("value must not be empty")
	ErrTooLong     = errors.New("value exceeds length limit")
	ErrOutOfRange  = errors.New("value out of range")
)

// ValidateChannelID checks a registration id against the carrier's length
// limit. The limit counts bytes, not runes.
func ValidateChannelID(id string, maxLen int) error {
	if id == "" {
		return fmt.Errorf("%w: channel id", ErrEmptyString)
	}
	if len(id) > maxLen {
		return fmt.Errorf("%w: channel id %q is %d bytes, limit %d", ErrTooLong, id, len(id), maxLen)
	}
	return nil
}

// ValidateRangeInt checks that v lies in [min, max].
func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrOutOfRange, v, min, max)
	}
	return nil
}
