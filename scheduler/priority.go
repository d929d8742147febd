package scheduler

import (
	"fmt"
	"strings"
)

// Priority selects one of the three scheduling lanes.
// Bulk is background traffic, Normal is ordinary traffic, Alert is
// time-critical traffic. Lanes share the global byte budget evenly when
// they all have work; an idle lane's share flows back to the pool.
type Priority uint8

const (
	Bulk Priority = iota
	Normal
	Alert

	numLanes = 3
)

func (p Priority) String() string {
	switch p {
	case Bulk:
		return "BULK"
	case Normal:
		return "NORMAL"
	case Alert:
		return "ALERT"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p names one of the three lanes.
func (p Priority) Valid() bool {
	return p < numLanes
}

// ParsePriority converts a lane name to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(s) {
	case "BULK":
		return Bulk, nil
	case "NORMAL":
		return Normal, nil
	case "ALERT":
		return Alert, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}
