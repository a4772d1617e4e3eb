package scheduler

import (
	"fmt"
	"strings"
)

// Priority orders admitted requests. Lower values are dequeued first.
type Priority uint8

const (
	PriorityUnset    Priority = iota // zero value, rejected on admit
	PriorityCritical                 // user is waiting on the screen (dashboard, summaries)
	PriorityHigh                     // user-initiated writes and refetches
	PriorityMedium                   // list views
	PriorityLow                      // prefetch and background refresh
)

// Priorities lists the valid tiers from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unset"
	}
}

// Valid reports whether p is one of the four tiers.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ParsePriority accepts the lowercase tier names.
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return PriorityUnset, fmt.Errorf("%w: unknown priority %q", ErrInvalidOptions, s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
