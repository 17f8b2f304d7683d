package history

import (
	"errors"
	"strings"
	"time"
)

// ErrUnknownDirection rejects direction filter labels outside the known set.
var ErrUnknownDirection = errors.New("history: unknown direction")

const directionFilterAll = "all"

// Direction classifies a call log entry.
type Direction string

const (
	DirectionIncoming Direction = "Incoming"
	DirectionOutgoing Direction = "Outgoing"
	DirectionMissed   Direction = "Missed"
	DirectionOther    Direction = "Other"
)

// Call log type codes as written by the platform registry.
const (
	typeCodeIncoming = 1
	typeCodeOutgoing = 2
	typeCodeMissed   = 3
)

// DirectionFromTypeCode maps a registry type code to a Direction.
func DirectionFromTypeCode(code int) Direction {
	switch code {
	case typeCodeIncoming:
		return DirectionIncoming
	case typeCodeOutgoing:
		return DirectionOutgoing
	case typeCodeMissed:
		return DirectionMissed
	default:
		return DirectionOther
	}
}

// ParseDirection maps a direction label back to a Direction. Unknown labels are Other.
func ParseDirection(label string) Direction {
	switch Direction(strings.TrimSpace(label)) {
	case DirectionIncoming:
		return DirectionIncoming
	case DirectionOutgoing:
		return DirectionOutgoing
	case DirectionMissed:
		return DirectionMissed
	default:
		return DirectionOther
	}
}

// ParseDirectionFilter reads a filter label case-insensitively. An empty label
// or "All" yields the empty Direction, which matches every record.
func ParseDirectionFilter(label string) (Direction, error) {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" || strings.EqualFold(trimmed, directionFilterAll) {
		return "", nil
	}
	for _, direction := range []Direction{DirectionIncoming, DirectionOutgoing, DirectionMissed, DirectionOther} {
		if strings.EqualFold(trimmed, string(direction)) {
			return direction, nil
		}
	}
	return "", ErrUnknownDirection
}

// FilterByDirection returns the records with direction, in their original
// order. The empty Direction keeps every record.
func FilterByDirection(records []CallRecord, direction Direction) []CallRecord {
	filtered := make([]CallRecord, 0, len(records))
	for _, record := range records {
		if direction == "" || record.Direction == direction {
			filtered = append(filtered, record)
		}
	}
	return filtered
}

// String returns the display label.
func (d Direction) String() string {
	return string(d)
}

// CallRecord is one entry of the external call log.
type CallRecord struct {
	Number    string
	Direction Direction
	Timestamp time.Time
	Duration  time.Duration
}

// NormalizeNumber strips spaces and hyphens so differently formatted numbers join.
func NormalizeNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

// DistinctNumbers returns each number of records once, in first-seen order.
func DistinctNumbers(records []CallRecord) []string {
	seen := make(map[string]struct{}, len(records))
	numbers := make([]string, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.Number]; ok {
			continue
		}
		seen[record.Number] = struct{}{}
		numbers = append(numbers, record.Number)
	}
	return numbers
}
