package deadline

import "time"

// Status is the urgency band of a poll deadline.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusWarning  Status = "warning"
	StatusUrgent   Status = "urgent"
	StatusPassed   Status = "passed"
)

// Band edges in hours. A value equal to an edge belongs to the band above it.
const (
	UrgentHours  = 6.0
	WarningHours = 24.0
)

// Classify buckets a deadline relative to now:
//
//	hours < 0   passed
//	hours < 6   urgent
//	hours < 24  warning
//	otherwise   upcoming
//
// The boolean is false when there is no deadline.
func Classify(deadline *time.Time, now time.Time) (Status, bool) {
	if deadline == nil {
		return "", false
	}
	return ClassifyHours(HoursUntil(*deadline, now)), true
}

// ClassifyHours applies the Classify bands to a precomputed hour count.
func ClassifyHours(hours float64) Status {
	switch {
	case hours < 0:
		return StatusPassed
	case hours < UrgentHours:
		return StatusUrgent
	case hours < WarningHours:
		return StatusWarning
	default:
		return StatusUpcoming
	}
}
