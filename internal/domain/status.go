package domain

import "strings"

// WorkStatus is the execution state shared by operations and work packages.
type WorkStatus string

// WorkStatus values in advance order.
const (
	StatusNotStarted WorkStatus = "not-started"
	StatusInProgress WorkStatus = "in-progress"
	StatusComplete   WorkStatus = "complete"
)

// statusCycle stores the fixed advance order.
var statusCycle = []WorkStatus{StatusNotStarted, StatusInProgress, StatusComplete}

// NormalizeWorkStatus canonicalizes user and legacy spellings.
func NormalizeWorkStatus(raw WorkStatus) WorkStatus {
	s := strings.TrimSpace(strings.ToLower(string(raw)))
	s = strings.NewReplacer("_", "-", " ", "-").Replace(s)
	switch s {
	case "not-started", "notstarted", "pending", "todo":
		return StatusNotStarted
	case "in-progress", "inprogress", "started", "progress":
		return StatusInProgress
	case "complete", "completed", "done":
		return StatusComplete
	default:
		return WorkStatus(s)
	}
}

// IsValidWorkStatus reports whether the status is one of the three known states.
func IsValidWorkStatus(s WorkStatus) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusComplete:
		return true
	default:
		return false
	}
}

// ParseWorkStatus normalizes and validates a raw status value.
func ParseWorkStatus(raw string) (WorkStatus, error) {
	s := NormalizeWorkStatus(WorkStatus(raw))
	if !IsValidWorkStatus(s) {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// Next returns the following state in the cycle; complete wraps to not-started.
// Unknown values advance as if they were not-started.
func (s WorkStatus) Next() WorkStatus {
	for idx, candidate := range statusCycle {
		if candidate == s {
			return statusCycle[(idx+1)%len(statusCycle)]
		}
	}
	return StatusInProgress
}

// Label returns a short display label.
func (s WorkStatus) Label() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusInProgress:
		return "in progress"
	case StatusComplete:
		return "complete"
	default:
		return string(s)
	}
}
