package record

import "strings"

// Status represents the lifecycle of a record.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusInvalid   Status = "invalid"
	StatusDeleted   Status = "deleted"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusRunning,
	StatusComplete,
	StatusError,
	StatusCancelled,
	StatusInvalid,
	StatusDeleted,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// allowedTransitions is the exhaustive transition table. An attempted
// transition not present here is rejected, never coerced. Soft delete and
// undelete are handled separately because undelete restores the prior status.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusWaiting: {
		StatusRunning:   {},
		StatusCancelled: {},
	},
	StatusRunning: {
		StatusComplete:  {},
		StatusError:     {},
		StatusCancelled: {},
	},
	StatusComplete: {
		StatusInvalid: {},
	},
	StatusError: {
		StatusInvalid: {},
		StatusWaiting: {},
	},
	StatusCancelled: {
		StatusInvalid: {},
		StatusWaiting: {},
	},
	StatusInvalid: {
		StatusWaiting: {},
	},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether moving from one status to another is legal.
// Every non-deleted status may move to deleted; leaving deleted is only legal
// through undelete, which restores the remembered prior status.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusDeleted {
		return from != StatusDeleted
	}
	if from == StatusDeleted {
		return false
	}
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// IsTerminal reports whether a status ends a service dependency's lifecycle.
// A service only iterates once all of its dependencies are terminal.
func IsTerminal(status Status) bool {
	switch status {
	case StatusComplete, StatusError, StatusCancelled, StatusInvalid, StatusDeleted:
		return true
	default:
		return false
	}
}

// IsActive reports whether a record may still have an open task or service.
func IsActive(status Status) bool {
	return status == StatusWaiting || status == StatusRunning
}
