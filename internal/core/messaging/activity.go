package messaging

import "time"

// ActivityType represents a provider lifecycle event.
type ActivityType string

const (
	ActivityFetchStarted     ActivityType = "fetch_started"
	ActivityFetchSucceeded   ActivityType = "fetch_succeeded"
	ActivityFetchFailed      ActivityType = "fetch_failed"
	ActivityFetchDiscarded   ActivityType = "fetch_discarded"
	ActivityRequestAnswered  ActivityType = "request_answered"
	ActivityRefreshRequested ActivityType = "refresh_requested"
)

// Activity represents a provider activity event.
type Activity struct {
	ID         string       `json:"id"`
	Type       ActivityType `json:"type"`
	Channel    string       `json:"channel"`
	Generation uint64       `json:"generation,omitempty"`
	Items      int          `json:"items,omitempty"`
	Error      string       `json:"error,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// ActivityQuery selects activity events. Zero fields match everything.
type ActivityQuery struct {
	// Channel is a doublestar pattern over channel bases, for example
	// "company/widgets/v1" or "company/*/v2".
	Channel string
	Types   []ActivityType
	// Since keeps events strictly after this time.
	Since time.Time
	// Limit caps the result after filtering. 0 returns every match.
	Limit int
}

// ActivityStore defines persistence operations for activity events.
type ActivityStore interface {
	// Record records an activity event, assigning ID and Timestamp when
	// they are unset.
	Record(activity Activity) error
	// Query returns events matching q, newest first.
	Query(q ActivityQuery) ([]Activity, error)
}
