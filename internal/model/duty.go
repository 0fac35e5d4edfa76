package model

import "time"

// EndReason records why a duty session was closed.
type EndReason string

const (
	EndManual   EndReason = "manual"
	EndLiveness EndReason = "liveness"
	EndLogout   EndReason = "logout"
)

// DutyStatus is the per-user pointer to the running duty session, stored
// under serviceStatus_<user>. StartedAt is nil whenever Active is false.
type DutyStatus struct {
	Active    bool   `json:"isActive"`
	StartedAt *int64 `json:"startTime"`
}

// ActiveSince returns a status for a session started at the given epoch millis.
func ActiveSince(startedAt int64) DutyStatus {
	return DutyStatus{Active: true, StartedAt: &startedAt}
}

// Valid reports whether StartedAt is set exactly when Active is.
func (s DutyStatus) Valid() bool {
	if s.Active {
		return s.StartedAt != nil
	}
	return s.StartedAt == nil
}

// Since returns the session start time, or the zero time when inactive.
func (s DutyStatus) Since() time.Time {
	if !s.Active || s.StartedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.StartedAt)
}

// DutyRecord is one completed duty session. The display fields are computed
// when the record is created and never recomputed.
type DutyRecord struct {
	ID                string    `json:"id,omitempty"`
	Date              string    `json:"date"`
	StartClock        string    `json:"startTime"`
	EndClock          string    `json:"endTime"`
	DurationSeconds   int64     `json:"duration"`
	FormattedDuration string    `json:"formattedDuration"`
	SortKey           int64     `json:"timestamp"`
	StartedAt         int64     `json:"startedAt,omitempty"`
	EndedAt           int64     `json:"endedAt,omitempty"`
	EndReason         EndReason `json:"endReason,omitempty"`
}
