package audit

import (
	"context"
	"errors"
	"time"
)

// ErrEventNotFound is returned by Store.Get for an unknown event ID
var ErrEventNotFound = errors.New("audit event not found")

// Store provides methods for querying persisted audit events
type Store interface {
	// Search returns events matching filter, newest first
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Get retrieves a specific audit event by ID
	Get(ctx context.Context, id string) (*AuditEvent, error)

	// GetStats summarizes events in the optional time range
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error)
}

// Search limits
const (
	DefaultSearchLimit = 100
	MaxSearchLimit     = 1000
)

// SearchFilter narrows an audit search. Zero fields do not filter.
type SearchFilter struct {
	EventType    EventType
	Status       EventStatus
	ActorID      string
	SubjectID    string
	PermissionID string
	StartTime    *time.Time
	EndTime      *time.Time

	Limit  int
	Offset int
}

// normalize clamps the paging fields
func (f SearchFilter) normalize() SearchFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// AuditStats summarizes the audit trail
type AuditStats struct {
	TotalEvents     int64                 `json:"total_events"`
	EventsByType    map[EventType]int64   `json:"events_by_type"`
	EventsByStatus  map[EventStatus]int64 `json:"events_by_status"`
	UniqueSubjects  int64                 `json:"unique_subjects"`
	AccessDenials   int64                 `json:"access_denials"`
	FailedMutations int64                 `json:"failed_mutations"`
}
