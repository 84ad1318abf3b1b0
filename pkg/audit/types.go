package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	EventTypeAuthzPermissionCheck  EventType = "authz.permission_check"
	EventTypeAuthzPermissionGrant  EventType = "authz.permission_grant"
	EventTypeAuthzPermissionRevoke EventType = "authz.permission_revoke"
	EventTypeAuthzAccessDenied     EventType = "authz.access_denied"
	EventTypeAuthzGrantsExpired    EventType = "authz.grants_expired"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorID performed the action; SubjectID is the user it applies to
	ActorID      string `json:"actor_id,omitempty"`
	SubjectID    string `json:"subject_id,omitempty"`
	PermissionID string `json:"permission_id,omitempty"`

	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
