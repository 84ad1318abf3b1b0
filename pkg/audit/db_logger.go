package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBLogger persists audit events in the audit_events table and serves them back as a Store.
// The table is created by the ledger database migrations; queries use $n placeholders,
// which both lib/pq and go-sqlite3 accept.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger over an already-migrated database
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, timestamp, event_type, status,
			actor_id, subject_id, permission_id, request_id,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		event.ID, event.Timestamp.UTC(), string(event.EventType), string(event.Status),
		event.ActorID, event.SubjectID, event.PermissionID, event.RequestID,
		event.Message, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// Close is a no-op; the database handle belongs to the ledger
func (l *DBLogger) Close() error {
	return nil
}

const selectEventColumns = `
	SELECT id, timestamp, event_type, status, actor_id, subject_id,
		permission_id, request_id, message, metadata
	FROM audit_events`

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	filter = filter.normalize()
	where, args := buildWhereClause(filter)

	query := selectEventColumns + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return events, nil
}

// Get retrieves a specific audit event by ID
func (l *DBLogger) Get(ctx context.Context, id string) (*AuditEvent, error) {
	row := l.db.QueryRowContext(ctx, selectEventColumns+" WHERE id = $1", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetStats summarizes events in the optional time range
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
	where, args := buildWhereClause(SearchFilter{StartTime: startTime, EndTime: endTime})

	stats := &AuditStats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
	}

	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT NULLIF(subject_id, '')) FROM audit_events"+where, args...,
	).Scan(&stats.TotalEvents, &stats.UniqueSubjects)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	byType, err := l.countBy(ctx, "event_type", where, args)
	if err != nil {
		return nil, err
	}
	for key, count := range byType {
		stats.EventsByType[EventType(key)] = count
	}

	byStatus, err := l.countBy(ctx, "status", where, args)
	if err != nil {
		return nil, err
	}
	for key, count := range byStatus {
		stats.EventsByStatus[EventStatus(key)] = count
	}

	stats.AccessDenials = stats.EventsByType[EventTypeAuthzAccessDenied]
	stats.FailedMutations = stats.EventsByStatus[EventStatusFailure]

	return stats, nil
}

// countBy groups events by a fixed column name
func (l *DBLogger) countBy(ctx context.Context, column, where string, args []interface{}) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM audit_events"+where+" GROUP BY "+column, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to group audit events by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s counts: %w", column, err)
	}
	return counts, nil
}

// buildWhereClause builds a WHERE clause and its arguments from a filter
func buildWhereClause(filter SearchFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s $%d", column, len(args)))
	}

	if filter.EventType != "" {
		add("event_type =", string(filter.EventType))
	}
	if filter.Status != "" {
		add("status =", string(filter.Status))
	}
	if filter.ActorID != "" {
		add("actor_id =", filter.ActorID)
	}
	if filter.SubjectID != "" {
		add("subject_id =", filter.SubjectID)
	}
	if filter.PermissionID != "" {
		add("permission_id =", filter.PermissionID)
	}
	if filter.StartTime != nil {
		add("timestamp >=", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		add("timestamp <=", filter.EndTime.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*AuditEvent, error) {
	var (
		event     AuditEvent
		eventType string
		status    string
		metadata  sql.NullString
	)

	err := scanner.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&event.ActorID, &event.SubjectID, &event.PermissionID, &event.RequestID,
		&event.Message, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.Timestamp = event.Timestamp.UTC()

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &event, nil
}
