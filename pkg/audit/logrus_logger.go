package audit

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as JSON lines through logrus
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates an audit logger writing JSON to out
func NewLogrusLogger(out io.Writer) *LogrusLogger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	logger.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{logger: logger}
}

// NewLogrusLoggerFrom reuses an existing logrus logger
func NewLogrusLoggerFrom(logger *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log writes the event. Denied and failed events are logged at warn level.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := logrus.Fields{
		"audit_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.ActorID != "" {
		fields["actor_id"] = event.ActorID
	}
	if event.SubjectID != "" {
		fields["subject_id"] = event.SubjectID
	}
	if event.PermissionID != "" {
		fields["permission_id"] = event.PermissionID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithContext(ctx).WithFields(fields).WithTime(event.Timestamp)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close is a no-op; the output writer is owned by the caller
func (l *LogrusLogger) Close() error {
	return nil
}
