package audit

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// Querier reads stored events back
type Querier interface {
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// NopLogger discards every event
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) Close() error                      { return nil }

// LogrusLogger writes events as structured log entries under the "audit"
// component field
type LogrusLogger struct {
	log *logrus.Logger
}

// NewLogrusLogger creates a logger writing to log
func NewLogrusLogger(log *logrus.Logger) *LogrusLogger {
	if log == nil {
		log = logrus.New()
	}
	return &LogrusLogger{log: log}
}

// Log implements Logger
func (l *LogrusLogger) Log(_ context.Context, event *Event) error {
	stamp(event)
	fields := logrus.Fields{
		"component":  "audit",
		"event_type": event.Type,
		"status":     event.Status,
	}
	if event.ActorID != "" {
		fields["actor_id"] = event.ActorID
	}
	if event.OrganizationID != "" {
		fields["organization_id"] = event.OrganizationID
	}
	if event.Resource != "" {
		fields["resource"] = event.Resource
	}
	if event.Method != "" {
		fields["method"] = event.Method
		fields["path"] = event.Path
		fields["status_code"] = event.StatusCode
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.log.WithFields(fields).WithTime(event.Timestamp)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error { return nil }

// MultiLogger writes every event to each of its loggers in order. A failing
// logger does not stop the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger fanning out to loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log implements Logger
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Query implements Querier using the first logger that supports it
func (m *MultiLogger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	for _, l := range m.loggers {
		if q, ok := l.(Querier); ok {
			return q.Query(ctx, filter)
		}
	}
	return nil, errors.New("no queryable audit logger configured")
}

// Close implements Logger
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stamp fills the timestamp of events built without one
func stamp(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
