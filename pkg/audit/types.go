package audit

import "time"

// EventType categorizes an audit event
type EventType string

const (
	EventTypeAdminChange    EventType = "admin.change"
	EventTypeRecordMutation EventType = "data.record_mutation"
	EventTypeAccessDenied   EventType = "authz.access_denied"
	EventTypeSchemaReload   EventType = "config.schema_reload"
)

// EventStatus is the outcome of an audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit record
type Event struct {
	ID             int64             `json:"id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Type           EventType         `json:"event_type"`
	Status         EventStatus       `json:"status"`
	ActorID        string            `json:"actor_id,omitempty"`
	OrganizationID string            `json:"organization_id,omitempty"`
	Role           string            `json:"role,omitempty"`
	Resource       string            `json:"resource,omitempty"`
	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	StatusCode     int               `json:"status_code,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	Message        string            `json:"message,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Filter narrows a query over stored events. Zero fields match everything.
type Filter struct {
	OrganizationID string
	ActorID        string
	Type           EventType
	Since          time.Time
	Limit          uint64
}

// DefaultQueryLimit caps queries that do not set a limit
const DefaultQueryLimit = 100
