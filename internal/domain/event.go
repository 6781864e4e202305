package domain

import "time"

// EventType names a lifecycle event recorded for a task.
type EventType string

const (
	EventTaskCreated          EventType = "TaskCreated"
	EventTaskAccepted         EventType = "TaskAccepted"
	EventPaymentDeposited     EventType = "PaymentDeposited"
	EventTaskResultAsserted   EventType = "TaskResultAsserted"
	EventTaskDisputed         EventType = "TaskDisputed"
	EventTaskEscalated        EventType = "TaskEscalated"
	EventTaskResolved         EventType = "TaskResolved"
	EventTaskTimeoutCancelled EventType = "TaskTimeoutCancelled"
	EventTaskCannotComplete   EventType = "TaskCannotComplete"
	EventConfigUpdated        EventType = "ConfigUpdated"
)

// Event is an append-only record of something that happened to a task
// (or, for ConfigUpdated, to the registry; TaskID is nil then).
type Event struct {
	ID        string            `json:"id"`
	TaskID    *uint64           `json:"task_id,omitempty"`
	Type      EventType         `json:"type"`
	Actor     Address           `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}
