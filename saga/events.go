package saga

import "github.com/google/uuid"

// Topics published on the event bus, when one is configured.
const (
	TopicStarted   = "saga.started"
	TopicCompleted = "saga.completed"
	TopicEvicted   = "saga.evicted"
	TopicExpired   = "saga.expired"
)

// Event describes a lifecycle transition of a saga instance.
type Event struct {
	SagaID   uuid.UUID
	SagaType string
	// Input is the type name of the command or message that caused the
	// transition. Empty for expiry.
	Input string
	// Err is set for evictions caused by a failing step.
	Err error
}
