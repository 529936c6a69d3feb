// Package saga implements a process-manager engine. A saga is a stateful
// object that drives one multi-step workflow across otherwise independent
// requests.
//
// Commands start a new saga instance. Messages are addressed to an existing
// instance through its correlation id. Both are dispatched through a Bus,
// which owns the registry of live instances:
//
//	bus := saga.NewBus()
//	saga.StartsWith(bus, newCheckout, (*Checkout).Start)
//	saga.Handles(bus, (*Checkout).Pay)
//
//	res, err := saga.Invoke[*Receipt](ctx, bus, &StartCheckout{...})
//	res, err = saga.Send[*Receipt](ctx, bus, &Pay{Correlated: saga.Correlate[*Receipt](res.SagaID)})
//
// An instance is registered after its first step unless it completed, and is
// evicted as soon as a step completes it, a step fails, or it sits idle for
// longer than the bus TTL.
package saga

import (
	"github.com/google/uuid"
)

// Saga is implemented by embedding Base.
type Saga interface {
	ID() uuid.UUID
	IsCompleted() bool

	setID(uuid.UUID)
}

// Base carries the identity and completion flag shared by all sagas.
type Base struct {
	id        uuid.UUID
	completed bool
}

// ID returns the correlation id of the saga.
func (b *Base) ID() uuid.UUID {
	return b.id
}

// IsCompleted reports whether the saga has finished. Completed sagas are
// removed from the registry.
func (b *Base) IsCompleted() bool {
	return b.completed
}

// Complete marks the saga as finished.
func (b *Base) Complete() {
	b.completed = true
}

func (b *Base) setID(id uuid.UUID) {
	b.id = id
}

// Command is a request that starts a new saga and yields R. Implement it by
// embedding StartCommand[R].
type Command[R any] interface {
	startsSaga() R
}

// StartCommand marks a type as a Command[R].
type StartCommand[R any] struct{}

func (StartCommand[R]) startsSaga() R {
	var zero R
	return zero
}

// Message is a request addressed to an existing saga which yields R.
// Implement it by embedding Correlated[R].
type Message[R any] interface {
	CorrelationID() uuid.UUID
	answeredWith() R
}

// Correlated holds the correlation id of a Message[R].
type Correlated[R any] struct {
	id uuid.UUID
}

// Correlate returns a Correlated[R] addressed to the saga with the given id.
func Correlate[R any](id uuid.UUID) Correlated[R] {
	return Correlated[R]{id: id}
}

// CorrelationID returns the id of the saga the message is addressed to.
func (c Correlated[R]) CorrelationID() uuid.UUID {
	return c.id
}

func (Correlated[R]) answeredWith() R {
	var zero R
	return zero
}
