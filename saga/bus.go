package saga

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/eventbus"
	"github.com/dpup/obsidian/logging"
	"github.com/google/uuid"
)

// Defaults used by NewBus.
const (
	DefaultShards        = 32
	DefaultTTL           = 20 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Option configures a Bus.
type Option func(*Bus)

// WithShards sets the number of registry shards.
func WithShards(n int) Option {
	return func(b *Bus) {
		b.shards = n
	}
}

// WithTTL sets how long a saga may sit idle between steps before it is
// evicted. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(b *Bus) {
		b.ttl = d
	}
}

// WithSweepInterval sets how often Run looks for expired sagas.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Bus) {
		b.sweepInterval = d
	}
}

// WithEventBus publishes lifecycle events to eb.
func WithEventBus(eb eventbus.EventBus) Option {
	return func(b *Bus) {
		b.events = eb
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

type startHandler struct {
	sagaType string
	run      func(ctx context.Context, id uuid.UUID, in any) (Saga, any, error)
}

type stepHandler func(ctx context.Context, s Saga, in any) (any, error)

type stepKey struct {
	saga  reflect.Type
	input reflect.Type
}

// Bus dispatches commands and messages to sagas and owns the registry of
// live instances. Handlers must be registered before the bus is used.
type Bus struct {
	shards        int
	ttl           time.Duration
	sweepInterval time.Duration
	events        eventbus.EventBus
	now           func() time.Time

	starters map[reflect.Type]startHandler
	steps    map[stepKey]stepHandler
	registry *registry
}

// NewBus returns a bus with no registered sagas.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		shards:        DefaultShards,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		starters:      map[reflect.Type]startHandler{},
		steps:         map[stepKey]stepHandler{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.registry = newRegistry(b.shards)
	return b
}

// StartsWith registers a handler that starts a new saga of type S when a
// command of type C is invoked. factory builds the saga with its
// dependencies. Registering two starters for the same command panics.
func StartsWith[S Saga, C Command[R], R any](b *Bus, factory func() S, handler func(S, context.Context, C) (R, error)) {
	in := reflect.TypeFor[C]()
	if existing, ok := b.starters[in]; ok {
		panic(fmt.Sprintf("saga: %s already starts %s", existing.sagaType, in))
	}
	name := typeName(reflect.TypeFor[S]())
	b.starters[in] = startHandler{
		sagaType: name,
		run: func(ctx context.Context, id uuid.UUID, cmd any) (Saga, any, error) {
			s := factory()
			s.setID(id)
			out, err := handler(s, ctx, cmd.(C))
			return s, out, err
		},
	}
}

// Handles registers a handler for messages of type M addressed to sagas of
// type S.
func Handles[S Saga, M Message[R], R any](b *Bus, handler func(S, context.Context, M) (R, error)) {
	key := stepKey{saga: reflect.TypeFor[S](), input: reflect.TypeFor[M]()}
	b.steps[key] = func(ctx context.Context, s Saga, msg any) (any, error) {
		return handler(s.(S), ctx, msg.(M))
	}
}

// Invoke starts a new saga with cmd and returns the result of its first step.
func Invoke[R any](ctx context.Context, b *Bus, cmd Command[R]) (R, error) {
	out, err := b.invoke(ctx, cmd)
	r, _ := out.(R)
	return r, err
}

// Send delivers msg to the saga it is addressed to and returns the result of
// the step.
func Send[R any](ctx context.Context, b *Bus, msg Message[R]) (R, error) {
	out, err := b.send(ctx, msg.CorrelationID(), msg)
	r, _ := out.(R)
	return r, err
}

func (b *Bus) invoke(ctx context.Context, cmd any) (any, error) {
	input := reflect.TypeOf(cmd)
	st, ok := b.starters[input]
	if !ok {
		return nil, errors.WrapPrefix(errors.Mark(ErrNoSagaForCommand, 0), typeName(input), 0)
	}

	id := uuid.New()
	ctx = logging.With(ctx, logging.FromContext(ctx).Named("saga").
		With("saga.id", id.String()).With("saga.type", st.sagaType))

	s, out, err := st.run(ctx, id, cmd)
	if err != nil {
		logging.Warnw(ctx, "saga: start failed", "input", typeName(input), "error", err)
		return out, err
	}

	if s.IsCompleted() {
		logging.Debugw(ctx, "saga: completed in one step", "input", typeName(input))
		b.publish(TopicCompleted, Event{SagaID: id, SagaType: st.sagaType, Input: typeName(input)})
		return out, nil
	}

	b.registry.put(id, &entry{saga: s, sagaType: st.sagaType, lastActive: b.now()})
	logging.Debugw(ctx, "saga: started", "input", typeName(input))
	b.publish(TopicStarted, Event{SagaID: id, SagaType: st.sagaType, Input: typeName(input)})
	return out, nil
}

func (b *Bus) send(ctx context.Context, id uuid.UUID, msg any) (out any, err error) {
	input := reflect.TypeOf(msg)

	e := b.registry.get(id)
	if e == nil {
		return nil, errors.Mark(ErrSagaNotFound, 0)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, errors.Mark(ErrSagaNotFound, 0)
	}

	ctx = logging.With(ctx, logging.FromContext(ctx).Named("saga").
		With("saga.id", id.String()).With("saga.type", e.sagaType))

	if b.ttl > 0 && b.now().Sub(e.lastActive) > b.ttl {
		b.registry.remove(id, e)
		logging.Infow(ctx, "saga: expired before message", "input", typeName(input))
		b.publish(TopicExpired, Event{SagaID: id, SagaType: e.sagaType})
		return nil, errors.Mark(ErrSagaNotFound, 0)
	}

	step, ok := b.steps[stepKey{saga: reflect.TypeOf(e.saga), input: input}]
	if !ok {
		return nil, errors.WrapPrefix(errors.Mark(ErrUnhandledMessage, 0), typeName(input), 0)
	}

	defer func() {
		if r := recover(); r != nil {
			b.registry.remove(id, e)
			b.publish(TopicEvicted, Event{SagaID: id, SagaType: e.sagaType, Input: typeName(input), Err: errors.Wrap(r, 2)})
			panic(r)
		}
	}()

	out, err = step(ctx, e.saga, msg)
	switch {
	case err != nil:
		b.registry.remove(id, e)
		logging.Warnw(ctx, "saga: step failed, evicting", "input", typeName(input), "error", err)
		b.publish(TopicEvicted, Event{SagaID: id, SagaType: e.sagaType, Input: typeName(input), Err: err})
	case e.saga.IsCompleted():
		b.registry.remove(id, e)
		logging.Debugw(ctx, "saga: completed", "input", typeName(input))
		b.publish(TopicCompleted, Event{SagaID: id, SagaType: e.sagaType, Input: typeName(input)})
	default:
		e.lastActive = b.now()
		logging.Debugw(ctx, "saga: advanced", "input", typeName(input))
	}
	return out, err
}

// Len returns the number of live sagas.
func (b *Bus) Len() int {
	return b.registry.len()
}

// Sweep evicts every saga that has been idle for longer than the TTL and
// returns how many were removed.
func (b *Bus) Sweep(ctx context.Context) int {
	if b.ttl <= 0 {
		return 0
	}
	expired := b.registry.expire(b.now().Add(-b.ttl))
	for id, e := range expired {
		logging.Debugw(ctx, "saga: expired", "saga.id", id.String(), "saga.type", e.sagaType)
		b.publish(TopicExpired, Event{SagaID: id, SagaType: e.sagaType})
	}
	return len(expired)
}

// Run sweeps expired sagas every sweep interval until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) {
	if b.ttl <= 0 || b.sweepInterval <= 0 {
		return
	}
	t := time.NewTicker(b.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := b.Sweep(ctx); n > 0 {
				logging.Infow(ctx, "saga: swept expired sagas", "count", n, "live", b.Len())
			}
		}
	}
}

func (b *Bus) publish(topic string, ev Event) {
	if b.events != nil {
		b.events.Publish(topic, ev)
	}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
