// Package membus provides an in-memory implementation of eventbus.EventBus
// backed by a bounded worker pool.
package membus

import (
	"context"
	"sync"

	"github.com/dpup/obsidian/errors"
	"github.com/dpup/obsidian/eventbus"
	"github.com/dpup/obsidian/logging"
	"github.com/google/uuid"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 100

// Option configures the bus.
type Option func(*Bus)

// WithWorkerPool sets the number of worker goroutines. Zero spawns one
// goroutine per delivery.
func WithWorkerPool(size int) Option {
	return func(b *Bus) {
		b.workers = size
	}
}

// New returns an in-memory EventBus. ctx is passed to subscribers.
func New(ctx context.Context, opts ...Option) *Bus {
	b := &Bus{
		subscriberCtx: logging.With(ctx, logging.FromContext(ctx).Named("eventbus")),
		workers:       DefaultWorkers,
		jobs:          make(chan job, 500),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type job struct {
	ctx     context.Context
	handler eventbus.Handler
	msg     *eventbus.Message
}

// Bus is an in-memory EventBus.
type Bus struct {
	subscribers   map[string][]eventbus.Handler
	subscriberCtx context.Context

	mu sync.Mutex     // Protects subscribers, started and closed.
	wg sync.WaitGroup // Outstanding deliveries.

	jobs    chan job
	workers int
	started bool
	closed  bool
}

var _ eventbus.EventBus = (*Bus)(nil)

// Subscribe registers a handler for topic.
func (b *Bus) Subscribe(topic string, handler eventbus.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = map[string][]eventbus.Handler{}
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish delivers data to every subscriber of topic. Messages published after
// Shutdown are dropped.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		logging.Warnw(b.subscriberCtx, "eventbus: publish after shutdown", "topic", topic)
		return
	}
	if !b.started {
		b.startWorkers()
		b.started = true
	}

	handlers := b.subscribers[topic]
	if len(handlers) == 0 {
		return
	}

	ctx := logging.With(b.subscriberCtx, logging.FromContext(b.subscriberCtx).Named(topic))
	for _, handler := range handlers {
		msg := eventbus.NewMessage(uuid.NewString(), topic, data)
		b.wg.Add(1)
		if b.workers == 0 {
			go b.execute(ctx, handler, msg)
		} else {
			b.jobs <- job{ctx: ctx, handler: handler, msg: msg}
		}
	}
}

func (b *Bus) startWorkers() {
	for range b.workers {
		go func() {
			for j := range b.jobs {
				b.execute(j.ctx, j.handler, j.msg)
			}
		}()
	}
}

// Shutdown closes the job queue and waits for all workers to finish.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	b.mu.Unlock()
	return b.Wait(ctx)
}

// Wait blocks until all pending messages are processed.
func (b *Bus) Wait(ctx context.Context) error {
	c := make(chan struct{})
	go func() {
		defer close(c)
		b.wg.Wait()
	}()
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return errors.WrapPrefix(ctx.Err(), "eventbus: waiting for handlers", 0)
	}
}

func (b *Bus) execute(ctx context.Context, handler eventbus.Handler, msg *eventbus.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrap(r, 2)
			logging.Errorw(ctx, "eventbus: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(0, 5), "message_id", msg.ID)
		}
		b.wg.Done()
	}()
	if err := handler(ctx, msg); err != nil {
		logging.Errorw(ctx, "eventbus: handler error", "error", err, "message_id", msg.ID)
	}
}
