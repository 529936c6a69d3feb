// Package eventbus provides a simple publish/subscribe event bus. The saga bus
// publishes lifecycle events on it and the server attaches an audit
// subscriber.
package eventbus

import (
	"context"
)

// PluginName identifies the eventbus plugin.
const PluginName = "eventbus"

// Message is delivered to each subscriber of a topic.
type Message struct {
	ID      string
	Topic   string
	Data    any
	Attempt int
}

// NewMessage returns a first-attempt message.
func NewMessage(id, topic string, data any) *Message {
	return &Message{ID: id, Topic: topic, Data: data, Attempt: 1}
}

// Handler processes a published message.
type Handler func(context.Context, *Message) error

// EventBus provides a simple publish/subscribe interface.
type EventBus interface {
	// Subscribe to a topic. Handlers may be called concurrently and errors are
	// logged, not retried.
	Subscribe(topic string, handler Handler)

	// Publish a message to every subscriber of topic.
	Publish(topic string, data any)

	// Wait blocks until all published messages have been handled or ctx is
	// done.
	Wait(ctx context.Context) error

	// Shutdown stops accepting messages and waits for in-flight handlers.
	Shutdown(ctx context.Context) error
}

// Plugin exposes an event bus to the other server plugins.
func Plugin(eb EventBus) *EventBusPlugin {
	return &EventBusPlugin{EventBus: eb}
}

// EventBusPlugin wraps an EventBus for registration with the server.
type EventBusPlugin struct {
	EventBus
}

// From obsidian.Plugin.
func (p *EventBusPlugin) Name() string {
	return PluginName
}

// From obsidian.ShutdownPlugin.
func (p *EventBusPlugin) Shutdown(ctx context.Context) error {
	return p.EventBus.Shutdown(ctx)
}
