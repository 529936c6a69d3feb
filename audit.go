package obsidian

import (
	"context"

	"github.com/dpup/obsidian/eventbus"
	"github.com/dpup/obsidian/logging"
	"github.com/dpup/obsidian/saga"
)

// subscribeAudit logs saga lifecycle events. Evictions caused by a failing
// step are logged as warnings.
func subscribeAudit(eb eventbus.EventBus) {
	for _, topic := range []string{saga.TopicStarted, saga.TopicCompleted, saga.TopicEvicted, saga.TopicExpired} {
		eb.Subscribe(topic, auditHandler)
	}
}

func auditHandler(ctx context.Context, msg *eventbus.Message) error {
	ev, ok := msg.Data.(saga.Event)
	if !ok {
		return nil
	}
	fields := []any{
		"saga.id", ev.SagaID.String(),
		"saga.type", ev.SagaType,
	}
	if ev.Input != "" {
		fields = append(fields, "saga.input", ev.Input)
	}
	if ev.Err != nil {
		logging.Warnw(ctx, "audit: "+msg.Topic, append(fields, "error", ev.Err)...)
		return nil
	}
	logging.Debugw(ctx, "audit: "+msg.Topic, fields...)
	return nil
}
