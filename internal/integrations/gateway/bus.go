package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"cart-recovery-agent/internal/domain"
)

// InboundTopic carries every message observed on the chat transport.
const InboundTopic = "chat.inbound"

// NewBus returns the in-process pub/sub used between the transport reader and
// the inbound pipeline. Publishing blocks until the subscriber acks, which
// keeps per-chat arrival order.
func NewBus(logger zerolog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(logger))
}

// Consume subscribes to InboundTopic and hands every decoded message to handle,
// one at a time, until ctx is done.
func Consume(ctx context.Context, sub message.Subscriber, handle func(context.Context, domain.ChannelMessage)) error {
	msgs, err := sub.Subscribe(ctx, InboundTopic)
	if err != nil {
		return fmt.Errorf("gateway: subscribe %s: %w", InboundTopic, err)
	}
	drain(ctx, msgs, handle)
	return nil
}

func drain(ctx context.Context, msgs <-chan *message.Message, handle func(context.Context, domain.ChannelMessage)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var cm domain.ChannelMessage
			if err := json.Unmarshal(msg.Payload, &cm); err == nil {
				handle(ctx, cm)
			}
			msg.Ack()
		}
	}
}

func publishMessage(pub message.Publisher, cm domain.ChannelMessage) error {
	payload, err := json.Marshal(cm)
	if err != nil {
		return fmt.Errorf("gateway: encode inbound message: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return pub.Publish(InboundTopic, msg)
}

// watermillLogger adapts zerolog to watermill.LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
}

func NewWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return watermillLogger{logger: logger.With().Str("component", "watermill").Logger()}
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
