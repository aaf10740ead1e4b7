package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/WeighBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic, in a consumer group when groupID is set.
type Consumer struct {
	r     messageReader
	topic string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r:     kafka.NewReader(cfg),
		topic: topic,
	}
}

func newConsumerWithReader(r messageReader, topic string) *Consumer {
	return &Consumer{r: r, topic: topic}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every raw message to handler.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	return c.consume(ctx, func(msg kafka.Message) error {
		return handler(msg.Key, msg.Value)
	})
}

// ConsumeSADRegistered decodes sad.registered events and hands them to
// handle. Messages that do not decode, or carry no SAD number, are committed
// and skipped: redelivering them could never succeed.
func (c *Consumer) ConsumeSADRegistered(ctx context.Context, handle func(ctx context.Context, msg messages.SADRegistered) error) error {
	return c.consume(ctx, func(msg kafka.Message) error {
		var m messages.SADRegistered
		err := json.Unmarshal(msg.Value, &m)
		if err == nil && m.SADNo == "" {
			err = errors.New("sad_no is empty")
		}
		if err != nil {
			slog.Error("skip malformed sad registration",
				"topic", c.topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err.Error())
			return nil
		}
		return handle(ctx, m)
	})
}

// consume commits a message only after handler returned nil. A handler
// error stops the loop with that message uncommitted.
func (c *Consumer) consume(ctx context.Context, handler func(msg kafka.Message) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg); err != nil {
			return errors.WithMessagef(err, "handle %s offset %d", c.topic, msg.Offset)
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
