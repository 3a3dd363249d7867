package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events asynchronously, keyed by conversation so
// one DM's events stay ordered on one partition.
type KafkaPublisher struct {
	writer messageWriter
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	logger = logger.With("component", "journal")
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			logger.Warn("failed to write journal batch", "count", len(messages), "error", err)
		}
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	value, err := encode(ev)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", ev.Kind, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ConversationKey(ev.From, ev.To)),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Kind, err)
	}
	p.logger.Debug("journaled", "kind", ev.Kind, "message_id", ev.MessageID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler applies one journal event. A returned error is logged and the
// record is still committed.
type Handler func(ctx context.Context, ev Event) error

type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	backoff time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, logger: logger.With("component", "journal-consumer"), backoff: time.Second}
}

// Run feeds every record to h until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("error reading journal, retrying", "error", err, "backoff", c.backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, m, h)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("failed to commit offset", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message, h Handler) {
	ev, err := decode(m.Value)
	if err != nil {
		c.logger.Warn("skipping malformed journal record", "offset", m.Offset, "error", err)
		return
	}
	if err := h(ctx, ev); err != nil {
		c.logger.Error("failed to apply journal event", "kind", ev.Kind, "message_id", ev.MessageID, "error", err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
