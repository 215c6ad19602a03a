package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/payment-service/internal/config"
	"github.com/segmentio/kafka-go"
)

// Consumer is a thin wrapper around segmentio/kafka-go Reader with explicit
// commits: an offset moves only after the caller is done with the message.
type Consumer struct {
	r *kafka.Reader
}

// NewConsumer reads topic as part of the configured consumer group.
func NewConsumer(c config.KafkaConfig, topic string) (*Consumer, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: empty topic")
	}

	min := c.MinBytes
	if min <= 0 {
		min = 1 << 10 // 1KB
	}
	max := c.MaxBytes
	if max <= 0 {
		max = 10 << 20 // 10MB
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		GroupID:  c.GroupID,
		Topic:    topic,
		MinBytes: min,
		MaxBytes: max,
		// 0 = commit synchronously on each CommitMessages call
		CommitInterval: time.Duration(c.CommitInterval) * time.Millisecond,
		MaxWait:        250 * time.Millisecond,
	})

	return &Consumer{r: r}, nil
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
