package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/venue-support/pkg/model"
)

// Broker carries messages between gateways. Every gateway sees every
// message and delivers it to the sockets it holds for that room.
type Broker interface {
	Publish(ctx context.Context, env model.Envelope) error
	// Subscribe calls fn for each message until ctx is done.
	Subscribe(ctx context.Context, fn func(model.Envelope)) error
	Close() error
}

type kafkaBroker struct {
	producer *kafka.Writer
	brokers  []string
	topic    string
	logger   *slog.Logger
}

// newKafkaBroker flushes after 10ms; kafka-go otherwise holds a partial
// batch for a full second.
func newKafkaBroker(brokers []string, topic string, logger *slog.Logger) *kafkaBroker {
	return &kafkaBroker{
		producer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
		brokers: brokers,
		topic:   topic,
		logger:  logger,
	}
}

// Publish keys by customer so a room's messages stay on one partition, in
// order.
func (b *kafkaBroker) Publish(ctx context.Context, env model.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return b.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(env.CustomerID, 10)),
		Value: value,
		Time:  env.Timestamp,
	})
}

func (b *kafkaBroker) Subscribe(ctx context.Context, fn func(model.Envelope)) error {
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       b.topic,
		GroupID:     "support-gateway-" + uuid.NewString(), // unique group: every gateway gets every message
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer consumer.Close()

	for {
		m, err := consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read fan-out topic: %w", err)
		}
		var env model.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			b.logger.Warn("dropping undecodable message", "offset", m.Offset, "err", err)
			continue
		}
		fn(env)
	}
}

func (b *kafkaBroker) Close() error {
	return b.producer.Close()
}
