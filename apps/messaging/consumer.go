package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/venue-support/pkg/model"
)

type MessageWriter interface {
	Save(ctx context.Context, e model.Envelope) error
}

// RecentIndex keeps the staff "recent customers" list current.
type RecentIndex interface {
	Touch(ctx context.Context, customerID int64, username string, at time.Time) error
}

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader Reader
	store  MessageWriter
	recent RecentIndex
	logger *slog.Logger
	retry  time.Duration
}

func NewConsumer(brokers []string, topic string, groupID string, store MessageWriter, recent RecentIndex, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return newConsumer(r, store, recent, logger)
}

func newConsumer(r Reader, store MessageWriter, recent RecentIndex, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{reader: r, store: store, recent: recent, logger: logger, retry: time.Second}
}

// Consume persists messages until ctx is done. An offset is committed only
// after its message is stored; a redelivered message overwrites the same row.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("error reading message, retrying", "err", err, "in", c.retry)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		for {
			err := c.handle(ctx, m.Value)
			if err == nil {
				break
			}
			c.logger.Error("failed to persist message, retrying", "offset", m.Offset, "err", err)
			if !c.sleep(ctx) {
				return
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("commit failed", "offset", m.Offset, "err", err)
		}
	}
}

// handle stores one message. Undecodable or empty payloads are skipped, not
// retried.
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var env model.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		c.logger.Warn("skipping undecodable message", "err", err)
		return nil
	}
	if env.ID == 0 || env.CustomerID == 0 || env.Text == "" {
		c.logger.Warn("skipping incomplete message", "id", env.ID, "customer", env.CustomerID)
		return nil
	}

	if err := c.store.Save(ctx, env); err != nil {
		return err
	}
	c.logger.Debug("message saved", "id", env.ID, "customer", env.CustomerID)

	if c.recent != nil {
		// only the customer's own messages carry their display name
		name := ""
		if env.From.ID == model.IdentityFromInt(env.CustomerID) {
			name = env.From.Name
		}
		if err := c.recent.Touch(ctx, env.CustomerID, name, env.Timestamp); err != nil {
			c.logger.Warn("failed to update recent customers", "customer", env.CustomerID, "err", err)
		}
	}
	return nil
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}
	return nil
}
