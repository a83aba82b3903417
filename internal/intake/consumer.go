// Package intake bridges an external order-command topic to the trading
// engine. It is transport glue only; the engine API itself is in-process.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/peerderiv/coordinator/internal/engine"
	"github.com/peerderiv/coordinator/internal/trade"
)

// Command is an order submission consumed from the command topic.
type Command struct {
	OrderID          uuid.UUID         `json:"order_id"`
	TraderID         string            `json:"trader_id"`
	Symbol           string            `json:"symbol"`
	Direction        trade.Direction   `json:"direction"`
	Kind             trade.Kind        `json:"kind"`
	Price            decimal.Decimal   `json:"price"`
	Quantity         decimal.Decimal   `json:"quantity"`
	ExpiryUnixMillis int64             `json:"expiry_unix_millis"`
	Reason           trade.OrderReason `json:"reason"`
}

// Submitter is the slice of the engine the consumer needs.
type Submitter interface {
	SubmitOrder(ctx context.Context, draft trade.NewOrder, reason trade.OrderReason) (trade.Order, error)
}

// Consumer reads order commands from Kafka and submits them to the engine.
type Consumer struct {
	client    *kgo.Client
	submitter Submitter
	logger    *zap.Logger
	topic     string
	group     string
}

// NewConsumer creates an order-command consumer.
func NewConsumer(brokers []string, group, topic string, submitter Submitter, logger *zap.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("order intake initialized",
		zap.Strings("brokers", brokers),
		zap.String("group", group),
		zap.String("topic", topic),
	)

	return &Consumer{
		client:    client,
		submitter: submitter,
		logger:    logger,
		topic:     topic,
		group:     group,
	}, nil
}

// Run polls for order commands until the context is cancelled. Offsets are
// committed once a command has been handled; business rejections count as
// handled, transient failures are retried with backoff before giving up on
// the record.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting order intake", zap.String("group", c.group))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("order intake stopping")
			return ctx.Err()
		default:
			fetches := c.client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return fmt.Errorf("kafka client closed")
			}

			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()

				if err := c.handleWithRetry(ctx, record.Value); err != nil {
					c.logger.Error("order command failed after retries",
						zap.String("key", string(record.Key)),
						zap.Error(err),
					)
					continue
				}

				c.client.CommitRecords(ctx, record)
			}
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, value []byte) error {
	maxRetries := 3
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = c.handle(ctx, value); err == nil {
			return nil
		}

		// Rejections are final; only transient failures are worth retrying.
		var invalid *engine.InvalidOrderError
		var noMatch *engine.NoMatchFoundError
		if errors.As(err, &invalid) || errors.As(err, &noMatch) {
			return nil
		}

		if attempt < maxRetries-1 {
			c.logger.Warn("order command failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return fmt.Errorf("order command failed after %d attempts: %w", maxRetries, err)
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		c.logger.Error("failed to unmarshal order command", zap.Error(err))
		// A malformed record never becomes parseable; drop it.
		return nil
	}

	reason := cmd.Reason
	if reason == "" {
		reason = trade.ReasonManual
	}

	draft := trade.NewOrder{
		ID:        cmd.OrderID,
		TraderID:  cmd.TraderID,
		Symbol:    cmd.Symbol,
		Direction: cmd.Direction,
		Kind:      cmd.Kind,
		Price:     cmd.Price,
		Quantity:  cmd.Quantity,
		Expiry:    time.UnixMilli(cmd.ExpiryUnixMillis).UTC(),
	}

	order, err := c.submitter.SubmitOrder(ctx, draft, reason)
	if err != nil {
		var invalid *engine.InvalidOrderError
		var noMatch *engine.NoMatchFoundError
		if errors.As(err, &invalid) || errors.As(err, &noMatch) {
			c.logger.Info("order command rejected",
				zap.String("order_id", cmd.OrderID.String()),
				zap.String("trader_id", cmd.TraderID),
				zap.Error(err),
			)
			return err
		}
		return fmt.Errorf("failed to submit order %s: %w", cmd.OrderID, err)
	}

	c.logger.Info("order command processed",
		zap.String("order_id", order.ID.String()),
		zap.String("trader_id", order.TraderID),
		zap.String("kind", string(order.Kind)),
		zap.String("state", string(order.State)),
	)
	return nil
}

// Close closes the underlying Kafka client.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
