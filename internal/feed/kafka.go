package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/peerderiv/coordinator/internal/trade"
)

// Kafka publishes feed events to a Kafka topic, keyed by order id.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger

	publishCount int64
	errorCount   int64
}

// NewKafka creates a Kafka-backed feed publisher.
func NewKafka(brokers []string, topic string, logger *zap.Logger) (*Kafka, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.DisableIdempotentWrite(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	k := &Kafka{
		client: client,
		topic:  topic,
		logger: logger,
	}

	logger.Info("feed publisher initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)

	go k.logStats()

	return k, nil
}

func (k *Kafka) PublishNewOrder(ctx context.Context, order trade.Order) error {
	return k.publish(ctx, Event{Kind: EventNewOrder, OrderID: order.ID, Order: &order})
}

func (k *Kafka) PublishUpdate(ctx context.Context, orderID uuid.UUID, state trade.OrderState) error {
	return k.publish(ctx, Event{Kind: EventUpdate, OrderID: orderID, State: state})
}

func (k *Kafka) PublishDelete(ctx context.Context, orderID uuid.UUID) error {
	return k.publish(ctx, Event{Kind: EventDelete, OrderID: orderID})
}

func (k *Kafka) publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		atomic.AddInt64(&k.errorCount, 1)
		return fmt.Errorf("failed to marshal feed event: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.OrderID.String()),
		Value: data,
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := k.client.ProduceSync(produceCtx, record)
	if result.FirstErr() != nil {
		atomic.AddInt64(&k.errorCount, 1)
		return fmt.Errorf("failed to produce feed event: %w", result.FirstErr())
	}

	atomic.AddInt64(&k.publishCount, 1)
	return nil
}

// Close closes the underlying Kafka client.
func (k *Kafka) Close() {
	if k.client != nil {
		k.client.Close()
	}
}

func (k *Kafka) logStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		published := atomic.LoadInt64(&k.publishCount)
		errors := atomic.LoadInt64(&k.errorCount)
		k.logger.Info("feed publisher stats",
			zap.Int64("published", published),
			zap.Int64("errors", errors),
		)
	}
}
