package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	pkgkafka "StockPulse/pkg/kafka"
	applogger "StockPulse/pkg/logger"
)

// KafkaBroker carries invocations over one Kafka topic per analysis kind.
// Messages are keyed by task ID so retries for the same task stay on one
// partition.
type KafkaBroker struct {
	producer    *pkgkafka.Producer
	consumer    *pkgkafka.Consumer
	topicPrefix string
	logger      *applogger.Logger
}

// NewKafkaBroker creates a Kafka-backed broker. The consumer's per-topic
// worker counts (including any forecast pinning) are configured when the
// consumer is built.
func NewKafkaBroker(producer *pkgkafka.Producer, consumer *pkgkafka.Consumer, topicPrefix string, l *applogger.Logger) *KafkaBroker {
	return &KafkaBroker{
		producer:    producer,
		consumer:    consumer,
		topicPrefix: topicPrefix,
		logger:      l,
	}
}

// TopicFor returns the topic name carrying invocations of kind.
func TopicFor(topicPrefix string, kind models.AnalysisKind) string {
	return fmt.Sprintf("%s.%s", topicPrefix, kind)
}

func (b *KafkaBroker) Publish(ctx context.Context, inv *models.Invocation) error {
	topic := TopicFor(b.topicPrefix, inv.Kind)
	if err := b.producer.Publish(ctx, topic, []byte(inv.TaskID), inv); err != nil {
		return fmt.Errorf("publish invocation %s/%s: %w", inv.TaskID, inv.Kind, err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(kind models.AnalysisKind, handler repository.InvocationHandler) {
	b.consumer.RegisterHandler(&invocationMessageHandler{
		topic:   TopicFor(b.topicPrefix, kind),
		handler: handler,
		logger:  b.logger,
	})
}

func (b *KafkaBroker) Start() error {
	return b.consumer.Start()
}

func (b *KafkaBroker) Stop(ctx context.Context) error {
	if err := b.consumer.Stop(ctx); err != nil {
		return err
	}
	return b.producer.Close()
}

// invocationMessageHandler adapts an InvocationHandler to the consumer's
// MessageHandler interface.
type invocationMessageHandler struct {
	topic   string
	handler repository.InvocationHandler
	logger  *applogger.Logger
}

func (h *invocationMessageHandler) Topic() string { return h.topic }

func (h *invocationMessageHandler) Handle(ctx context.Context, value []byte) error {
	var inv models.Invocation
	if err := json.Unmarshal(value, &inv); err != nil {
		// Malformed payloads are dropped, not retried.
		if h.logger != nil {
			h.logger.Warn("dropping malformed invocation",
				applogger.String("topic", h.topic),
				applogger.Error(err),
			)
		}
		return nil
	}
	return h.handler(ctx, &inv)
}

var _ repository.Broker = (*KafkaBroker)(nil)
