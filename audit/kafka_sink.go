package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink mirrors entries to a topic keyed by entry id.
type KafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Flush.Messages = 100

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to start kafka producer: %w", err)
	}
	return newKafkaSink(producer, topic, logger), nil
}

func newKafkaSink(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *KafkaSink {
	if topic == "" {
		topic = "system.audit.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "audit_kafka_sink"),
		done:     make(chan struct{}),
	}
	go k.drainErrors()
	return k
}

func (k *KafkaSink) Write(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal failed: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(entry.ID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("action"), Value: []byte(entry.Action)},
		},
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		mirrorDroppedTotal.WithLabelValues(MirrorKafka).Inc()
		return ctx.Err()
	}
}

func (k *KafkaSink) drainErrors() {
	defer close(k.done)
	for err := range k.producer.Errors() {
		mirrorDroppedTotal.WithLabelValues(MirrorKafka).Inc()
		k.logger.Error("failed to send audit entry to kafka", "error", err.Err, "topic", err.Msg.Topic)
	}
}

func (k *KafkaSink) Close() error {
	err := k.producer.Close()
	<-k.done
	return err
}
