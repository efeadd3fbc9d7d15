package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix prefixes every dead-letter topic.
const DLQTopicPrefix = TopicPrefix + ".dlq"

// DLQProducer publishes messages that exhausted their retries.
type DLQProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &DLQProducer{writer: w, logger: logger}
}

// DLQTopic returns the dead-letter topic for a source topic.
func DLQTopic(originalTopic string) string {
	return DLQTopicPrefix + "." + originalTopic
}

// dlqMessage copies the original message onto its DLQ topic with provenance
// headers attached.
func dlqMessage(original kafka.Message, lastErr error, consumerGroup string) kafka.Message {
	headers := make([]kafka.Header, 0, len(original.Headers)+5)
	headers = append(headers, original.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original_topic", Value: []byte(original.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: []byte(strconv.Itoa(original.Partition))},
		kafka.Header{Key: "dlq.original_offset", Value: []byte(strconv.FormatInt(original.Offset, 10))},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(consumerGroup)},
	)
	if lastErr != nil {
		headers = append(headers, kafka.Header{Key: "dlq.error", Value: []byte(lastErr.Error())})
	}

	return kafka.Message{
		Topic:   DLQTopic(original.Topic),
		Key:     original.Key,
		Value:   original.Value,
		Headers: headers,
	}
}

// Publish sends a failed message to the corresponding DLQ topic.
func (d *DLQProducer) Publish(ctx context.Context, original kafka.Message, lastErr error, consumerGroup string) error {
	msg := dlqMessage(original, lastErr, consumerGroup)

	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		d.logger.ErrorContext(ctx, "failed to publish message to DLQ",
			slog.String("dlq_topic", msg.Topic),
			slog.String("original_topic", original.Topic),
			slog.Int64("offset", original.Offset),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish to DLQ %s: %w", msg.Topic, err)
	}

	d.logger.WarnContext(ctx, "message sent to DLQ",
		slog.String("dlq_topic", msg.Topic),
		slog.String("original_topic", original.Topic),
		slog.Int("partition", original.Partition),
		slog.Int64("offset", original.Offset),
		slog.String("consumer_group", consumerGroup),
	)
	return nil
}

func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
