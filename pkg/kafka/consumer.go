package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/logger"
)

// TopicPrefix is the namespace shared by every fulfillment topic.
const TopicPrefix = "fulfillment"

// Topic constructs a fully-qualified topic name.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}

// maxHandlerRetries bounds handler attempts before a message is dead-lettered
// or skipped.
const maxHandlerRetries = 3

const consumerTracerName = "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers   []string
	GroupID   string
	Topic     string
	MinBytes  int
	MaxBytes  int
	EnableDLQ bool
}

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterer interface {
	Publish(ctx context.Context, original kafka.Message, lastErr error, consumerGroup string) error
	Close() error
}

// Consumer reads one topic in a consumer group and commits each message after
// the handler succeeds, is dead-lettered, or exhausts its retries.
type Consumer struct {
	reader    messageReader
	dlq       deadLetterer
	topic     string
	group     string
	logger    *slog.Logger
	handler   Handler
	backoff   time.Duration
	closeOnce sync.Once
}

// NewConsumer creates a consumer for a specific topic and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	c := &Consumer{
		reader:  r,
		topic:   cfg.Topic,
		group:   cfg.GroupID,
		logger:  logger,
		handler: handler,
		backoff: 100 * time.Millisecond,
	}
	if cfg.EnableDLQ {
		c.dlq = NewDLQProducer(cfg.Brokers, logger)
	}
	return c
}

// Start consumes messages until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.topic),
		slog.String("group", c.group),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", slog.String("topic", c.topic))
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}
		ConsumerMessagesReceived.WithLabelValues(c.topic, c.group).Inc()

		if err := c.process(ctx, msg); err != nil {
			// Only a canceled context ends processing early; leave the
			// message uncommitted so it is redelivered.
			return c.Close()
		}
	}
}

// process runs the handler with retries and commits the message. It returns an
// error only when ctx was canceled mid-retry.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to unmarshal event",
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
		)
		c.deadLetter(ctx, msg, err)
		c.commit(ctx, msg)
		return nil
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&msg.Headers))
	ctx, span := otel.Tracer(consumerTracerName).Start(ctx, "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.kafka.consumer.group", c.group),
			attribute.String("event.type", event.EventType),
		),
	)
	defer span.End()

	if event.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, event.CorrelationID)
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			break
		}
		c.logger.WarnContext(ctx, "handler failed, will retry",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
		)
		if attempt < maxHandlerRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}
	ConsumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())

	if lastErr != nil {
		ConsumerMessagesFailed.WithLabelValues(c.topic, c.group).Inc()
		span.RecordError(lastErr)
		c.logger.ErrorContext(ctx, "handler failed after all retries",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.Int64("offset", msg.Offset),
		)
		c.deadLetter(ctx, msg, lastErr)
	} else {
		ConsumerMessagesProcessed.WithLabelValues(c.topic, c.group).Inc()
	}

	c.commit(ctx, msg)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err == nil {
		ConsumerDLQPublished.WithLabelValues(c.topic, c.group).Inc()
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
	}
}

// Close closes the reader and the DLQ writer. It is safe to call multiple
// times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
		if c.dlq != nil {
			if dlqErr := c.dlq.Close(); err == nil {
				err = dlqErr
			}
		}
	})
	return err
}
