package app

import (
	"context"
	"log/slog"

	pkgkafka "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"
)

// logPublisher stands in for Kafka when it is disabled. Events are written to
// the debug log and dropped.
type logPublisher struct {
	logger *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	p.logger.DebugContext(ctx, "event dropped, kafka disabled",
		slog.String("topic", topic),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}
