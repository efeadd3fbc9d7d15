package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	pkgkafka "github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/kafka"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/logger"
)

// TopicAuditRecorded carries audit entries to the external audit log.
var TopicAuditRecorded = pkgkafka.Topic("audit", "recorded")

const source = "fulfillment-service"

// Sink receives one entry per state change. Delivery failures are logged by
// the sink and never reach the caller.
type Sink interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// stamp fills the correlation id and timestamp from ctx when missing.
func stamp(ctx context.Context, entry *domain.AuditEntry) {
	if entry.CorrelationID == "" {
		entry.CorrelationID = logger.CorrelationIDFromContext(ctx)
	}
	if entry.ActorID == "" {
		entry.ActorID = logger.ActorIDFromContext(ctx)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
}

// KafkaSink publishes entries to TopicAuditRecorded, keyed by entity id.
type KafkaSink struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

// NewKafkaSink creates a sink that publishes through publisher.
func NewKafkaSink(publisher pkgkafka.Publisher, logger *slog.Logger) *KafkaSink {
	return &KafkaSink{publisher: publisher, logger: logger}
}

func (s *KafkaSink) Record(ctx context.Context, entry domain.AuditEntry) {
	stamp(ctx, &entry)

	event, err := pkgkafka.NewEvent(ctx, "audit.recorded", entry.EntityID, entry.EntityType, source, entry)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build audit event",
			slog.String("action", entry.Action),
			slog.String("error", err.Error()),
		)
		return
	}
	event.WithMetadata("action", entry.Action)

	if err := s.publisher.Publish(ctx, TopicAuditRecorded, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish audit entry",
			slog.String("action", entry.Action),
			slog.String("entity_type", entry.EntityType),
			slog.String("entity_id", entry.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

// LogSink writes entries to the structured log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs entries at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, entry domain.AuditEntry) {
	stamp(ctx, &entry)

	attrs := []any{
		slog.String("actor_id", entry.ActorID),
		slog.String("action", entry.Action),
		slog.String("entity_type", entry.EntityType),
		slog.String("entity_id", entry.EntityID),
		slog.Time("occurred_at", entry.OccurredAt),
	}
	if entry.CorrelationID != "" {
		attrs = append(attrs, slog.String("correlation_id", entry.CorrelationID))
	}
	if len(entry.OldValues) > 0 {
		attrs = append(attrs, slog.Any("old_values", entry.OldValues))
	}
	if len(entry.NewValues) > 0 {
		attrs = append(attrs, slog.Any("new_values", entry.NewValues))
	}
	s.logger.InfoContext(ctx, "audit", attrs...)
}

var (
	_ Sink = (*KafkaSink)(nil)
	_ Sink = (*LogSink)(nil)
)
