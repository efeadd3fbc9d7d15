package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var consumerLabels = []string{"topic", "consumer_group"}

var (
	ConsumerMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_received_total",
		Help: "Kafka messages fetched from the broker.",
	}, consumerLabels)

	ConsumerMessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_processed_total",
		Help: "Kafka messages handled successfully.",
	}, consumerLabels)

	ConsumerMessagesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_failed_total",
		Help: "Kafka messages that failed all retries (sent to DLQ or dropped).",
	}, consumerLabels)

	ConsumerMessagesDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_duplicate_total",
		Help: "Kafka messages skipped by the idempotency guard.",
	}, []string{"event_type"})

	ConsumerDLQPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_dlq_published_total",
		Help: "Kafka messages published to a dead-letter topic.",
	}, consumerLabels)

	ConsumerProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_consumer_processing_duration_seconds",
		Help:    "Duration of Kafka message handling in seconds.",
		Buckets: prometheus.DefBuckets,
	}, consumerLabels)

	ProducerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_messages_published_total",
		Help: "Kafka messages published.",
	}, []string{"topic"})

	ProducerPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_publish_errors_total",
		Help: "Kafka publish failures.",
	}, []string{"topic"})

	ProducerPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_producer_publish_duration_seconds",
		Help:    "Duration of Kafka publish calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
)
