package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var consumerLabels = []string{"topic", "consumer_group"}

func consumerCounter(name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka",
		Subsystem: "consumer",
		Name:      name,
		Help:      help,
	}, consumerLabels)
}

func producerCounter(name, help string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kafka",
		Subsystem: "producer",
		Name:      name,
		Help:      help,
	}, []string{"topic"})
}

// Consumer metrics, labelled by topic and consumer group.
var (
	ConsumerMessagesReceived  = consumerCounter("messages_received_total", "Messages fetched from the broker.")
	ConsumerMessagesProcessed = consumerCounter("messages_processed_total", "Messages handled successfully.")
	ConsumerMessagesFailed    = consumerCounter("messages_failed_total", "Messages that could not be decoded or exhausted their retries.")
	ConsumerMessagesDuplicate = consumerCounter("messages_duplicate_total", "Redeliveries skipped because the event id was already processed.")
	ConsumerDLQPublished      = consumerCounter("dlq_published_total", "Messages forwarded to a dead-letter topic.")

	ConsumerProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka",
		Subsystem: "consumer",
		Name:      "processing_duration_seconds",
		Help:      "Time spent in the handler per message, retries included.",
		Buckets:   prometheus.DefBuckets,
	}, consumerLabels)
)

// Producer metrics, labelled by topic.
var (
	ProducerMessagesPublished = producerCounter("messages_published_total", "Events written to the broker.")
	ProducerPublishErrors     = producerCounter("publish_errors_total", "Failed event writes.")

	ProducerPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kafka",
		Subsystem: "producer",
		Name:      "publish_duration_seconds",
		Help:      "Latency of synchronous event writes.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"topic"})
)
