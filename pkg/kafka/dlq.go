package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// DLQTopicPrefix prefixes the dead-letter topic of every source topic.
const DLQTopicPrefix = TopicPrefix + ".dlq"

// Headers added to dead-lettered messages.
const (
	HeaderDLQTopic     = "dlq.original_topic"
	HeaderDLQPartition = "dlq.original_partition"
	HeaderDLQOffset    = "dlq.original_offset"
	HeaderDLQGroup     = "dlq.consumer_group"
	HeaderDLQError     = "dlq.error"
)

// DLQTopic returns the dead-letter topic for a source topic.
func DLQTopic(topic string) string {
	return DLQTopicPrefix + "." + topic
}

// messageWriter is the part of kafka.Writer the DLQ needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DLQProducer forwards messages a consumer gave up on to their dead-letter
// topic, keeping key, value and headers and recording where they came from.
type DLQProducer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewDLQProducer creates a synchronous, fully acknowledged DLQ writer.
func NewDLQProducer(brokers []string, logger *slog.Logger) *DLQProducer {
	return &DLQProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		logger: logger,
	}
}

// deadLetter builds the DLQ copy of msg.
func deadLetter(msg kafka.Message, cause error, group string) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderDLQTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderDLQPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderDLQOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderDLQGroup, Value: []byte(group)},
	)
	if cause != nil {
		headers = append(headers, kafka.Header{Key: HeaderDLQError, Value: []byte(cause.Error())})
	}
	return kafka.Message{
		Topic:   DLQTopic(msg.Topic),
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// Publish writes msg to its dead-letter topic.
func (d *DLQProducer) Publish(ctx context.Context, msg kafka.Message, cause error, group string) error {
	dl := deadLetter(msg, cause, group)
	attrs := []any{
		slog.String("dlq_topic", dl.Topic),
		slog.String("original_topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("consumer_group", group),
	}

	if err := d.writer.WriteMessages(ctx, dl); err != nil {
		d.logger.ErrorContext(ctx, "dead-letter publish failed", append(attrs, slog.String("error", err.Error()))...)
		return fmt.Errorf("publish to %s: %w", dl.Topic, err)
	}
	d.logger.WarnContext(ctx, "message dead-lettered", attrs...)
	return nil
}

// Close flushes and closes the writer.
func (d *DLQProducer) Close() error {
	return d.writer.Close()
}
