package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("storefront/messaging/consumer")

// HandlerFunc processes one message payload. An error that survives the
// consumer's retries stops it without committing, so the message is
// redelivered to the group.
type HandlerFunc func(ctx context.Context, payload []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   messageReader
	topic    string
	groupID  string
	attempts uint
	backoff  time.Duration
}

type consumerConfig struct {
	reader   kafka.ReaderConfig
	attempts uint
	backoff  time.Duration
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithRetry runs a failing handler up to attempts times per message,
// waiting an exponentially growing delay that starts at initial.
func WithRetry(attempts uint, initial time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.attempts = attempts
		cfg.backoff = initial
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
		attempts: 1,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		reader:   kafka.NewReader(cfg.reader),
		topic:    topic,
		groupID:  groupID,
		attempts: cfg.attempts,
		backoff:  cfg.backoff,
	}
}

// Consume fetches, handles and commits messages until ctx ends or a message
// cannot be handled.
func (c *Consumer) Consume(ctx context.Context, handle HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := c.process(ctx, msg, handle); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, handle HandlerFunc) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrierFor(&msg))

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
		),
	)
	defer span.End()

	if err := c.handle(spanCtx, span, msg.Value, handle); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) handle(ctx context.Context, span trace.Span, payload []byte, handle HandlerFunc) error {
	if c.attempts <= 1 {
		return handle(ctx, payload)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, handle(ctx, payload)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			span.AddEvent("retry", trace.WithAttributes(
				attribute.String("error", err.Error()),
				attribute.String("backoff", next.String()),
			))
		}),
	)
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
