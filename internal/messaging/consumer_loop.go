package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/metrics"
	"verification-service/internal/util"
)

// Handler processes one fetched message. Returning nil commits the offset.
// A non-nil error triggers redelivery with backoff; after the configured
// attempts the message is dead-lettered, never dropped.
type Handler func(ctx context.Context, msg kafka.Message) error

// Fetcher is the consumer-group read surface. *client.KafkaConsumer
// satisfies it.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type ConsumerLoop struct {
	fetcher     Fetcher
	dlq         Publisher
	handler     Handler
	topic       string
	dlqTopic    string
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
}

func NewConsumerLoop(fetcher Fetcher, dlq Publisher, cfg *config.Config, topic string, handler Handler) *ConsumerLoop {
	return &ConsumerLoop{
		fetcher:     fetcher,
		dlq:         dlq,
		handler:     handler,
		topic:       topic,
		dlqTopic:    cfg.Kafka.DeadLetterTopic,
		maxAttempts: cfg.Kafka.MaxDeliveryAttempts,
		backoffMin:  cfg.Kafka.RetryBackoffMin,
		backoffMax:  cfg.Kafka.RetryBackoffMax,
	}
}

// Run fetches, handles, and commits until ctx is cancelled. Offsets are
// committed only after the handler succeeded or the message was
// dead-lettered, so a crash mid-handling redelivers.
func (l *ConsumerLoop) Run(ctx context.Context) error {
	for {
		msg, err := l.fetcher.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return err
			}
			util.Error("Failed to fetch message",
				zap.String("topic", l.topic),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.backoffMin):
			}
			continue
		}

		if err := l.process(ctx, msg); err != nil {
			// Neither the handler nor the dead-letter publish accepted the
			// message. The offset stays uncommitted so the broker
			// redelivers it.
			util.Error("Message neither handled nor dead-lettered, leaving offset uncommitted",
				zap.String("topic", l.topic),
				zap.Error(err))
			continue
		}

		if err := l.fetcher.CommitMessages(ctx, msg); err != nil {
			// Commit failure means redelivery of an already-handled message;
			// handlers are idempotent, so log and move on.
			util.Error("Failed to commit offset",
				zap.String("topic", l.topic),
				zap.Error(err))
		}
	}
}

// process returns nil once the message is either handled or dead-lettered;
// anything else must not be committed.
func (l *ConsumerLoop) process(ctx context.Context, msg kafka.Message) error {
	var lastErr error

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if lastErr = l.handler(ctx, msg); lastErr == nil {
			return nil
		}

		util.Warn("Message handler failed",
			zap.String("topic", l.topic),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", l.maxAttempts),
			zap.Error(lastErr))

		if attempt < l.maxAttempts {
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(l.backoff(attempt)):
			}
		}
	}

	return l.deadLetter(ctx, msg, lastErr)
}

func (l *ConsumerLoop) backoff(attempt int) time.Duration {
	d := l.backoffMin << (attempt - 1)
	if d > l.backoffMax {
		return l.backoffMax
	}
	return d
}

func (l *ConsumerLoop) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	headers := map[string]string{
		"x-origin-topic": l.topic,
		"x-error":        cause.Error(),
	}

	if err := l.dlq.ProduceMessage(ctx, l.dlqTopic, msg.Key, msg.Value, headers); err != nil {
		util.Error("Failed to dead-letter message",
			zap.String("topic", l.topic),
			zap.String("dlq_topic", l.dlqTopic),
			zap.Error(err))
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}

	metrics.MessagesDeadLettered.WithLabelValues(l.topic).Inc()
	util.Error("Message dead-lettered",
		zap.String("topic", l.topic),
		zap.String("dlq_topic", l.dlqTopic),
		zap.Error(cause))
	return nil
}
