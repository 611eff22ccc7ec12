package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/bucketing"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

// Publisher is the audit write surface. *messaging.Producer satisfies it.
type Publisher interface {
	PublishAuditEvent(ctx context.Context, event models.AuditEvent) error
}

const publishAttempts = 3

// Logger appends auth events to the audit topic from a background goroutine.
// A slow or failing broker never fails the user-facing operation: Record
// returns immediately and publish failures are logged and retried here.
type Logger struct {
	publisher Publisher
	bucketing *bucketing.BucketingManager
	events    chan models.AuditEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewLogger(publisher Publisher, bm *bucketing.BucketingManager, buffer int) *Logger {
	if buffer <= 0 {
		buffer = 1024
	}

	l := &Logger{
		publisher: publisher,
		bucketing: bm,
		events:    make(chan models.AuditEvent, buffer),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// Record enqueues an event. Missing id/bucket/timestamp are filled here so
// callers only describe what happened.
func (l *Logger) Record(event models.AuditEvent) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.EventBucket = l.bucketing.GetEventBucket(event.PrincipalID)

	select {
	case l.events <- event:
	default:
		metrics.AuditPublishFailures.Inc()
		util.Error("Audit buffer full, event not enqueued",
			zap.String("action", event.Action),
			zap.String("principal_id", event.PrincipalID))
	}
}

func (l *Logger) run() {
	defer l.wg.Done()

	for event := range l.events {
		l.publish(event)
	}
}

func (l *Logger) publish(event models.AuditEvent) {
	for attempt := 1; attempt <= publishAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := l.publisher.PublishAuditEvent(ctx, event)
		cancel()

		if err == nil {
			return
		}

		util.Warn("Audit publish failed",
			zap.String("action", event.Action),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < publishAttempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}

	metrics.AuditPublishFailures.Inc()
	util.Error("Audit event lost after retries",
		zap.String("action", event.Action),
		zap.String("event_id", event.EventID))
}

// Close drains queued events and stops the background publisher.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.events)
		l.wg.Wait()
	})
}
