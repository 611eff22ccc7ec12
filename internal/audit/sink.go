package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

const (
	insertEventQuery = `INSERT INTO audit_events (
        event_id, event_bucket, event_date, event_time, principal_id,
        principal_type, action, ip_address, user_agent, success, metadata)`

	esIndexName = "audit-events"
)

// Sink consumes audit events from the broker and lands them in ClickHouse,
// with a best-effort copy in Elasticsearch for search. ClickHouse failure
// is returned so the broker redelivers; Elasticsearch failure is not.
type Sink struct {
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
}

func NewSink(clickhouse *client.ClickHouseClient, es *client.ESClient) *Sink {
	return &Sink{clickhouse: clickhouse, es: es}
}

// Handle implements messaging.Handler for the audit topic. Malformed
// payloads are logged and acknowledged; redelivery cannot fix them.
func (s *Sink) Handle(ctx context.Context, msg kafka.Message) error {
	var event models.AuditEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		util.Error("Malformed audit event, skipping",
			zap.ByteString("key", msg.Key),
			zap.Error(err))
		return nil
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	row := []interface{}{
		event.EventID,
		int32(event.EventBucket),
		event.Timestamp.UTC().Format("2006-01-02"),
		event.Timestamp.UTC(),
		event.PrincipalID,
		event.PrincipalType,
		event.Action,
		event.IPAddress,
		event.UserAgent,
		event.Success,
		string(metadata),
	}

	if err := s.clickhouse.BatchInsert(ctx, insertEventQuery, [][]interface{}{row}); err != nil {
		return fmt.Errorf("failed to persist audit event: %w", err)
	}
	metrics.AuditEventsWritten.Inc()

	if s.es != nil {
		if err := s.es.IndexDocument(ctx, esIndexName, event.EventID, event); err != nil {
			util.Warn("Failed to index audit event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}

	return nil
}
