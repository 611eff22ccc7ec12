package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"verification-service/internal/config"
	"verification-service/internal/models"
)

// Publisher is the broker write surface. *client.KafkaProducer satisfies it.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Producer publishes the service's typed messages. Delivery requests are
// keyed by recipient so one principal's notifications stay on one partition
// and arrive in issuance order.
type Producer struct {
	pub    Publisher
	topics config.KafkaConfig
}

func NewProducer(pub Publisher, cfg *config.Config) *Producer {
	return &Producer{pub: pub, topics: cfg.Kafka}
}

func (p *Producer) PublishDeliveryRequest(ctx context.Context, key string, req models.DeliveryRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode delivery request: %w", err)
	}

	if err := p.pub.ProduceMessage(ctx, p.topics.OTPTopic, []byte(key), value, nil); err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}
	return nil
}

func (p *Producer) PublishAuditEvent(ctx context.Context, event models.AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}

	if err := p.pub.ProduceMessage(ctx, p.topics.AuditTopic, []byte(event.PrincipalID), value, nil); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}
	return nil
}
