package service

import (
	"context"
	"time"

	"verification-service/internal/models"
)

// ChallengeStore is the durable record store for OTP challenges. The
// conditional update is the single-writer-per-token discipline: writers in
// any process pass the state they observed and learn whether they won.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, ch *models.OTPChallenge) error
	GetChallenge(ctx context.Context, sessionToken string) (*models.OTPChallenge, error)
	CompareAndUpdate(ctx context.Context, sessionToken string, expectedAttempts int, newStatus models.ChallengeStatus, newAttempts int) (bool, error)
	ResetSecret(ctx context.Context, sessionToken, otpHash, otpSalt, algorithm string, expiresAt time.Time, expectedAttempts int) (bool, error)
}

// CooldownStore throttles issuance per contact address.
type CooldownStore interface {
	TryAcquire(ctx context.Context, email string, ttl time.Duration) (bool, error)
	Clear(ctx context.Context, email string) error
}

// KnownDeviceStore tracks device ids already seen per principal.
type KnownDeviceStore interface {
	IsKnownDevice(ctx context.Context, principalID, deviceID string) (bool, error)
	RecordDevice(ctx context.Context, principalID, deviceID string) (bool, error)
}

// DeliveryPublisher hands delivery requests to the message channel.
type DeliveryPublisher interface {
	PublishDeliveryRequest(ctx context.Context, key string, req models.DeliveryRequest) error
}

// AuditRecorder appends auth events without blocking the caller.
type AuditRecorder interface {
	Record(event models.AuditEvent)
}
