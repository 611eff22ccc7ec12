package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verification-service/internal/models"
	"verification-service/internal/util"
)

var (
	ErrNotFound      = errors.New("challenge not found")
	ErrAlreadyExists = errors.New("challenge already exists for session token")
)

// ChallengeRepository persists OTP challenges. All mutations after creation
// go through lightweight transactions guarded by the observed status and
// attempt count, so two concurrent verifiers can never both consume the
// same attempt.
type ChallengeRepository struct {
	client *ScyllaClient
}

func NewChallengeRepository(client *ScyllaClient) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

func (r *ChallengeRepository) CreateChallenge(ctx context.Context, ch *models.OTPChallenge) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.CreateChallenge.WithContext(ctx).Bind(
		ch.SessionToken, ch.Email, ch.OTPHash, ch.OTPSalt, ch.HashAlgorithm,
		string(ch.Status), ch.AttemptCount, ch.MaxAttempts, ch.ExpiresAt, ch.CreatedAt)

	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create challenge",
			zap.String("email", ch.Email),
			zap.Error(err))
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	if !applied {
		return ErrAlreadyExists
	}

	util.Info("Challenge created",
		zap.String("email", ch.Email),
		zap.Time("expires_at", ch.ExpiresAt))

	return nil
}

func (r *ChallengeRepository) GetChallenge(ctx context.Context, sessionToken string) (*models.OTPChallenge, error) {
	ch := &models.OTPChallenge{}
	var status string

	query := r.client.Prepared.GetChallenge.WithContext(ctx).Bind(sessionToken)

	err := r.client.ScanWithRetry(query,
		&ch.SessionToken, &ch.Email, &ch.OTPHash, &ch.OTPSalt, &ch.HashAlgorithm,
		&status, &ch.AttemptCount, &ch.MaxAttempts, &ch.ExpiresAt, &ch.CreatedAt)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get challenge", zap.Error(err))
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	ch.Status = models.ChallengeStatus(status)
	return ch, nil
}

// CompareAndUpdate transitions a PENDING challenge to newStatus with
// newAttempts, guarded by the attempt count the caller observed. Returns
// false when another writer won the race; the caller reloads and retries.
func (r *ChallengeRepository) CompareAndUpdate(ctx context.Context, sessionToken string, expectedAttempts int, newStatus models.ChallengeStatus, newAttempts int) (bool, error) {
	query := r.client.Prepared.UpdateChallenge.WithContext(ctx).Bind(
		string(newStatus), newAttempts, sessionToken,
		string(models.ChallengePending), expectedAttempts)

	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed conditional challenge update",
			zap.String("new_status", string(newStatus)),
			zap.Error(err))
		return false, fmt.Errorf("failed conditional challenge update: %w", err)
	}

	return applied, nil
}

// ResetSecret overwrites the stored credential of a PENDING challenge and
// resets its attempts and expiry. Used by reissue; guarded like any other
// mutation.
func (r *ChallengeRepository) ResetSecret(ctx context.Context, sessionToken, otpHash, otpSalt, algorithm string, expiresAt time.Time, expectedAttempts int) (bool, error) {
	query := r.client.Prepared.ResetChallenge.WithContext(ctx).Bind(
		otpHash, otpSalt, algorithm, expiresAt, sessionToken,
		string(models.ChallengePending), expectedAttempts)

	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to reset challenge secret", zap.Error(err))
		return false, fmt.Errorf("failed to reset challenge secret: %w", err)
	}

	return applied, nil
}
