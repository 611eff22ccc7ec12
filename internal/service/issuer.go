package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/util"
)

// IssuerService creates OTP challenges and hands delivery requests to the
// message channel. The challenge is durably persisted before anything is
// published: a crash between the two leaves a recoverable record, never a
// delivered-but-unverifiable OTP.
type IssuerService struct {
	store    ChallengeStore
	cooldown CooldownStore
	hasher   *hashing.Hasher
	producer DeliveryPublisher
	audit    AuditRecorder
	cfg      *config.Config
}

func NewIssuerService(
	store ChallengeStore,
	cooldown CooldownStore,
	hasher *hashing.Hasher,
	producer DeliveryPublisher,
	audit AuditRecorder,
	cfg *config.Config,
) *IssuerService {
	return &IssuerService{
		store:    store,
		cooldown: cooldown,
		hasher:   hasher,
		producer: producer,
		audit:    audit,
		cfg:      cfg,
	}
}

// Issue creates a fresh challenge for the address and publishes its
// delivery request. Returns the session token the caller must present at
// verification time.
func (s *IssuerService) Issue(ctx context.Context, email string, fp models.DeviceFingerprint) (string, error) {
	acquired, err := s.cooldown.TryAcquire(ctx, email, s.cfg.OTP.IssueCooldown)
	if err != nil {
		return "", fmt.Errorf("cooldown check failed: %w", err)
	}
	if !acquired {
		return "", ErrIssueCooldown
	}

	otp, err := GenerateOTP()
	if err != nil {
		s.releaseCooldown(email)
		return "", err
	}
	sessionToken, err := GenerateSessionToken()
	if err != nil {
		s.releaseCooldown(email)
		return "", err
	}

	credential, err := s.hasher.HashOTP(otp, sessionToken)
	if err != nil {
		s.releaseCooldown(email)
		return "", fmt.Errorf("failed to hash otp: %w", err)
	}

	now := time.Now().UTC()
	challenge := &models.OTPChallenge{
		SessionToken:  sessionToken,
		Email:         email,
		OTPHash:       credential.Hash,
		OTPSalt:       credential.Salt,
		HashAlgorithm: credential.Algorithm,
		Status:        models.ChallengePending,
		AttemptCount:  0,
		MaxAttempts:   s.cfg.OTP.MaxAttempts,
		ExpiresAt:     now.Add(s.cfg.OTP.TTL),
		CreatedAt:     now,
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.StoreTimeout)
	defer cancel()
	if err := s.store.CreateChallenge(storeCtx, challenge); err != nil {
		s.releaseCooldown(email)
		return "", fmt.Errorf("failed to persist challenge: %w", err)
	}

	if err := s.publishOTP(ctx, email, otp); err != nil {
		// The record stays PENDING and is retriable; the cooldown is
		// released so the caller can retry immediately.
		s.releaseCooldown(email)
		s.recordDeliveryFailure(email, fp, "issue")
		return "", err
	}

	metrics.OTPIssued.Inc()
	s.audit.Record(models.AuditEvent{
		PrincipalID:   email,
		PrincipalType: models.AuditPrincipalTypeOrg,
		Action:        models.AuditActionOTPIssued,
		IPAddress:     fp.IPAddress,
		UserAgent:     fp.UserAgent,
		Success:       true,
	})

	util.Info("OTP challenge issued",
		zap.String("email", email),
		zap.Time("expires_at", challenge.ExpiresAt))

	return sessionToken, nil
}

// Reissue regenerates the OTP for an outstanding challenge, resetting its
// attempts and expiry. Terminal challenges need a fresh Issue.
func (s *IssuerService) Reissue(ctx context.Context, sessionToken string) error {
	for i := 0; i < casRetries; i++ {
		challenge, err := s.getChallenge(ctx, sessionToken)
		if err != nil {
			return err
		}

		if challenge.Terminal() {
			_, err := finished(challenge.Status)
			return err
		}

		otp, err := GenerateOTP()
		if err != nil {
			return err
		}
		credential, err := s.hasher.HashOTP(otp, sessionToken)
		if err != nil {
			return fmt.Errorf("failed to hash otp: %w", err)
		}

		expiresAt := time.Now().UTC().Add(s.cfg.OTP.TTL)
		storeCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.StoreTimeout)
		applied, err := s.store.ResetSecret(storeCtx, sessionToken,
			credential.Hash, credential.Salt, credential.Algorithm,
			expiresAt, challenge.AttemptCount)
		cancel()
		if err != nil {
			return err
		}
		if !applied {
			continue
		}

		if err := s.publishOTP(ctx, challenge.Email, otp); err != nil {
			s.recordDeliveryFailure(challenge.Email, models.DeviceFingerprint{}, "reissue")
			return err
		}

		metrics.OTPIssued.Inc()
		s.audit.Record(models.AuditEvent{
			PrincipalID:   challenge.Email,
			PrincipalType: models.AuditPrincipalTypeOrg,
			Action:        models.AuditActionOTPReissued,
			Success:       true,
		})
		return nil
	}

	return ErrContention
}

func (s *IssuerService) publishOTP(ctx context.Context, email, otp string) error {
	req, err := models.NewOTPEmailRequest(email, otp)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.PublishTimeout)
	defer cancel()
	if err := s.producer.PublishDeliveryRequest(pubCtx, email, req); err != nil {
		return fmt.Errorf("failed to publish delivery request: %w", err)
	}
	return nil
}

func (s *IssuerService) getChallenge(ctx context.Context, sessionToken string) (*models.OTPChallenge, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.StoreTimeout)
	defer cancel()

	challenge, err := s.store.GetChallenge(storeCtx, sessionToken)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	return challenge, nil
}

// recordDeliveryFailure leaves a system-attributed trace when a delivery
// request never reached the channel. The caller still surfaces the error.
func (s *IssuerService) recordDeliveryFailure(email string, fp models.DeviceFingerprint, stage string) {
	s.audit.Record(models.AuditEvent{
		PrincipalID:   email,
		PrincipalType: models.AuditPrincipalTypeSystem,
		Action:        models.AuditActionDeliveryFail,
		IPAddress:     fp.IPAddress,
		UserAgent:     fp.UserAgent,
		Success:       false,
		Metadata:      map[string]string{"stage": stage},
	})
}

func (s *IssuerService) releaseCooldown(email string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cooldown.Clear(ctx, email); err != nil {
		util.Warn("Failed to release issue cooldown",
			zap.String("email", email),
			zap.Error(err))
	}
}
