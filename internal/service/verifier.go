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

// casRetries bounds how often a losing writer reloads and retries the
// conditional update before surfacing contention.
const casRetries = 5

// VerifierService drives the challenge state machine. Every transition is a
// conditional update guarded by the attempt count the verifier observed, so
// concurrent attempts against one token can never consume more than the
// configured number of attempts.
type VerifierService struct {
	store  ChallengeStore
	hasher *hashing.Hasher
	audit  AuditRecorder
	cfg    *config.Config
}

func NewVerifierService(store ChallengeStore, hasher *hashing.Hasher, audit AuditRecorder, cfg *config.Config) *VerifierService {
	return &VerifierService{
		store:  store,
		hasher: hasher,
		audit:  audit,
		cfg:    cfg,
	}
}

// Verify checks a candidate OTP against the challenge for sessionToken.
// On success it returns the challenge's email, which is the only trusted
// principal for anything that follows the verification. The error is nil or
// exactly one of ErrOTPInvalid, ErrOTPExpired, ErrOTPExhausted,
// ErrOTPAlreadyFinalized, ErrChallengeNotFound.
func (s *VerifierService) Verify(ctx context.Context, sessionToken, candidate string, fp models.DeviceFingerprint) (string, error) {
	outcome, email, err := s.verify(ctx, sessionToken, candidate, fp)
	metrics.OTPVerifications.WithLabelValues(outcome).Inc()
	return email, err
}

func (s *VerifierService) verify(ctx context.Context, sessionToken, candidate string, fp models.DeviceFingerprint) (string, string, error) {
	for i := 0; i < casRetries; i++ {
		challenge, err := s.getChallenge(ctx, sessionToken)
		if err != nil {
			if errors.Is(err, ErrChallengeNotFound) {
				return "not_found", "", err
			}
			return "error", "", err
		}

		// Terminal challenges are immutable; report how they ended.
		if challenge.Terminal() {
			outcome, err := finished(challenge.Status)
			return outcome, "", err
		}

		now := time.Now().UTC()

		// Expiry is evaluated lazily here; there is no background sweeper.
		if challenge.ExpiredAt(now) {
			applied, err := s.transition(ctx, sessionToken, challenge.AttemptCount, models.ChallengeExpired, challenge.AttemptCount)
			if err != nil {
				return "error", "", err
			}
			if !applied {
				continue
			}
			s.recordOutcome(challenge, fp, models.AuditActionOTPRejected, false, map[string]string{"reason": "expired"})
			return "expired", "", ErrOTPExpired
		}

		// Checked before consuming the current attempt.
		if challenge.AttemptCount >= challenge.MaxAttempts {
			applied, err := s.transition(ctx, sessionToken, challenge.AttemptCount, models.ChallengeExhausted, challenge.AttemptCount)
			if err != nil {
				return "error", "", err
			}
			if !applied {
				continue
			}
			s.recordOutcome(challenge, fp, models.AuditActionOTPRejected, false, map[string]string{"reason": "exhausted"})
			return "exhausted", "", ErrOTPExhausted
		}

		match, err := s.hasher.VerifyOTP(candidate, sessionToken, &hashing.HashResult{
			Hash:      challenge.OTPHash,
			Salt:      challenge.OTPSalt,
			Algorithm: challenge.HashAlgorithm,
		})
		if err != nil {
			return "error", "", fmt.Errorf("failed to verify otp hash: %w", err)
		}

		if match {
			applied, err := s.transition(ctx, sessionToken, challenge.AttemptCount, models.ChallengeVerified, challenge.AttemptCount)
			if err != nil {
				return "error", "", err
			}
			if !applied {
				continue
			}
			s.recordOutcome(challenge, fp, models.AuditActionOTPVerified, true, nil)
			util.Info("OTP verified", zap.String("email", challenge.Email))
			return "verified", challenge.Email, nil
		}

		newCount := challenge.AttemptCount + 1
		newStatus := models.ChallengePending
		if newCount >= challenge.MaxAttempts {
			newStatus = models.ChallengeExhausted
		}
		applied, err := s.transition(ctx, sessionToken, challenge.AttemptCount, newStatus, newCount)
		if err != nil {
			return "error", "", err
		}
		if !applied {
			continue
		}
		s.recordOutcome(challenge, fp, models.AuditActionOTPRejected, false, map[string]string{"reason": "mismatch"})
		return "invalid", "", ErrOTPInvalid
	}

	return "contention", "", ErrContention
}

// finished maps a terminal status to its verification outcome.
func finished(status models.ChallengeStatus) (string, error) {
	switch status {
	case models.ChallengeVerified:
		return "already_finalized", ErrOTPAlreadyFinalized
	case models.ChallengeExpired:
		return "expired", ErrOTPExpired
	default:
		return "exhausted", ErrOTPExhausted
	}
}

func (s *VerifierService) getChallenge(ctx context.Context, sessionToken string) (*models.OTPChallenge, error) {
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

func (s *VerifierService) transition(ctx context.Context, sessionToken string, expectedAttempts int, newStatus models.ChallengeStatus, newAttempts int) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.StoreTimeout)
	defer cancel()

	applied, err := s.store.CompareAndUpdate(storeCtx, sessionToken, expectedAttempts, newStatus, newAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to update challenge: %w", err)
	}
	return applied, nil
}

func (s *VerifierService) recordOutcome(challenge *models.OTPChallenge, fp models.DeviceFingerprint, action string, success bool, metadata map[string]string) {
	s.audit.Record(models.AuditEvent{
		PrincipalID:   challenge.Email,
		PrincipalType: models.AuditPrincipalTypeOrg,
		Action:        action,
		IPAddress:     fp.IPAddress,
		UserAgent:     fp.UserAgent,
		Success:       success,
		Metadata:      metadata,
	})
}
