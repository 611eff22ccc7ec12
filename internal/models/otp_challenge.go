package models

import "time"

type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "PENDING"
	ChallengeVerified  ChallengeStatus = "VERIFIED"
	ChallengeExpired   ChallengeStatus = "EXPIRED"
	ChallengeExhausted ChallengeStatus = "EXHAUSTED"
)

// OTPChallenge is one outstanding verification challenge, keyed by its
// session token. Terminal rows (VERIFIED/EXPIRED/EXHAUSTED) are immutable;
// a fresh challenge needs a fresh token.
type OTPChallenge struct {
	SessionToken  string          `db:"session_token"`
	Email         string          `db:"email"`
	OTPHash       string          `db:"otp_hash"`
	OTPSalt       string          `db:"otp_salt"`
	HashAlgorithm string          `db:"hash_algorithm"`
	Status        ChallengeStatus `db:"status"`
	AttemptCount  int             `db:"attempt_count"`
	MaxAttempts   int             `db:"max_attempts"`
	ExpiresAt     time.Time       `db:"expires_at"`
	CreatedAt     time.Time       `db:"created_at"`
}

func (c *OTPChallenge) Terminal() bool {
	return c.Status != ChallengePending
}

func (c *OTPChallenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
