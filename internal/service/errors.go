package service

import "errors"

// Verification outcomes are part of the API contract: the caller must be
// able to render "invalid code", "code expired", and "too many attempts"
// distinctly, so these are never collapsed into a generic failure.
var (
	ErrOTPInvalid          = errors.New("otp invalid")
	ErrOTPExpired          = errors.New("otp expired")
	ErrOTPExhausted        = errors.New("otp attempts exhausted")
	ErrOTPAlreadyFinalized = errors.New("otp challenge already finalized")
	ErrChallengeNotFound   = errors.New("otp challenge not found")
	ErrIssueCooldown       = errors.New("otp issue cooldown in force")

	// ErrContention surfaces when conditional updates keep losing races.
	// Transient; the caller may retry.
	ErrContention = errors.New("challenge update contention")
)
