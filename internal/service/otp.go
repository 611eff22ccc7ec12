package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

var otpRange = big.NewInt(900000)

// GenerateOTP returns a uniformly random 6-digit code from a
// cryptographically secure source.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// GenerateSessionToken returns an opaque token correlating issuance and
// verification of one challenge.
func GenerateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
