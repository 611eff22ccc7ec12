package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"verification-service/internal/config"
)

const algorithmID = "hmac-sha256+argon2id-v1"

var (
	ErrMissingSecret = errors.New("otp secret key material is missing")
	ErrInvalidHash   = errors.New("invalid hash format")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives storage-safe credentials from OTPs. A keyed HMAC digest
// binds the OTP to its session token so a leaked digest from one session
// cannot validate another; the digest is then passed through argon2id
// before storage. The OTP space is only 10^6, so the slow step is
// load-bearing against offline brute force.
type Hasher struct {
	secret []byte
	params Argon2Params
}

type HashResult struct {
	Hash      string `json:"hash"`
	Salt      string `json:"salt"`
	Algorithm string `json:"algorithm"`
}

// NewHasher builds a hasher from the resolved OTP secret. The secret must be
// identical across the issuing and verifying processes.
func NewHasher(cfg *config.Config, secret string) (*Hasher, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	return &Hasher{
		secret: []byte(secret),
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
	}, nil
}

// derive computes the fast keyed digest binding otp and sessionToken.
func (h *Hasher) derive(otp, sessionToken string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(sessionToken + ":" + otp))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashOTP returns the stored credential for an OTP bound to its session token.
func (h *Hasher) HashOTP(otp, sessionToken string) (*HashResult, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	digest := h.derive(otp, sessionToken)
	key := argon2.IDKey(
		[]byte(digest),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:      base64.RawURLEncoding.EncodeToString(key),
		Salt:      base64.RawURLEncoding.EncodeToString(salt),
		Algorithm: algorithmID,
	}, nil
}

// VerifyOTP recomputes the credential for a candidate OTP and compares it in
// constant time. A mismatch is a boolean result, never an error.
func (h *Hasher) VerifyOTP(otp, sessionToken string, stored *HashResult) (bool, error) {
	if stored == nil || stored.Algorithm != algorithmID {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	digest := h.derive(otp, sessionToken)
	computed := argon2.IDKey(
		[]byte(digest),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
