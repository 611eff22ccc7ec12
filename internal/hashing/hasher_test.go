package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	}
}

func TestNewHasher_MissingSecret(t *testing.T) {
	_, err := NewHasher(testConfig(), "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestHashOTP_RoundTrip(t *testing.T) {
	h, err := NewHasher(testConfig(), "test-secret")
	require.NoError(t, err)

	result, err := h.HashOTP("123456", "session-a")
	require.NoError(t, err)
	assert.Equal(t, "hmac-sha256+argon2id-v1", result.Algorithm)
	assert.NotEmpty(t, result.Hash)
	assert.NotEmpty(t, result.Salt)

	match, err := h.VerifyOTP("123456", "session-a", result)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestVerifyOTP_Mismatch(t *testing.T) {
	h, err := NewHasher(testConfig(), "test-secret")
	require.NoError(t, err)

	result, err := h.HashOTP("123456", "session-a")
	require.NoError(t, err)

	tests := []struct {
		name    string
		otp     string
		session string
	}{
		{name: "wrong otp", otp: "654321", session: "session-a"},
		{name: "wrong session token", otp: "123456", session: "session-b"},
		{name: "both wrong", otp: "000000", session: "session-c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := h.VerifyOTP(tt.otp, tt.session, result)
			require.NoError(t, err)
			assert.False(t, match)
		})
	}
}

func TestVerifyOTP_DifferentSecrets(t *testing.T) {
	h1, err := NewHasher(testConfig(), "secret-one")
	require.NoError(t, err)
	h2, err := NewHasher(testConfig(), "secret-two")
	require.NoError(t, err)

	result, err := h1.HashOTP("123456", "session-a")
	require.NoError(t, err)

	match, err := h2.VerifyOTP("123456", "session-a", result)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestVerifyOTP_InvalidStoredFormat(t *testing.T) {
	h, err := NewHasher(testConfig(), "test-secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		stored *HashResult
	}{
		{name: "nil stored", stored: nil},
		{name: "unknown algorithm", stored: &HashResult{Hash: "aGFzaA", Salt: "c2FsdA", Algorithm: "md5"}},
		{name: "bad salt encoding", stored: &HashResult{Hash: "aGFzaA", Salt: "!!!", Algorithm: "hmac-sha256+argon2id-v1"}},
		{name: "bad hash encoding", stored: &HashResult{Hash: "!!!", Salt: "c2FsdA", Algorithm: "hmac-sha256+argon2id-v1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.VerifyOTP("123456", "session-a", tt.stored)
			assert.ErrorIs(t, err, ErrInvalidHash)
		})
	}
}

func TestHashOTP_UniqueSalts(t *testing.T) {
	h, err := NewHasher(testConfig(), "test-secret")
	require.NoError(t, err)

	first, err := h.HashOTP("123456", "session-a")
	require.NoError(t, err)
	second, err := h.HashOTP("123456", "session-a")
	require.NoError(t, err)

	assert.NotEqual(t, first.Salt, second.Salt)
	assert.NotEqual(t, first.Hash, second.Hash)
}
