package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"verification-service/internal/config"
	"verification-service/internal/util"
)

// KMSDecrypter is the subset of the KMS client used here.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// NewKMSClient builds a real KMS client for the configured region.
func NewKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// ResolveOTPSecret returns the plaintext OTP HMAC secret. When the secret is
// supplied KMS-encrypted it is decrypted once at startup; the ciphertext
// form is what lands in the environment, never the plaintext.
func ResolveOTPSecret(ctx context.Context, cfg *config.Config, decrypter KMSDecrypter) (string, error) {
	if cfg.Hashing.OTPSecretCiphertext == "" {
		if cfg.Hashing.OTPSecret == "" {
			return "", config.ErrMissingOTPSecret
		}
		return cfg.Hashing.OTPSecret, nil
	}

	blob, err := base64.StdEncoding.DecodeString(cfg.Hashing.OTPSecretCiphertext)
	if err != nil {
		return "", fmt.Errorf("OTP_SECRET_CIPHERTEXT is not valid base64: %w", err)
	}

	out, err := decrypter.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt OTP secret via KMS: %w", err)
	}

	util.Info("OTP secret decrypted via KMS",
		util.String("key_id", cfg.KMS.KeyID),
	)
	return string(out.Plaintext), nil
}
