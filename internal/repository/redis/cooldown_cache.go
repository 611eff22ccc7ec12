package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/util"
)

const cooldownPrefix = "otp_cooldown:"

// CooldownCache throttles OTP issuance per contact address.
type CooldownCache struct {
	client *client.RedisClient
}

func NewCooldownCache(client *client.RedisClient) *CooldownCache {
	return &CooldownCache{client: client}
}

// TryAcquire sets the cooldown key if absent. Returns false when a cooldown
// is already in force for the address.
func (c *CooldownCache) TryAcquire(ctx context.Context, email string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := c.client.SetNX(ctx, cooldownPrefix+email, time.Now().Unix(), ttl)
	if err != nil {
		util.Error("Failed to set issue cooldown", zap.Error(err))
		return false, fmt.Errorf("failed to set issue cooldown: %w", err)
	}
	return ok, nil
}

// Clear removes an address's cooldown. Used when issuance fails after the
// cooldown was taken, so the caller can retry immediately.
func (c *CooldownCache) Clear(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, cooldownPrefix+email); err != nil {
		return fmt.Errorf("failed to clear issue cooldown: %w", err)
	}
	return nil
}
