package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/util"
)

const knownDevicePrefix = "known_devices:"

// DeviceStore keeps the per-principal set of device ids already seen on a
// successful verification. Membership decides known vs. new device.
type DeviceStore struct {
	client *client.RedisClient
}

func NewDeviceStore(client *client.RedisClient) *DeviceStore {
	return &DeviceStore{client: client}
}

func (s *DeviceStore) KnownDeviceIDs(ctx context.Context, principalID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ids, err := s.client.SMembers(ctx, knownDevicePrefix+principalID)
	if err != nil {
		util.Error("Failed to read known devices",
			zap.String("principal_id", principalID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read known devices: %w", err)
	}
	return ids, nil
}

func (s *DeviceStore) IsKnownDevice(ctx context.Context, principalID, deviceID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	known, err := s.client.SIsMember(ctx, knownDevicePrefix+principalID, deviceID)
	if err != nil {
		util.Error("Failed to check known device",
			zap.String("principal_id", principalID),
			zap.Error(err))
		return false, fmt.Errorf("failed to check known device: %w", err)
	}
	return known, nil
}

// RecordDevice adds the device to the principal's known set. The returned
// bool is true on first sighting, which makes the new-device alert fire
// exactly once even under concurrent logins.
func (s *DeviceStore) RecordDevice(ctx context.Context, principalID, deviceID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	added, err := s.client.SAdd(ctx, knownDevicePrefix+principalID, deviceID)
	if err != nil {
		util.Error("Failed to record device",
			zap.String("principal_id", principalID),
			zap.Error(err))
		return false, fmt.Errorf("failed to record device: %w", err)
	}

	util.Debug("Device recorded",
		zap.String("principal_id", principalID))
	return added > 0, nil
}
