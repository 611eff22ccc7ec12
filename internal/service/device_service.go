package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

// DeviceService classifies a login's fingerprint as known or new for a
// principal and, on first sighting, emits the new-device alert and audit
// event. Descriptive fingerprint fields feed the alert body only; the
// device id hash is the sole trust input.
type DeviceService struct {
	devices  KnownDeviceStore
	producer DeliveryPublisher
	audit    AuditRecorder
	cfg      *config.Config
}

func NewDeviceService(devices KnownDeviceStore, producer DeliveryPublisher, audit AuditRecorder, cfg *config.Config) *DeviceService {
	return &DeviceService{
		devices:  devices,
		producer: producer,
		audit:    audit,
		cfg:      cfg,
	}
}

// ObserveLogin records the device and, when it is new for the principal,
// publishes a new-device alert. Recording doubles as the claim: the set add
// reports first sighting, so concurrent logins from the same device produce
// at most one alert.
func (s *DeviceService) ObserveLogin(ctx context.Context, principalID, email string, fp models.DeviceFingerprint) (bool, error) {
	firstSeen, err := s.devices.RecordDevice(ctx, principalID, fp.DeviceID)
	if err != nil {
		return false, fmt.Errorf("failed to record device: %w", err)
	}
	if !firstSeen {
		return false, nil
	}

	alert, err := models.NewDeviceAlertRequest(models.NewDeviceAlertData{
		Email:      email,
		DeviceType: fp.DeviceType,
		Browser:    fp.Browser,
		OS:         fp.OS,
		IPAddress:  fp.IPAddress,
		Location:   fp.Location,
		LoginTime:  time.Now().UTC().Format(time.RFC1123),
	})
	if err != nil {
		return true, err
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.OTP.PublishTimeout)
	defer cancel()
	if err := s.producer.PublishDeliveryRequest(pubCtx, email, alert); err != nil {
		// The alert is advisory; the login itself already succeeded.
		util.Warn("Failed to publish new-device alert",
			zap.String("principal_id", principalID),
			zap.Error(err))
	}

	s.audit.Record(models.AuditEvent{
		PrincipalID:   principalID,
		PrincipalType: models.AuditPrincipalTypeOrg,
		Action:        models.AuditActionNewDevice,
		IPAddress:     fp.IPAddress,
		UserAgent:     fp.UserAgent,
		Success:       true,
		Metadata: map[string]string{
			"newDevice": "true",
			"deviceId":  fp.DeviceID,
			"location":  fp.Location,
		},
	})

	util.Info("New device observed",
		zap.String("principal_id", principalID),
		zap.String("device_type", fp.DeviceType))

	return true, nil
}

// IsKnownDevice reports membership without recording.
func (s *DeviceService) IsKnownDevice(ctx context.Context, principalID, deviceID string) (bool, error) {
	return s.devices.IsKnownDevice(ctx, principalID, deviceID)
}
