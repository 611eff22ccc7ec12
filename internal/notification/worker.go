package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/mailer"
	"verification-service/internal/metrics"
	"verification-service/internal/models"
	"verification-service/internal/util"
)

// Worker turns delivery requests from the OTP topic into outbound email.
// Handle is safe to call for redelivered messages: sending the same OTP
// email twice is harmless, so no dedup state is kept.
type Worker struct {
	mailer mailer.Mailer
	cfg    *config.Config
}

func NewWorker(m mailer.Mailer, cfg *config.Config) *Worker {
	return &Worker{mailer: m, cfg: cfg}
}

// Handle implements messaging.Handler. Malformed payloads are acked after
// logging; they would fail identically on every redelivery.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	var req models.DeliveryRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		util.Error("Discarding malformed delivery request",
			zap.String("key", string(msg.Key)),
			zap.Error(err))
		return nil
	}

	switch {
	case req.Action == models.ActionAuthOTP && req.Type == models.TypeEmailOTP:
		return w.sendOTPEmail(ctx, &req)
	case req.Action == models.ActionSecurityAlert && req.Type == models.TypeNewDeviceLogin:
		return w.sendNewDeviceAlert(ctx, &req)
	default:
		util.Error("Discarding delivery request with unknown tags",
			zap.String("action", string(req.Action)),
			zap.String("type", string(req.Type)))
		return nil
	}
}

func (w *Worker) sendOTPEmail(ctx context.Context, req *models.DeliveryRequest) error {
	payload, err := req.OTPEmail()
	if err != nil {
		if errors.Is(err, models.ErrUnknownNotification) {
			return err
		}
		util.Error("Discarding invalid otp payload", zap.Error(err))
		return nil
	}

	ttlMinutes := int(w.cfg.OTP.TTL.Minutes())
	body, err := renderOTPEmail(payload.OTP, ttlMinutes)
	if err != nil {
		return err
	}

	msg := mailer.Message{
		To:       payload.Email,
		Subject:  "Your verification code",
		TextBody: body,
		Tag:      string(models.TypeEmailOTP),
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		metrics.EmailsDispatched.WithLabelValues(string(models.TypeEmailOTP), "error").Inc()
		return fmt.Errorf("failed to send otp email: %w", err)
	}

	metrics.EmailsDispatched.WithLabelValues(string(models.TypeEmailOTP), "success").Inc()
	util.Info("OTP email dispatched", zap.String("email", payload.Email))
	return nil
}

func (w *Worker) sendNewDeviceAlert(ctx context.Context, req *models.DeliveryRequest) error {
	payload, err := req.NewDeviceAlert()
	if err != nil {
		if errors.Is(err, models.ErrUnknownNotification) {
			return err
		}
		util.Error("Discarding invalid device alert payload", zap.Error(err))
		return nil
	}

	body, err := renderNewDeviceAlert(payload, w.cfg.Mail.LoginURL)
	if err != nil {
		return err
	}

	msg := mailer.Message{
		To:       payload.Email,
		Subject:  "New device sign-in to your account",
		TextBody: body,
		Tag:      string(models.TypeNewDeviceLogin),
	}
	if err := w.mailer.Send(ctx, msg); err != nil {
		metrics.EmailsDispatched.WithLabelValues(string(models.TypeNewDeviceLogin), "error").Inc()
		return fmt.Errorf("failed to send device alert email: %w", err)
	}

	metrics.EmailsDispatched.WithLabelValues(string(models.TypeNewDeviceLogin), "success").Inc()
	util.Info("New device alert dispatched", zap.String("email", payload.Email))
	return nil
}
