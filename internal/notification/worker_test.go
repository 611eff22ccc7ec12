package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
	"verification-service/internal/mailer"
	"verification-service/internal/models"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func workerTestConfig() *config.Config {
	return &config.Config{
		OTP:  config.OTPConfig{TTL: 10 * time.Minute},
		Mail: config.MailConfig{LoginURL: "https://app.example.com/login"},
	}
}

func message(t *testing.T, req models.DeliveryRequest) kafka.Message {
	t.Helper()
	value, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Topic: "otp-messages", Key: []byte("user@example.com"), Value: value}
}

func TestHandle_OTPEmail(t *testing.T) {
	m := &fakeMailer{}
	w := NewWorker(m, workerTestConfig())

	req, err := models.NewOTPEmailRequest("user@example.com", "123456")
	require.NoError(t, err)

	require.NoError(t, w.Handle(context.Background(), message(t, req)))

	require.Len(t, m.sent, 1)
	sent := m.sent[0]
	assert.Equal(t, "user@example.com", sent.To)
	assert.Equal(t, "Your verification code", sent.Subject)
	assert.Contains(t, sent.TextBody, "123456")
	assert.Contains(t, sent.TextBody, "10 minutes")
	assert.Equal(t, "email-otp", sent.Tag)
}

func TestHandle_NewDeviceAlert(t *testing.T) {
	m := &fakeMailer{}
	w := NewWorker(m, workerTestConfig())

	req, err := models.NewDeviceAlertRequest(models.NewDeviceAlertData{
		Email:      "user@example.com",
		DeviceType: "mobile",
		Browser:    "Safari 17",
		OS:         "iOS 17",
		IPAddress:  "203.0.113.9",
		Location:   "Unknown",
		LoginTime:  "Mon, 01 Sep 2025 10:00:00 UTC",
	})
	require.NoError(t, err)

	require.NoError(t, w.Handle(context.Background(), message(t, req)))

	require.Len(t, m.sent, 1)
	sent := m.sent[0]
	assert.Equal(t, "New device sign-in to your account", sent.Subject)
	assert.Contains(t, sent.TextBody, "Safari 17")
	assert.Contains(t, sent.TextBody, "203.0.113.9")
	assert.Contains(t, sent.TextBody, "https://app.example.com/login")
	assert.Equal(t, "new-device-login", sent.Tag)
}

// Redelivery of the same message must dispatch again without error; the
// worker keeps no state, so dedup is the recipient's mailbox's problem.
func TestHandle_RedeliveryDispatchesAgain(t *testing.T) {
	m := &fakeMailer{}
	w := NewWorker(m, workerTestConfig())

	req, err := models.NewOTPEmailRequest("user@example.com", "123456")
	require.NoError(t, err)
	msg := message(t, req)

	require.NoError(t, w.Handle(context.Background(), msg))
	require.NoError(t, w.Handle(context.Background(), msg))

	require.Len(t, m.sent, 2)
	assert.Equal(t, m.sent[0], m.sent[1])
}

func TestHandle_MailerFailureIsRetriable(t *testing.T) {
	m := &fakeMailer{err: errors.New("postmark 500")}
	w := NewWorker(m, workerTestConfig())

	req, err := models.NewOTPEmailRequest("user@example.com", "123456")
	require.NoError(t, err)

	err = w.Handle(context.Background(), message(t, req))
	assert.Error(t, err)
}

func TestHandle_MalformedMessageIsAcked(t *testing.T) {
	m := &fakeMailer{}
	w := NewWorker(m, workerTestConfig())

	msg := kafka.Message{Topic: "otp-messages", Value: []byte("not json at all")}
	assert.NoError(t, w.Handle(context.Background(), msg))
	assert.Empty(t, m.sent)
}

func TestHandle_UnknownTagsAreAcked(t *testing.T) {
	m := &fakeMailer{}
	w := NewWorker(m, workerTestConfig())

	value, err := json.Marshal(models.DeliveryRequest{
		Action: "sms-otp",
		Type:   "text-message",
		Data:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	msg := kafka.Message{Topic: "otp-messages", Value: value}
	assert.NoError(t, w.Handle(context.Background(), msg))
	assert.Empty(t, m.sent)
}

func TestHandle_IncompleteOTPPayloadIsAcked(t *testing.T) {
	m := &fakeMailer{}
	w := NewWorker(m, workerTestConfig())

	value, err := json.Marshal(models.DeliveryRequest{
		Action: models.ActionAuthOTP,
		Type:   models.TypeEmailOTP,
		Data:   json.RawMessage(`{"email":""}`),
	})
	require.NoError(t, err)

	msg := kafka.Message{Topic: "otp-messages", Value: value}
	assert.NoError(t, w.Handle(context.Background(), msg))
	assert.Empty(t, m.sent)
}
