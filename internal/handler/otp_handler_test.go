package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
	"verification-service/internal/fingerprint"
	"verification-service/internal/hashing"
	"verification-service/internal/models"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/service"
	"verification-service/internal/util"
)

type memChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.OTPChallenge
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{challenges: make(map[string]*models.OTPChallenge)}
}

func (s *memChallengeStore) CreateChallenge(_ context.Context, ch *models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[ch.SessionToken]; ok {
		return scylla.ErrAlreadyExists
	}
	cp := *ch
	s.challenges[ch.SessionToken] = &cp
	return nil
}

func (s *memChallengeStore) GetChallenge(_ context.Context, sessionToken string) (*models.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[sessionToken]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *memChallengeStore) CompareAndUpdate(_ context.Context, sessionToken string, expectedAttempts int, newStatus models.ChallengeStatus, newAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[sessionToken]
	if !ok || ch.Status != models.ChallengePending || ch.AttemptCount != expectedAttempts {
		return false, nil
	}
	ch.Status = newStatus
	ch.AttemptCount = newAttempts
	return true, nil
}

func (s *memChallengeStore) ResetSecret(_ context.Context, sessionToken, otpHash, otpSalt, algorithm string, expiresAt time.Time, expectedAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[sessionToken]
	if !ok || ch.Status != models.ChallengePending || ch.AttemptCount != expectedAttempts {
		return false, nil
	}
	ch.OTPHash = otpHash
	ch.OTPSalt = otpSalt
	ch.HashAlgorithm = algorithm
	ch.ExpiresAt = expiresAt
	ch.AttemptCount = 0
	return true, nil
}

type memCooldown struct {
	mu   sync.Mutex
	held map[string]bool
}

func (c *memCooldown) TryAcquire(_ context.Context, email string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		c.held = make(map[string]bool)
	}
	if c.held[email] {
		return false, nil
	}
	c.held[email] = true
	return true, nil
}

func (c *memCooldown) Clear(_ context.Context, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, email)
	return nil
}

type memDevices struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDevices) IsKnownDevice(_ context.Context, principalID, deviceID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[principalID+"/"+deviceID], nil
}

func (d *memDevices) RecordDevice(_ context.Context, principalID, deviceID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := principalID + "/" + deviceID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type capturePublisher struct {
	mu       sync.Mutex
	requests []models.DeliveryRequest
}

func (p *capturePublisher) PublishDeliveryRequest(_ context.Context, key string, req models.DeliveryRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return nil
}

func (p *capturePublisher) deviceAlerts() []models.NewDeviceAlertData {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.NewDeviceAlertData
	for _, req := range p.requests {
		if payload, err := req.NewDeviceAlert(); err == nil {
			out = append(out, payload)
		}
	}
	return out
}

func (p *capturePublisher) lastOTP() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.requests) - 1; i >= 0; i-- {
		if payload, err := p.requests[i].OTPEmail(); err == nil {
			return payload.OTP
		}
	}
	return ""
}

type noopAudit struct{}

func (noopAudit) Record(models.AuditEvent) {}

type testServer struct {
	handler   http.Handler
	publisher *capturePublisher
	store     *memChallengeStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		OTP: config.OTPConfig{
			TTL:            10 * time.Minute,
			MaxAttempts:    3,
			IssueCooldown:  time.Minute,
			StoreTimeout:   time.Second,
			PublishTimeout: time.Second,
		},
	}

	hasher, err := hashing.NewHasher(cfg, "test-secret")
	require.NoError(t, err)

	store := newMemChallengeStore()
	publisher := &capturePublisher{}
	audit := noopAudit{}

	issuer := service.NewIssuerService(store, &memCooldown{}, hasher, publisher, audit, cfg)
	verifier := service.NewVerifierService(store, hasher, audit, cfg)
	devices := service.NewDeviceService(&memDevices{}, publisher, audit, cfg)

	otpHandler := NewOTPHandler(issuer, verifier, devices, fingerprint.New(nil), util.Get())
	deps := map[string]HealthChecker{
		"backends": HealthFunc(func(context.Context) error { return nil }),
	}

	return &testServer{
		handler:   NewRouter(otpHandler, util.Get(), deps),
		publisher: publisher,
		store:     store,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:130.0) Gecko/20100101 Firefox/130.0")
	req.RemoteAddr = "203.0.113.9:51234"

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func issueToken(t *testing.T, ts *testServer) string {
	t.Helper()

	w := ts.do(t, http.MethodPost, "/api/v1/otp/issue", map[string]string{"email": "user@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	token, _ := data["session_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestIssueEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/issue", map[string]string{"email": "user@example.com"})
	assert.Equal(t, http.StatusCreated, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, ts.publisher.lastOTP())
}

func TestIssueEndpoint_InvalidEmail(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/issue", map[string]string{"email": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeResponse(t, w).Code)
}

func TestIssueEndpoint_Cooldown(t *testing.T) {
	ts := newTestServer(t)

	issueToken(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/issue", map[string]string{"email": "user@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "issue_cooldown", decodeResponse(t, w).Code)
}

func TestVerifyEndpoint_Success(t *testing.T) {
	ts := newTestServer(t)

	token := issueToken(t, ts)
	otp := ts.publisher.lastOTP()
	require.NotEmpty(t, otp)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{
		"session_token": token,
		"otp":           otp,
	})
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["verified"])
	assert.Equal(t, true, data["new_device"])
}

// The device-trust principal comes from the verified challenge; an email
// field in the request body must not redirect the alert or plant the device
// in someone else's known set.
func TestVerifyEndpoint_IgnoresClientSuppliedEmail(t *testing.T) {
	ts := newTestServer(t)

	token := issueToken(t, ts)
	otp := ts.publisher.lastOTP()
	require.NotEmpty(t, otp)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{
		"session_token": token,
		"otp":           otp,
		"email":         "victim@example.com",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	alerts := ts.publisher.deviceAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "user@example.com", alerts[0].Email)
}

func TestVerifyEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		prepare    func(t *testing.T, ts *testServer) (token, otp string)
		wantStatus int
		wantCode   string
	}{
		{
			name: "wrong otp",
			prepare: func(t *testing.T, ts *testServer) (string, string) {
				return issueToken(t, ts), "000000"
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "otp_invalid",
		},
		{
			name: "unknown token",
			prepare: func(t *testing.T, ts *testServer) (string, string) {
				return "deadbeef", "123456"
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "challenge_not_found",
		},
		{
			name: "expired challenge",
			prepare: func(t *testing.T, ts *testServer) (string, string) {
				token := issueToken(t, ts)
				ts.store.mu.Lock()
				ts.store.challenges[token].ExpiresAt = time.Now().Add(-time.Minute)
				ts.store.mu.Unlock()
				return token, ts.publisher.lastOTP()
			},
			wantStatus: http.StatusGone,
			wantCode:   "otp_expired",
		},
		{
			name: "exhausted challenge",
			prepare: func(t *testing.T, ts *testServer) (string, string) {
				token := issueToken(t, ts)
				for i := 0; i < 3; i++ {
					ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{
						"session_token": token,
						"otp":           "000000",
					})
				}
				return token, ts.publisher.lastOTP()
			},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "otp_exhausted",
		},
		{
			name: "already finalized",
			prepare: func(t *testing.T, ts *testServer) (string, string) {
				token := issueToken(t, ts)
				otp := ts.publisher.lastOTP()
				w := ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{
					"session_token": token,
					"otp":           otp,
				})
				require.Equal(t, http.StatusOK, w.Code)
				return token, otp
			},
			wantStatus: http.StatusConflict,
			wantCode:   "otp_already_finalized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			token, otp := tt.prepare(t, ts)

			w := ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{
				"session_token": token,
				"otp":           otp,
			})
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeResponse(t, w).Code)
		})
	}
}

func TestVerifyEndpoint_MissingFields(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{"otp": "123456"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeResponse(t, w).Code)
}

func TestReissueEndpoint(t *testing.T) {
	ts := newTestServer(t)

	token := issueToken(t, ts)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/reissue", map[string]string{"session_token": token})
	assert.Equal(t, http.StatusOK, w.Code)

	secondOTP := ts.publisher.lastOTP()
	require.NotEmpty(t, secondOTP)

	// The reissued code replaces the original.
	wv := ts.do(t, http.MethodPost, "/api/v1/otp/verify", map[string]string{
		"session_token": token,
		"otp":           secondOTP,
	})
	assert.Equal(t, http.StatusOK, wv.Code)
}

func TestReissueEndpoint_UnknownToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/otp/reissue", map[string]string{"session_token": "deadbeef"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "challenge_not_found", decodeResponse(t, w).Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
