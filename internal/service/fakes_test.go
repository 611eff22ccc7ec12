package service

import (
	"context"
	"sync"
	"time"

	"verification-service/internal/config"
	"verification-service/internal/models"
	"verification-service/internal/repository/scylla"
)

// fakeChallengeStore mirrors the conditional-update semantics of the real
// store: mutations apply only when the record is PENDING and the attempt
// count matches what the caller observed.
type fakeChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.OTPChallenge

	createErr error
	getErr    error
	updateErr error
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{challenges: make(map[string]*models.OTPChallenge)}
}

func (s *fakeChallengeStore) CreateChallenge(_ context.Context, ch *models.OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.challenges[ch.SessionToken]; ok {
		return scylla.ErrAlreadyExists
	}
	cp := *ch
	s.challenges[ch.SessionToken] = &cp
	return nil
}

func (s *fakeChallengeStore) GetChallenge(_ context.Context, sessionToken string) (*models.OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	ch, ok := s.challenges[sessionToken]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *fakeChallengeStore) CompareAndUpdate(_ context.Context, sessionToken string, expectedAttempts int, newStatus models.ChallengeStatus, newAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return false, s.updateErr
	}
	ch, ok := s.challenges[sessionToken]
	if !ok {
		return false, nil
	}
	if ch.Status != models.ChallengePending || ch.AttemptCount != expectedAttempts {
		return false, nil
	}
	ch.Status = newStatus
	ch.AttemptCount = newAttempts
	return true, nil
}

func (s *fakeChallengeStore) ResetSecret(_ context.Context, sessionToken, otpHash, otpSalt, algorithm string, expiresAt time.Time, expectedAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[sessionToken]
	if !ok {
		return false, nil
	}
	if ch.Status != models.ChallengePending || ch.AttemptCount != expectedAttempts {
		return false, nil
	}
	ch.OTPHash = otpHash
	ch.OTPSalt = otpSalt
	ch.HashAlgorithm = algorithm
	ch.ExpiresAt = expiresAt
	ch.AttemptCount = 0
	return true, nil
}

func (s *fakeChallengeStore) get(sessionToken string) *models.OTPChallenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.challenges[sessionToken]
	if ch == nil {
		return nil
	}
	cp := *ch
	return &cp
}

func (s *fakeChallengeStore) put(ch *models.OTPChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ch
	s.challenges[ch.SessionToken] = &cp
}

type fakeCooldownStore struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires int
	clears   int
	err      error
}

func newFakeCooldownStore() *fakeCooldownStore {
	return &fakeCooldownStore{held: make(map[string]bool)}
}

func (s *fakeCooldownStore) TryAcquire(_ context.Context, email string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.acquires++
	if s.held[email] {
		return false, nil
	}
	s.held[email] = true
	return true, nil
}

func (s *fakeCooldownStore) Clear(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	delete(s.held, email)
	return nil
}

type fakeDeviceStore struct {
	mu   sync.Mutex
	seen map[string]map[string]bool
	err  error
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{seen: make(map[string]map[string]bool)}
}

func (s *fakeDeviceStore) IsKnownDevice(_ context.Context, principalID, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.seen[principalID][deviceID], nil
}

func (s *fakeDeviceStore) RecordDevice(_ context.Context, principalID, deviceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.seen[principalID] == nil {
		s.seen[principalID] = make(map[string]bool)
	}
	if s.seen[principalID][deviceID] {
		return false, nil
	}
	s.seen[principalID][deviceID] = true
	return true, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	requests []models.DeliveryRequest
	keys     []string
	err      error
}

func (p *fakePublisher) PublishDeliveryRequest(_ context.Context, key string, req models.DeliveryRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.requests = append(p.requests, req)
	return nil
}

func (p *fakePublisher) published() []models.DeliveryRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DeliveryRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

type fakeAuditRecorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *fakeAuditRecorder) Record(event models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *fakeAuditRecorder) recorded() []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}

func serviceTestConfig() *config.Config {
	return &config.Config{
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
}
