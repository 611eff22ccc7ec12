package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"verification-service/internal/fingerprint"
	"verification-service/internal/service"
	"verification-service/internal/util"
)

// OTPHandler handles HTTP requests for OTP issuance and verification.
type OTPHandler struct {
	issuer        *service.IssuerService
	verifier      *service.VerifierService
	devices       *service.DeviceService
	fingerprinter *fingerprint.Fingerprinter
	logger        *zap.Logger
}

func NewOTPHandler(
	issuer *service.IssuerService,
	verifier *service.VerifierService,
	devices *service.DeviceService,
	fingerprinter *fingerprint.Fingerprinter,
	logger *zap.Logger,
) *OTPHandler {
	return &OTPHandler{
		issuer:        issuer,
		verifier:      verifier,
		devices:       devices,
		fingerprinter: fingerprinter,
		logger:        logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(code string, err error, message string) Response {
	return Response{
		Success: false,
		Code:    code,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all OTP routes.
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/issue", h.Issue)
		r.Post("/reissue", h.Reissue)
		r.Post("/verify", h.Verify)
	})
}

type issueRequest struct {
	Email string `json:"email"`
}

type issueResponse struct {
	SessionToken string `json:"session_token"`
}

// Issue creates a new OTP challenge for an email address and queues the
// code for delivery. The code itself never appears in the response.
func (h *OTPHandler) Issue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", err, "Invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", err, "Invalid email address")
		return
	}

	fp := h.fingerprinter.FromRequest(r)

	sessionToken, err := h.issuer.Issue(ctx, req.Email, fp)
	if err != nil {
		code, statusCode := h.classify(err)
		h.respondWithError(w, statusCode, code, err, "Failed to issue verification code")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(issueResponse{SessionToken: sessionToken}, "Verification code sent"))
	h.logger.Info("OTP issued via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Issue"),
	)
}

type reissueRequest struct {
	SessionToken string `json:"session_token"`
}

// Reissue regenerates the code for an outstanding challenge.
func (h *OTPHandler) Reissue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req reissueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", err, "Invalid request body")
		return
	}
	if req.SessionToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", errors.New("session_token is required"), "Session token is required")
		return
	}

	if err := h.issuer.Reissue(ctx, req.SessionToken); err != nil {
		code, statusCode := h.classify(err)
		h.respondWithError(w, statusCode, code, err, "Failed to reissue verification code")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Verification code resent"))
	h.logger.Info("OTP reissued via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Reissue"),
	)
}

type verifyRequest struct {
	SessionToken string `json:"session_token"`
	OTP          string `json:"otp"`
}

type verifyResponse struct {
	Verified  bool `json:"verified"`
	NewDevice bool `json:"new_device"`
}

// Verify checks a candidate code against its challenge. On success the
// requesting device is recorded against the challenge's verified address
// and first sightings raise an alert.
func (h *OTPHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", err, "Invalid request body")
		return
	}
	if req.SessionToken == "" || req.OTP == "" {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", errors.New("session_token and otp are required"), "Session token and OTP are required")
		return
	}

	fp := h.fingerprinter.FromRequest(r)

	email, err := h.verifier.Verify(ctx, req.SessionToken, req.OTP, fp)
	if err != nil {
		code, statusCode := h.classify(err)
		h.respondWithError(w, statusCode, code, err, "Verification failed")
		return
	}

	// The device-trust principal is the email the challenge proved, never
	// anything the client sent.
	newDevice := false
	if seen, err := h.devices.ObserveLogin(ctx, email, email, fp); err != nil {
		// Device tracking is advisory; the verification stands.
		h.logger.Warn("Failed to record device", util.ErrorField(err))
	} else {
		newDevice = seen
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(verifyResponse{Verified: true, NewDevice: newDevice}, "Verification successful"))
	h.logger.Info("OTP verified via HTTP",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Verify"),
	)
}

// Helper Methods

func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *OTPHandler) respondWithError(w http.ResponseWriter, statusCode int, code string, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("code", code),
	)
	h.respondWithJSON(w, statusCode, errorResponse(code, err, message))
}

// classify maps service errors to a stable error code and HTTP status.
func (h *OTPHandler) classify(err error) (string, int) {
	switch {
	case errors.Is(err, service.ErrOTPInvalid):
		return "otp_invalid", http.StatusBadRequest
	case errors.Is(err, service.ErrOTPExpired):
		return "otp_expired", http.StatusGone
	case errors.Is(err, service.ErrOTPExhausted):
		return "otp_exhausted", http.StatusTooManyRequests
	case errors.Is(err, service.ErrOTPAlreadyFinalized):
		return "otp_already_finalized", http.StatusConflict
	case errors.Is(err, service.ErrChallengeNotFound):
		return "challenge_not_found", http.StatusNotFound
	case errors.Is(err, service.ErrIssueCooldown):
		return "issue_cooldown", http.StatusTooManyRequests
	case errors.Is(err, service.ErrContention):
		return "contention", http.StatusServiceUnavailable
	default:
		return "internal_error", http.StatusInternalServerError
	}
}
