package models

import "time"

const (
	AuditActionOTPIssued     = "otp_issued"
	AuditActionOTPReissued   = "otp_reissued"
	AuditActionOTPVerified   = "otp_verified"
	AuditActionOTPRejected   = "otp_rejected"
	AuditActionNewDevice     = "new_device_login"
	AuditActionDeliveryFail  = "delivery_failed"
	AuditPrincipalTypeOrg    = "organization"
	AuditPrincipalTypeSystem = "system"
)

// AuditEvent is append-only. Ordering is causally meaningful per principal
// only; events for different principals may interleave arbitrarily.
type AuditEvent struct {
	EventID       string            `json:"event_id" db:"event_id"`
	EventBucket   int               `json:"event_bucket" db:"event_bucket"`
	PrincipalID   string            `json:"principal_id" db:"principal_id"`
	PrincipalType string            `json:"principal_type" db:"principal_type"`
	Action        string            `json:"action" db:"action"`
	IPAddress     string            `json:"ip_address" db:"ip_address"`
	UserAgent     string            `json:"user_agent" db:"user_agent"`
	Success       bool              `json:"success" db:"success"`
	Timestamp     time.Time         `json:"timestamp" db:"event_time"`
	Metadata      map[string]string `json:"metadata,omitempty" db:"metadata"`
}
