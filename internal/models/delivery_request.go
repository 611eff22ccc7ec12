package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type NotificationAction string

const (
	ActionAuthOTP       NotificationAction = "auth-otp"
	ActionSecurityAlert NotificationAction = "security-alert"
)

type NotificationType string

const (
	TypeEmailOTP       NotificationType = "email-otp"
	TypeNewDeviceLogin NotificationType = "new-device-login"
)

type NotificationSubType string

const (
	SubTypeCreateAccount NotificationSubType = "create-account"
	SubTypeLogin         NotificationSubType = "login"
)

var ErrUnknownNotification = errors.New("unknown notification action/type")

// DeliveryRequest is the wire payload carried on the OTP topic. The
// action/type/subType tags discriminate the shape of Data; consumers decode
// Data into exactly one concrete payload per tag and reject anything else.
type DeliveryRequest struct {
	Action  NotificationAction  `json:"action"`
	Type    NotificationType    `json:"type"`
	SubType NotificationSubType `json:"subType,omitempty"`
	Data    json.RawMessage     `json:"data"`
}

// OTPEmailData carries the plaintext OTP in flight. It exists only inside the
// message and the dispatch call; it is never persisted by the consumer.
type OTPEmailData struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type NewDeviceAlertData struct {
	Email      string `json:"email"`
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	IPAddress  string `json:"ipAddress"`
	Location   string `json:"location"`
	LoginTime  string `json:"loginTime"`
}

func NewOTPEmailRequest(email, otp string) (DeliveryRequest, error) {
	data, err := json.Marshal(OTPEmailData{Email: email, OTP: otp})
	if err != nil {
		return DeliveryRequest{}, fmt.Errorf("failed to encode otp payload: %w", err)
	}
	return DeliveryRequest{
		Action:  ActionAuthOTP,
		Type:    TypeEmailOTP,
		SubType: SubTypeCreateAccount,
		Data:    data,
	}, nil
}

func NewDeviceAlertRequest(alert NewDeviceAlertData) (DeliveryRequest, error) {
	data, err := json.Marshal(alert)
	if err != nil {
		return DeliveryRequest{}, fmt.Errorf("failed to encode device alert payload: %w", err)
	}
	return DeliveryRequest{
		Action:  ActionSecurityAlert,
		Type:    TypeNewDeviceLogin,
		SubType: SubTypeLogin,
		Data:    data,
	}, nil
}

// OTPEmail decodes and validates the payload of an auth-otp request.
func (d *DeliveryRequest) OTPEmail() (OTPEmailData, error) {
	var payload OTPEmailData
	if d.Action != ActionAuthOTP || d.Type != TypeEmailOTP {
		return payload, ErrUnknownNotification
	}
	if err := json.Unmarshal(d.Data, &payload); err != nil {
		return payload, fmt.Errorf("malformed otp payload: %w", err)
	}
	if payload.Email == "" || payload.OTP == "" {
		return payload, errors.New("otp payload missing email or otp")
	}
	return payload, nil
}

// NewDeviceAlert decodes and validates the payload of a security-alert request.
func (d *DeliveryRequest) NewDeviceAlert() (NewDeviceAlertData, error) {
	var payload NewDeviceAlertData
	if d.Action != ActionSecurityAlert || d.Type != TypeNewDeviceLogin {
		return payload, ErrUnknownNotification
	}
	if err := json.Unmarshal(d.Data, &payload); err != nil {
		return payload, fmt.Errorf("malformed device alert payload: %w", err)
	}
	if payload.Email == "" {
		return payload, errors.New("device alert payload missing email")
	}
	return payload, nil
}
