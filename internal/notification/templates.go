package notification

import (
	"bytes"
	"fmt"
	"text/template"

	"verification-service/internal/models"
)

var otpEmailTmpl = template.Must(template.New("otpEmail").Parse(`Hello,

Your verification code is {{.OTP}}.

The code expires in {{.TTLMinutes}} minutes. If you did not request it,
you can ignore this email.
`))

var newDeviceTmpl = template.Must(template.New("newDeviceAlert").Parse(`Hello,

We noticed a sign-in to your account from a new device.

  Device:   {{.DeviceType}}
  Browser:  {{.Browser}}
  OS:       {{.OS}}
  IP:       {{.IPAddress}}
  Location: {{.Location}}
  Time:     {{.LoginTime}}

If this was you, no action is needed.{{if .LoginURL}} If not, secure your
account now: {{.LoginURL}}{{end}}
`))

type otpEmailView struct {
	OTP        string
	TTLMinutes int
}

type newDeviceView struct {
	models.NewDeviceAlertData
	LoginURL string
}

func renderOTPEmail(otp string, ttlMinutes int) (string, error) {
	var buf bytes.Buffer
	if err := otpEmailTmpl.Execute(&buf, otpEmailView{OTP: otp, TTLMinutes: ttlMinutes}); err != nil {
		return "", fmt.Errorf("failed to render otp email: %w", err)
	}
	return buf.String(), nil
}

func renderNewDeviceAlert(alert models.NewDeviceAlertData, loginURL string) (string, error) {
	var buf bytes.Buffer
	view := newDeviceView{NewDeviceAlertData: alert, LoginURL: loginURL}
	if err := newDeviceTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render device alert email: %w", err)
	}
	return buf.String(), nil
}
