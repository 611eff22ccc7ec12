package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/mileusna/useragent"

	"verification-service/internal/models"
)

// GeoResolver maps an IP to a human-readable location. Lookups are
// best-effort; failures must not block the auth flow.
type GeoResolver interface {
	Lookup(ip string) (string, error)
}

// NoopResolver always reports Unknown. Used when no geo database is wired.
type NoopResolver struct{}

func (NoopResolver) Lookup(string) (string, error) { return "Unknown", nil }

type Fingerprinter struct {
	geo GeoResolver
}

func New(geo GeoResolver) *Fingerprinter {
	if geo == nil {
		geo = NoopResolver{}
	}
	return &Fingerprinter{geo: geo}
}

// FromRequest derives a device fingerprint from request metadata alone.
// The device id hashes IP, user agent, and accept-language; everything else
// is descriptive and never a security decision input.
func (f *Fingerprinter) FromRequest(r *http.Request) models.DeviceFingerprint {
	ip := clientIP(r)
	ua := r.UserAgent()
	lang := r.Header.Get("Accept-Language")

	raw := ip + "-" + ua + "-" + lang
	sum := sha256.Sum256([]byte(raw))

	parsed := useragent.Parse(ua)

	location, err := f.geo.Lookup(ip)
	if err != nil || location == "" {
		location = "Unknown"
	}

	return models.DeviceFingerprint{
		DeviceID:   hex.EncodeToString(sum[:]),
		DeviceType: deviceType(parsed),
		Browser:    strings.TrimSpace(parsed.Name + " " + parsed.Version),
		OS:         strings.TrimSpace(parsed.OS + " " + parsed.OSVersion),
		IPAddress:  ip,
		Location:   location,
		UserAgent:  ua,
	}
}

func deviceType(ua useragent.UserAgent) string {
	switch {
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Bot:
		return "bot"
	default:
		return "desktop"
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-Ip"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
