package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OTPIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_issued_total",
		Help: "OTP challenges issued.",
	})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verifications_total",
		Help: "OTP verification attempts by outcome.",
	}, []string{"outcome"})

	EmailsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emails_dispatched_total",
		Help: "Email dispatch attempts by notification type and result.",
	}, []string{"type", "result"})

	MessagesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_dead_lettered_total",
		Help: "Messages routed to the dead-letter topic after exhausting retries.",
	}, []string{"topic"})

	AuditEventsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_events_written_total",
		Help: "Audit events persisted to the durable sink.",
	})

	AuditPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_publish_failures_total",
		Help: "Audit events that could not be published after retries.",
	})
)

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
