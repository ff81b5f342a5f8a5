package sendgrid

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pure-golang/sendgrid/mail"
)

const (
	modeBlocking = "blocking"
	modeAsync    = "async"
)

var (
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendgrid_send_duration_seconds",
			Help:    "Duration of SendGrid send calls, from validation to the final outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "outcome"},
	)

	sendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgrid_send_total",
			Help: "Number of SendGrid send calls by outcome",
		},
		[]string{"mode", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(sendDuration)
	prometheus.MustRegister(sendTotal)
}

func recordSend(mode string, outcome mail.Outcome, duration time.Duration) {
	sendDuration.WithLabelValues(mode, outcome.String()).Observe(duration.Seconds())
	sendTotal.WithLabelValues(mode, outcome.String()).Inc()
}
