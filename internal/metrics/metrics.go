package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/logger"
)

// Sign-in outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeAccountNotFound    = "account_not_found"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInvalidRequest     = "invalid_request"
	OutcomeValidation         = "validation_error"
	OutcomeUpstream           = "upstream_error"
	OutcomeError              = "error"
)

// UnknownAuthenticator labels attempts naming no configured authenticator,
// keeping client input out of label values.
const UnknownAuthenticator = "unknown"

var once sync.Once

var (
	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec
	signinAttemptsTotal     *prometheus.CounterVec
)

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		logger.Warn("prometheus counter register failed", zap.Error(err))
	}
	return c
}

func registerHistogramVec(h *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.Register(h); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
		logger.Warn("prometheus histogram register failed", zap.Error(err))
	}
	return h
}

// Init registers collectors with the default registry. Safe to call more
// than once; recorders are no-ops until it has run.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = registerCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dingtalk",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of DingTalk API requests.",
		}, []string{"endpoint", "status", "result"}))

		upstreamRequestDuration = registerHistogramVec(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dingtalk",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of DingTalk API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "result"}))

		signinAttemptsTotal = registerCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_attempts_total",
			Help: "Sign-in attempts by authenticator and outcome.",
		}, []string{"authenticator", "outcome"}))
	})
}

// ObserveUpstream records one provider call. statusCode is 0 when no
// response was received.
func ObserveUpstream(endpoint string, statusCode int, err error, d time.Duration) {
	if upstreamRequestsTotal == nil {
		return
	}
	status := "none"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	upstreamRequestsTotal.WithLabelValues(endpoint, status, result).Inc()
	upstreamRequestDuration.WithLabelValues(endpoint, result).Observe(d.Seconds())
}

// ObserveSignin records the outcome of a sign-in attempt.
func ObserveSignin(authenticator, outcome string) {
	if signinAttemptsTotal == nil {
		return
	}
	signinAttemptsTotal.WithLabelValues(authenticator, outcome).Inc()
}
