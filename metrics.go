package tokenlife

import internalmetrics "github.com/MrEthical07/tokenlife/internal/metrics"

// MetricID identifies a counter or the latency histogram in the in-process
// metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess            = internalmetrics.MetricLoginSuccess
	MetricLoginFailure            = internalmetrics.MetricLoginFailure
	MetricLoginAccountUnavailable = internalmetrics.MetricLoginAccountUnavailable
	MetricRefreshSuccess          = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure          = internalmetrics.MetricRefreshFailure
	MetricRefreshRateLimited      = internalmetrics.MetricRefreshRateLimited

	MetricValidateSuccess          = internalmetrics.MetricValidateSuccess
	MetricValidateInvalidSignature = internalmetrics.MetricValidateInvalidSignature
	MetricValidateMalformed        = internalmetrics.MetricValidateMalformed
	MetricValidateSubjectMismatch  = internalmetrics.MetricValidateSubjectMismatch
	MetricValidateWrongKind        = internalmetrics.MetricValidateWrongKind
	MetricValidateExpired          = internalmetrics.MetricValidateExpired
	MetricValidateRevoked          = internalmetrics.MetricValidateRevoked

	MetricAccessIssued     = internalmetrics.MetricAccessIssued
	MetricRefreshIssued    = internalmetrics.MetricRefreshIssued
	MetricIssueTerminated  = internalmetrics.MetricIssueTerminated
	MetricLogout           = internalmetrics.MetricLogout
	MetricStoreUnavailable = internalmetrics.MetricStoreUnavailable
	MetricValidateLatency  = internalmetrics.MetricValidateLatency
)

// Metrics holds atomic counters and the optional latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics returns a Metrics; when cfg.Enabled is false every call on it
// is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// validateMetric maps a rejection kind to its counter.
func validateMetric(kind ErrorKind) MetricID {
	switch kind {
	case KindInvalidSignature:
		return MetricValidateInvalidSignature
	case KindMalformedToken:
		return MetricValidateMalformed
	case KindSubjectMismatch:
		return MetricValidateSubjectMismatch
	case KindWrongKind:
		return MetricValidateWrongKind
	case KindExpired:
		return MetricValidateExpired
	default:
		return MetricValidateRevoked
	}
}
