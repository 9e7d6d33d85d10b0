package internaldefs

import (
	"github.com/MrEthical07/tokenlife"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   tokenlife.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   tokenlife.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: tokenlife.MetricLoginSuccess, Name: "tokenlife_login_success_total", Help: "Successful logins."},
	{ID: tokenlife.MetricLoginFailure, Name: "tokenlife_login_failure_total", Help: "Failed logins."},
	{ID: tokenlife.MetricLoginAccountUnavailable, Name: "tokenlife_login_account_unavailable_total", Help: "Logins refused for disabled, locked or expired accounts."},
	{ID: tokenlife.MetricRefreshSuccess, Name: "tokenlife_refresh_success_total", Help: "Refresh tokens exchanged for access tokens."},
	{ID: tokenlife.MetricRefreshFailure, Name: "tokenlife_refresh_failure_total", Help: "Failed refresh exchanges."},
	{ID: tokenlife.MetricRefreshRateLimited, Name: "tokenlife_refresh_rate_limited_total", Help: "Refresh exchanges refused by the throttle."},
	{ID: tokenlife.MetricValidateSuccess, Name: "tokenlife_validate_success_total", Help: "Tokens that validated."},
	{ID: tokenlife.MetricValidateInvalidSignature, Name: "tokenlife_validate_invalid_signature_total", Help: "Tokens rejected for a bad signature."},
	{ID: tokenlife.MetricValidateMalformed, Name: "tokenlife_validate_malformed_total", Help: "Tokens rejected as malformed."},
	{ID: tokenlife.MetricValidateSubjectMismatch, Name: "tokenlife_validate_subject_mismatch_total", Help: "Tokens rejected for a subject mismatch."},
	{ID: tokenlife.MetricValidateWrongKind, Name: "tokenlife_validate_wrong_kind_total", Help: "Tokens rejected for being the wrong kind."},
	{ID: tokenlife.MetricValidateExpired, Name: "tokenlife_validate_expired_total", Help: "Tokens rejected as expired."},
	{ID: tokenlife.MetricValidateRevoked, Name: "tokenlife_validate_revoked_total", Help: "Tokens rejected as revoked."},
	{ID: tokenlife.MetricAccessIssued, Name: "tokenlife_access_issued_total", Help: "Access tokens issued."},
	{ID: tokenlife.MetricRefreshIssued, Name: "tokenlife_refresh_issued_total", Help: "Refresh tokens issued."},
	{ID: tokenlife.MetricIssueTerminated, Name: "tokenlife_issue_terminated_total", Help: "Issuances that lost a race with logout."},
	{ID: tokenlife.MetricLogout, Name: "tokenlife_logout_total", Help: "Logouts."},
	{ID: tokenlife.MetricStoreUnavailable, Name: "tokenlife_store_unavailable_total", Help: "Operations failed by an unavailable backend."},
}

var HistogramDefs = []HistogramDef{
	{ID: tokenlife.MetricValidateLatency, Name: "tokenlife_validate_latency_seconds", Help: "Validate latency."},
}

const (
	AuditDroppedName = "tokenlife_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramBounds are the upper bounds in seconds of the finite buckets;
// the last engine bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
