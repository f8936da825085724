package internaldefs

import (
	portalauth "github.com/veritaskey/portalauth"
)

// CounterDef binds an engine counter to its stable exported name.
type CounterDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its stable exported name.
type HistogramDef struct {
	ID   portalauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: portalauth.MetricLoginSuccess, Name: "portalauth_login_success_total", Help: "Fully authenticated logins."},
	{ID: portalauth.MetricLoginSetupRequired, Name: "portalauth_login_setup_required_total", Help: "Logins landing on the enrollment-required outcome."},
	{ID: portalauth.MetricLoginSecondFactorRequired, Name: "portalauth_login_second_factor_required_total", Help: "Logins requiring second-factor completion."},
	{ID: portalauth.MetricLoginFailure, Name: "portalauth_login_failure_total", Help: "Failed login attempts."},
	{ID: portalauth.MetricLoginRateLimited, Name: "portalauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: portalauth.MetricTrustedBypass, Name: "portalauth_trusted_bypass_total", Help: "Second-factor bypasses on trusted channels."},
	{ID: portalauth.MetricEnrollStarted, Name: "portalauth_enroll_started_total", Help: "Device enrollments started or resumed."},
	{ID: portalauth.MetricEnrollCompleted, Name: "portalauth_enroll_completed_total", Help: "Device enrollments completed."},
	{ID: portalauth.MetricEnrollConflict, Name: "portalauth_enroll_conflict_total", Help: "Enrollments rejected because an active device exists."},
	{ID: portalauth.MetricCodeAccepted, Name: "portalauth_code_accepted_total", Help: "Accepted second-factor codes."},
	{ID: portalauth.MetricCodeRejected, Name: "portalauth_code_rejected_total", Help: "Rejected second-factor codes."},
	{ID: portalauth.MetricCodeReplayed, Name: "portalauth_code_replayed_total", Help: "Codes rejected by replay protection."},
	{ID: portalauth.MetricCodeRateLimited, Name: "portalauth_code_rate_limited_total", Help: "Rate-limited code attempts."},
	{ID: portalauth.MetricDeviceRevoked, Name: "portalauth_device_revoked_total", Help: "Revoked devices."},
	{ID: portalauth.MetricDeviceSynced, Name: "portalauth_device_synced_total", Help: "Device secret syncs to companion apps."},
	{ID: portalauth.MetricPushCreated, Name: "portalauth_push_created_total", Help: "Created push-approval requests."},
	{ID: portalauth.MetricPushApproved, Name: "portalauth_push_approved_total", Help: "Approved push requests."},
	{ID: portalauth.MetricPushDenied, Name: "portalauth_push_denied_total", Help: "Denied push requests."},
	{ID: portalauth.MetricPushExpired, Name: "portalauth_push_expired_total", Help: "Push requests that aged out of their window."},
	{ID: portalauth.MetricPushConflict, Name: "portalauth_push_conflict_total", Help: "Responses rejected because the request was already resolved."},
	{ID: portalauth.MetricPushConsumed, Name: "portalauth_push_consumed_total", Help: "Approved push requests consumed for tokens."},
	{ID: portalauth.MetricRefreshSuccess, Name: "portalauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: portalauth.MetricRefreshFailure, Name: "portalauth_refresh_failure_total", Help: "Failed token refreshes."},
}

var HistogramDefs = []HistogramDef{
	{ID: portalauth.MetricValidateLatency, Name: "portalauth_validate_latency_seconds", Help: "Validate latency histogram."},
}

var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

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

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
