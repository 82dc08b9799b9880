// Package internaldefs holds the shared metric naming tables used by the
// Prometheus and OpenTelemetry exporters. Both exporters must agree on names
// and help text, so the tables live here instead of in either exporter.
package internaldefs

import (
	staffauth "github.com/wardline/staffauth"
)

// CounterDef maps one engine counter to its exported name and help text.
type CounterDef struct {
	ID   staffauth.MetricID
	Name string
	Help string
}

// HistogramDef maps one engine histogram to its exported name and help text.
type HistogramDef struct {
	ID   staffauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in engine declaration order.
var CounterDefs = []CounterDef{
	{ID: staffauth.MetricLoginSuccess, Name: "staffauth_login_success_total", Help: "Successful staff logins."},
	{ID: staffauth.MetricLoginFailure, Name: "staffauth_login_failure_total", Help: "Failed staff login attempts."},
	{ID: staffauth.MetricLoginLocked, Name: "staffauth_login_locked_total", Help: "Login attempts rejected by an active lockout."},
	{ID: staffauth.MetricLoginInactive, Name: "staffauth_login_inactive_total", Help: "Login attempts against deactivated accounts."},
	{ID: staffauth.MetricStepUpRequired, Name: "staffauth_step_up_required_total", Help: "Logins deferred pending a one-time code."},
	{ID: staffauth.MetricStepUpSuccess, Name: "staffauth_step_up_success_total", Help: "Successful step-up code verifications."},
	{ID: staffauth.MetricStepUpFailure, Name: "staffauth_step_up_failure_total", Help: "Failed step-up code verifications."},
	{ID: staffauth.MetricStepUpResend, Name: "staffauth_step_up_resend_total", Help: "Step-up code resend requests."},
	{ID: staffauth.MetricRecoveryRequest, Name: "staffauth_recovery_request_total", Help: "Password recovery requests."},
	{ID: staffauth.MetricRecoveryUnknownEmail, Name: "staffauth_recovery_unknown_email_total", Help: "Recovery requests for addresses with no account."},
	{ID: staffauth.MetricRecoveryCodeVerified, Name: "staffauth_recovery_code_verified_total", Help: "Successful recovery code verifications."},
	{ID: staffauth.MetricRecoveryCodeFailure, Name: "staffauth_recovery_code_failure_total", Help: "Failed recovery code verifications."},
	{ID: staffauth.MetricPasswordResetSuccess, Name: "staffauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: staffauth.MetricPasswordResetFailure, Name: "staffauth_password_reset_failure_total", Help: "Failed password reset completions."},
	{ID: staffauth.MetricPasswordPolicyRejected, Name: "staffauth_password_policy_rejected_total", Help: "New passwords rejected by policy."},
	{ID: staffauth.MetricRefreshSuccess, Name: "staffauth_refresh_success_total", Help: "Successful access token refreshes."},
	{ID: staffauth.MetricRefreshFailure, Name: "staffauth_refresh_failure_total", Help: "Failed access token refreshes."},
	{ID: staffauth.MetricLogout, Name: "staffauth_logout_total", Help: "Single-session logout operations."},
	{ID: staffauth.MetricLogoutAll, Name: "staffauth_logout_all_total", Help: "Logout-all operations."},
	{ID: staffauth.MetricTwoFactorEnabled, Name: "staffauth_two_factor_enabled_total", Help: "Two-factor enable operations."},
	{ID: staffauth.MetricTwoFactorDisabled, Name: "staffauth_two_factor_disabled_total", Help: "Two-factor disable operations."},
	{ID: staffauth.MetricRateLimitHit, Name: "staffauth_rate_limit_hit_total", Help: "Code issuance requests denied by rate limiting."},
	{ID: staffauth.MetricCodeIssued, Name: "staffauth_code_issued_total", Help: "One-time codes issued."},
	{ID: staffauth.MetricCodeExpired, Name: "staffauth_code_expired_total", Help: "One-time codes presented after expiry."},
	{ID: staffauth.MetricCodeReplay, Name: "staffauth_code_replay_total", Help: "One-time codes presented after consumption."},
	{ID: staffauth.MetricNotifierFailure, Name: "staffauth_notifier_failure_total", Help: "Code delivery failures."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: staffauth.MetricValidateLatency, Name: "staffauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds of the engine's fixed latency buckets,
// in seconds, as strings ready for label values.
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

// HistogramBoundSuffix are the same bounds rendered as metric name suffixes
// for backends that cannot carry an le label.
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

// HistogramBoundValues are the same bounds as float64 upper limits for
// exporters that take numeric buckets. The final +Inf bucket is implicit.
var HistogramBoundValues = []float64{
	0.005,
	0.01,
	0.025,
	0.05,
	0.1,
	0.25,
	0.5,
}

// NormalizeBuckets copies a snapshot bucket slice into the fixed-size layout,
// tolerating short or missing slices from a disabled histogram.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
