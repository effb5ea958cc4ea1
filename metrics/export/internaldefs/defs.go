package internaldefs

import (
	go2fa "github.com/MrEthical07/go2fa"
)

// CounterDef binds one engine counter to its exported name.
type CounterDef struct {
	ID   go2fa.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exported name.
type HistogramDef struct {
	ID   go2fa.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: go2fa.MetricRegisterSuccess, Name: "go2fa_register_success_total", Help: "Successful account registrations."},
	{ID: go2fa.MetricRegisterDuplicate, Name: "go2fa_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: go2fa.MetricLoginSuccess, Name: "go2fa_login_success_total", Help: "Logins with a correct password."},
	{ID: go2fa.MetricLoginFailure, Name: "go2fa_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: go2fa.MetricLoginRateLimited, Name: "go2fa_login_rate_limited_total", Help: "Logins refused by the failure throttle."},
	{ID: go2fa.MetricSecondFactorRequired, Name: "go2fa_second_factor_required_total", Help: "Logins that issued a temporary token."},
	{ID: go2fa.MetricSecondFactorSuccess, Name: "go2fa_second_factor_success_total", Help: "Successful second-factor verifications."},
	{ID: go2fa.MetricSecondFactorFailure, Name: "go2fa_second_factor_failure_total", Help: "Failed second-factor verifications."},
	{ID: go2fa.MetricTemporaryTokenExpired, Name: "go2fa_temporary_token_expired_total", Help: "Verifications presenting an expired temporary token."},
	{ID: go2fa.MetricTemporaryTokenReused, Name: "go2fa_temporary_token_reused_total", Help: "Verifications presenting a used temporary token."},
	{ID: go2fa.MetricTemporaryTokenAttemptsExceeded, Name: "go2fa_temporary_token_attempts_exceeded_total", Help: "Temporary tokens burned by the attempt cap."},
	{ID: go2fa.MetricTOTPReplayRejected, Name: "go2fa_totp_replay_rejected_total", Help: "TOTP codes rejected as replays."},
	{ID: go2fa.MetricBackupCodeUsed, Name: "go2fa_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: go2fa.MetricBackupCodeFailed, Name: "go2fa_backup_code_failed_total", Help: "Backup code attempts that matched nothing."},
	{ID: go2fa.MetricBackupCodesExhausted, Name: "go2fa_backup_codes_exhausted_total", Help: "Backup code attempts against an empty set."},
	{ID: go2fa.MetricBackupCodesRegenerated, Name: "go2fa_backup_codes_regenerated_total", Help: "Backup code set regenerations."},
	{ID: go2fa.MetricTOTPSetup, Name: "go2fa_totp_setup_total", Help: "Pending TOTP secrets issued."},
	{ID: go2fa.MetricTOTPEnabled, Name: "go2fa_totp_enabled_total", Help: "TOTP secrets confirmed."},
	{ID: go2fa.MetricTOTPDisabled, Name: "go2fa_totp_disabled_total", Help: "Two-factor disable operations."},
	{ID: go2fa.MetricRefreshSuccess, Name: "go2fa_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: go2fa.MetricRefreshFailure, Name: "go2fa_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: go2fa.MetricRefreshReuseDetected, Name: "go2fa_refresh_reuse_detected_total", Help: "Refresh tokens presented after rotation."},
	{ID: go2fa.MetricLogout, Name: "go2fa_logout_total", Help: "Session logouts."},
	{ID: go2fa.MetricBackendUnavailable, Name: "go2fa_backend_unavailable_total", Help: "Operations failed by a storage backend."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: go2fa.MetricVerifyLatency, Name: "go2fa_verify_latency_seconds", Help: "Second-factor verification latency."},
}

// HistogramBounds are the upper bounds in seconds, in the engine's bucket order.
var HistogramBounds = []string{
	"0.001",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"+Inf",
}

// HistogramBoundValues mirrors HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

// NormalizeBuckets copies raw into a fixed-size array, zero filling or truncating.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
