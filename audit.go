package go2fa

import (
	"context"
	"time"

	"github.com/MrEthical07/go2fa/internal/audit"
)

// AuditEvent is one security-relevant occurrence in a 2FA flow.
type AuditEvent = audit.Event

// AuditSink receives audit events from the Engine's dispatcher goroutine.
type AuditSink = audit.Sink

// Sinks re-exported for callers wiring the Builder.
type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	ZapSink        = audit.ZapSink
)

var (
	NewChannelSink    = audit.NewChannelSink
	NewJSONWriterSink = audit.NewJSONWriterSink
	NewZapSink        = audit.NewZapSink
)

const (
	auditEventRegisterSuccess      = "register_success"
	auditEventRegisterFailure      = "register_failure"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventSecondFactorRequired = "second_factor_required"
	auditEventSecondFactorSuccess  = "second_factor_success"
	auditEventSecondFactorFailure  = "second_factor_failure"
	auditEventTemporaryTokenBurned = "temporary_token_attempts_exceeded"
	auditEventTOTPSetupRequested   = "totp_setup_requested"
	auditEventTOTPEnabled          = "totp_enabled"
	auditEventTOTPConfirmFailure   = "totp_confirm_failure"
	auditEventTOTPDisabled         = "totp_disabled"
	auditEventTOTPDisableFailure   = "totp_disable_failure"
	auditEventTOTPReplayRejected   = "totp_replay_rejected"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodesExhausted = "backup_codes_exhausted"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventDebugWindowInspected = "debug_window_inspected"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		if kind := KindOf(err); kind != "" {
			event.Error = string(kind)
		} else {
			event.Error = "internal_error"
		}
	}

	e.audit.Emit(ctx, event)
}
