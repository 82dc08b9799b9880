package staffauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginLocked         = "login_locked"
	auditEventStepUpRequired      = "step_up_required"
	auditEventStepUpSuccess       = "step_up_success"
	auditEventStepUpFailure       = "step_up_failure"
	auditEventStepUpResend        = "step_up_resend"
	auditEventRecoveryRequest     = "recovery_request"
	auditEventRecoveryCodeOK      = "recovery_code_verified"
	auditEventRecoveryCodeFailure = "recovery_code_failure"
	auditEventPasswordReset       = "password_reset"
	auditEventPasswordResetFailed = "password_reset_failure"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventLogout              = "logout"
	auditEventLogoutAll           = "logout_all"
	auditEventTwoFactorEnabled    = "two_factor_enabled"
	auditEventTwoFactorDisabled   = "two_factor_disabled"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
)

// AuditErrorCode is the stable, coarse error vocabulary used in audit
// records. Finer-grained internal reasons travel in event metadata.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrStateConflict      AuditErrorCode = "state_conflict"
	auditErrNotifier           AuditErrorCode = "notifier_unavailable"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	email string,
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
		UserID:    userID,
		Email:     email,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, email, userID string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, email, ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrInvalidOrExpiredCode),
		errors.Is(err, errCodeNotFound),
		errors.Is(err, errCodeExpired),
		errors.Is(err, errCodeConsumed),
		errors.Is(err, errCodeMismatch),
		errors.Is(err, errCodeMalformed):
		return auditErrCodeInvalid
	case errors.Is(err, ErrRecoveryTokenInvalid),
		errors.Is(err, ErrRefreshTokenInvalid),
		errors.Is(err, ErrAccessTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrTwoFactorState):
		return auditErrStateConflict
	case errors.Is(err, ErrNotifierUnavailable):
		return auditErrNotifier
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// codeFailureReason names the internal way a code verification failed, for
// audit metadata only. The caller has already collapsed the external error.
func codeFailureReason(err error) string {
	switch {
	case errors.Is(err, errCodeNotFound):
		return "not_found"
	case errors.Is(err, errCodeExpired):
		return "expired"
	case errors.Is(err, errCodeConsumed):
		return "consumed"
	case errors.Is(err, errCodeMismatch):
		return "mismatch"
	case errors.Is(err, errCodeMalformed):
		return "malformed"
	default:
		return "error"
	}
}
