package staffauth

import (
	"context"
	"errors"
)

// VerifyStepUp consumes a login one-time code and completes the pending
// login. The code is single-use: a second submission of the same value fails
// even inside the validity window.
func (e *Engine) VerifyStepUp(ctx context.Context, userID, code string) (*SessionResult, error) {
	cred, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricStepUpFailure)
			e.emitAudit(ctx, auditEventStepUpFailure, false, userID, "", ErrInvalidOrExpiredCode, nil)
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, storeErr(err)
	}
	if !cred.Active {
		return nil, ErrAccountInactive
	}

	reason, err := e.consumeCode(ctx, cred.UserID, PurposeLogin, code)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		e.metricInc(MetricStepUpFailure)
		e.emitAudit(ctx, auditEventStepUpFailure, false, cred.UserID, cred.Email, err, func() map[string]string {
			return map[string]string{"reason": codeFailureReason(reason)}
		})
		return nil, err
	}

	session, sErr := e.completeLogin(ctx, cred)
	if sErr != nil {
		return nil, sErr
	}

	e.metricInc(MetricStepUpSuccess)
	e.emitAudit(ctx, auditEventStepUpSuccess, true, cred.UserID, cred.Email, nil, nil)
	return session, nil
}

// ResendStepUp issues a fresh login code, invalidating the previous one.
// Subject to the full rate-limit stack; a user who never completed the
// password step simply gets a code that nothing will accept a session for.
func (e *Engine) ResendStepUp(ctx context.Context, userID string) (int, error) {
	cred, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return 0, ErrInvalidOrExpiredCode
		}
		return 0, storeErr(err)
	}
	if !cred.Active {
		return 0, ErrAccountInactive
	}
	if !cred.TwoFactorEnabled {
		return 0, ErrTwoFactorState
	}

	ttl, err := e.issueCode(ctx, cred, PurposeLogin, "login_resend")
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricStepUpResend)
	e.emitAudit(ctx, auditEventStepUpResend, true, cred.UserID, cred.Email, nil, nil)
	return int(ttl.Seconds()), nil
}
