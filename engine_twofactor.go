package staffauth

import (
	"context"
	"errors"
)

// EnableTwoFactor turns on OTP step-up for the user's future logins. Takes
// effect on the next login; the current session is untouched.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID string) error {
	cred, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrInvalidCredentials
		}
		return storeErr(err)
	}
	if cred.TwoFactorEnabled {
		return ErrTwoFactorState
	}

	if err := e.credentials.SetTwoFactor(ctx, userID, true); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, cred.UserID, cred.Email, nil, nil)
	return nil
}

// RequestTwoFactorCode issues a code for a sensitive 2FA action such as
// disabling. Same purpose, store and limits as the login challenge.
func (e *Engine) RequestTwoFactorCode(ctx context.Context, userID string) (int, error) {
	cred, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return 0, ErrInvalidCredentials
		}
		return 0, storeErr(err)
	}
	if !cred.TwoFactorEnabled {
		return 0, ErrTwoFactorState
	}

	ttl, err := e.issueCode(ctx, cred, PurposeLogin, "twofactor")
	if err != nil {
		return 0, err
	}
	return int(ttl.Seconds()), nil
}

// DisableTwoFactor turns step-up off. Requires a fresh code so a hijacked
// session cannot silently weaken the account.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, code string) error {
	cred, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return ErrInvalidCredentials
		}
		return storeErr(err)
	}
	if !cred.TwoFactorEnabled {
		return ErrTwoFactorState
	}

	reason, err := e.consumeCode(ctx, cred.UserID, PurposeLogin, code)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, cred.UserID, cred.Email, err, func() map[string]string {
			return map[string]string{"reason": codeFailureReason(reason)}
		})
		return err
	}

	if err := e.credentials.SetTwoFactor(ctx, userID, false); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, cred.UserID, cred.Email, nil, nil)
	return nil
}
