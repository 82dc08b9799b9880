package staffauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Login verifies an email/password pair and either establishes a session or,
// when the credential has 2FA enabled, issues a step-up challenge.
//
// The lockout window is evaluated before any password work: a locked account
// answers the same way for right and wrong passwords. An expired window is
// cleared by this attempt and the attempt proceeds normally.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginOutcome, error) {
	email = NormalizeEmail(email)

	cred, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", email, ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"reason": "unknown_email"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	cred, err = e.lockout.Admit(ctx, cred)
	if err != nil {
		var locked *AccountLockedError
		if errors.As(err, &locked) {
			e.metricInc(MetricLoginLocked)
			minutes := locked.Minutes()
			e.emitAudit(ctx, auditEventLoginLocked, false, cred.UserID, email, err, func() map[string]string {
				return map[string]string{"minutes_remaining": strconv.Itoa(minutes)}
			})
		}
		return nil, err
	}

	ok, verr := e.passwords.Verify(plaintext, cred.PasswordHash)
	if verr != nil {
		// Malformed stored hash. Counts as a failure externally; the real
		// problem goes to the log.
		e.logger.Error("stored password hash unreadable",
			zap.String("user_id", cred.UserID),
			zap.Error(verr),
		)
		ok = false
	}

	if !ok {
		remaining, lockedNow, lerr := e.lockout.RecordFailure(ctx, cred)
		if lerr != nil {
			return nil, lerr
		}
		e.metricInc(MetricLoginFailure)

		if lockedNow {
			e.metricInc(MetricLoginLocked)
			until := time.Now().Add(e.config.Lockout.Duration)
			lockErr := &AccountLockedError{Until: until}
			e.emitAudit(ctx, auditEventLoginLocked, false, cred.UserID, email, lockErr, func() map[string]string {
				return map[string]string{"trigger": "threshold_reached"}
			})
			return nil, lockErr
		}

		e.emitAudit(ctx, auditEventLoginFailure, false, cred.UserID, email, ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"attempts_remaining": strconv.Itoa(remaining)}
		})
		return nil, ErrInvalidCredentials
	}

	if !cred.Active {
		e.metricInc(MetricLoginInactive)
		e.emitAudit(ctx, auditEventLoginFailure, false, cred.UserID, email, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	if err := e.lockout.RecordSuccess(ctx, cred); err != nil {
		return nil, err
	}
	e.maybeUpgradeHash(ctx, cred, plaintext)

	if cred.TwoFactorEnabled {
		ttl, err := e.issueCode(ctx, cred, PurposeLogin, "login")
		if err != nil {
			return nil, err
		}

		e.metricInc(MetricStepUpRequired)
		e.emitAudit(ctx, auditEventStepUpRequired, true, cred.UserID, email, nil, nil)

		return &LoginOutcome{
			StepUpRequired: true,
			User: SessionUser{
				UserID: cred.UserID,
				Email:  cred.Email,
				Role:   cred.Role,
			},
			ChallengeTTL: int(ttl.Seconds()),
		}, nil
	}

	session, err := e.completeLogin(ctx, cred)
	if err != nil {
		return nil, err
	}

	return &LoginOutcome{
		Authenticated: true,
		AccessToken:   session.AccessToken,
		RefreshToken:  session.RefreshToken,
		ExpiresIn:     session.ExpiresIn,
		User:          session.User,
		RedirectPath:  session.RedirectPath,
	}, nil
}

// completeLogin stamps the login time and mints the session. Shared by the
// direct path and step-up verification.
func (e *Engine) completeLogin(ctx context.Context, cred StaffCredential) (*SessionResult, error) {
	if err := e.credentials.RecordLastLogin(ctx, cred.UserID, time.Now()); err != nil {
		return nil, storeErr(err)
	}

	session, err := e.issueSession(ctx, cred)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, cred.UserID, cred.Email, nil, func() map[string]string {
		return map[string]string{"role": cred.Role}
	})
	return session, nil
}

// maybeUpgradeHash rehashes under current cost parameters after a successful
// verification. Best effort; a failed write keeps the old hash working.
func (e *Engine) maybeUpgradeHash(ctx context.Context, cred StaffCredential, plaintext string) {
	needs, err := e.passwords.NeedsUpgrade(cred.PasswordHash)
	if err != nil || !needs {
		return
	}
	newHash, err := e.passwords.Hash(plaintext)
	if err != nil {
		return
	}
	if err := e.credentials.UpdatePasswordHash(ctx, cred.UserID, newHash); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("user_id", cred.UserID), zap.Error(err))
	}
}
