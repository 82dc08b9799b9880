package staffauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wardline/staffauth/internal"
	"github.com/wardline/staffauth/jwt"
)

// RequestRecovery starts the password recovery flow. For a known, active
// email it issues an opaque recovery token plus a co-located one-time code
// and returns the token for the transport to cookie. For anything else it
// returns a zero challenge and no error: the response never reveals whether
// the email exists.
//
// Issuing a new token retires the user's previous one, and issuing the code
// overwrites any prior recovery code. Only the newest pair is ever live.
func (e *Engine) RequestRecovery(ctx context.Context, email string) (RecoveryChallenge, error) {
	email = NormalizeEmail(email)

	cred, err := e.credentials.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			// The origin window still counts silent requests, otherwise a
			// single address could probe emails for free.
			if oerr := e.rateLimiter.CheckOrigin(ctx, clientIPFromContext(ctx)); oerr != nil {
				if rateLimited(oerr) {
					e.emitRateLimit(ctx, rateLimitScope(oerr), email, "")
				}
				return RecoveryChallenge{}, oerr
			}
			e.metricInc(MetricRecoveryUnknownEmail)
			e.emitAudit(ctx, auditEventRecoveryRequest, true, "", email, nil, func() map[string]string {
				return map[string]string{"issued": "false", "reason": "unknown_email"}
			})
			return RecoveryChallenge{}, nil
		}
		return RecoveryChallenge{}, storeErr(err)
	}
	if !cred.Active {
		e.emitAudit(ctx, auditEventRecoveryRequest, true, cred.UserID, email, nil, func() map[string]string {
			return map[string]string{"issued": "false", "reason": "inactive"}
		})
		return RecoveryChallenge{}, nil
	}

	// Budget check before anything is minted: a denied request must not
	// retire the user's in-flight token or leave one without a code.
	if err := e.checkIssueBudget(ctx, cred); err != nil {
		return RecoveryChallenge{}, err
	}

	id, err := internal.NewTokenID()
	if err != nil {
		return RecoveryChallenge{}, storeErr(err)
	}
	secret, err := internal.NewTokenSecret()
	if err != nil {
		return RecoveryChallenge{}, storeErr(err)
	}

	ttl := e.config.Recovery.TokenTTL
	record := &recoveryRecord{
		UserID:     cred.UserID,
		SecretHash: internal.HashTokenSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	if err := e.recovery.Save(ctx, id.String(), record, ttl); err != nil {
		return RecoveryChallenge{}, err
	}

	if _, err := e.mintAndDeliver(ctx, cred, PurposeRecovery, "recovery"); err != nil {
		return RecoveryChallenge{}, err
	}

	token, err := internal.EncodeToken(id.String(), secret)
	if err != nil {
		return RecoveryChallenge{}, storeErr(err)
	}

	e.metricInc(MetricRecoveryRequest)
	e.emitAudit(ctx, auditEventRecoveryRequest, true, cred.UserID, email, nil, func() map[string]string {
		return map[string]string{"issued": "true"}
	})

	return RecoveryChallenge{Token: token, TTL: int(ttl.Seconds())}, nil
}

// VerifyRecoveryCode consumes the recovery code and advances the token to
// its verified state. Every failure mode answers ErrInvalidOrExpiredCode or
// ErrRecoveryTokenInvalid with no finer detail.
func (e *Engine) VerifyRecoveryCode(ctx context.Context, token, code string) error {
	record, id, secretHash, err := e.authenticateRecoveryToken(ctx, token)
	if err != nil {
		e.metricInc(MetricRecoveryCodeFailure)
		e.emitAudit(ctx, auditEventRecoveryCodeFailure, false, "", "", ErrRecoveryTokenInvalid, nil)
		return err
	}

	reason, err := e.consumeCode(ctx, record.UserID, PurposeRecovery, code)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		e.metricInc(MetricRecoveryCodeFailure)
		e.emitAudit(ctx, auditEventRecoveryCodeFailure, false, record.UserID, "", err, func() map[string]string {
			return map[string]string{"reason": codeFailureReason(reason)}
		})
		return err
	}

	if _, err := e.recovery.MarkVerified(ctx, id, secretHash); err != nil {
		return e.mapRecoveryErr(ctx, record.UserID, err)
	}

	e.metricInc(MetricRecoveryCodeVerified)
	e.emitAudit(ctx, auditEventRecoveryCodeOK, true, record.UserID, "", nil, nil)
	return nil
}

// CompletePasswordChange consumes a verified recovery token and installs the
// new password. The token must have passed code verification; consuming it
// here is what makes the whole grant single-use. All existing refresh tokens
// of the user are revoked so stolen sessions do not outlive the reset.
func (e *Engine) CompletePasswordChange(ctx context.Context, token, newPassword string) error {
	// An access token pasted into the recovery slot parses as a structural
	// JWT. Reject it before any store work; bearer shape alone never grants
	// a password change.
	if jwt.LooksStructural(token) {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailed, false, "", "", ErrRecoveryTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "structural_jwt"}
		})
		return ErrRecoveryTokenInvalid
	}

	record, id, secretHash, err := e.authenticateRecoveryToken(ctx, token)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailed, false, "", "", ErrRecoveryTokenInvalid, nil)
		return err
	}
	if !record.OTPVerified {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailed, false, record.UserID, "", ErrRecoveryTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "code_not_verified"}
		})
		return ErrRecoveryTokenInvalid
	}

	if reasons := e.policy.Check(newPassword); len(reasons) > 0 {
		e.metricInc(MetricPasswordPolicyRejected)
		e.emitAudit(ctx, auditEventPasswordResetFailed, false, record.UserID, "", ErrPasswordPolicy, nil)
		return &PasswordPolicyError{Reasons: reasons}
	}

	newHash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return storeErr(err)
	}

	// Burn the token before writing the hash: if the write fails the user
	// restarts recovery, which is the safer failure.
	if _, err := e.recovery.Consume(ctx, id, secretHash); err != nil {
		return e.mapRecoveryErr(ctx, record.UserID, err)
	}

	if err := e.credentials.UpdatePasswordHash(ctx, record.UserID, newHash); err != nil {
		return storeErr(err)
	}

	if revoked, err := e.refresh.RevokeAll(ctx, record.UserID); err != nil {
		e.logger.Warn("refresh revocation after password reset failed",
			zap.String("user_id", record.UserID),
			zap.Error(err),
		)
	} else if revoked > 0 {
		e.logger.Info("revoked sessions after password reset",
			zap.String("user_id", record.UserID),
			zap.Int("count", revoked),
		)
	}

	e.confirmPasswordChange(ctx, record.UserID)

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordReset, true, record.UserID, "", nil, nil)
	return nil
}

// authenticateRecoveryToken decodes an opaque token and checks its secret
// against the stored record without mutating state.
func (e *Engine) authenticateRecoveryToken(ctx context.Context, token string) (*recoveryRecord, string, [32]byte, error) {
	var zero [32]byte

	id, secret, err := internal.DecodeToken(token)
	if err != nil {
		return nil, "", zero, ErrRecoveryTokenInvalid
	}

	record, err := e.recovery.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, "", zero, err
		}
		return nil, "", zero, ErrRecoveryTokenInvalid
	}

	secretHash := internal.HashTokenSecret(secret)
	if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
		return nil, "", zero, ErrRecoveryTokenInvalid
	}

	return record, id, secretHash, nil
}

func (e *Engine) mapRecoveryErr(ctx context.Context, userID string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetFailed, false, userID, "", ErrRecoveryTokenInvalid, func() map[string]string {
		return map[string]string{"reason": err.Error()}
	})
	return ErrRecoveryTokenInvalid
}
