package staffauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wardline/staffauth/internal"
)

// issueRefreshToken mints and stores a new refresh token for the user,
// tagged with the request's device and origin for the audit trail.
func (e *Engine) issueRefreshToken(ctx context.Context, userID string) (string, error) {
	id, err := internal.NewTokenID()
	if err != nil {
		return "", storeErr(err)
	}
	secret, err := internal.NewTokenSecret()
	if err != nil {
		return "", storeErr(err)
	}

	now := time.Now()
	ttl := e.config.Refresh.TTL
	record := &refreshRecord{
		UserID:     userID,
		SecretHash: internal.HashTokenSecret(secret),
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
		LastUsedAt: now.Unix(),
		Device:     userAgentFromContext(ctx),
		Origin:     clientIPFromContext(ctx),
	}

	if err := e.refresh.Save(ctx, id.String(), record, ttl); err != nil {
		return "", err
	}

	token, err := internal.EncodeToken(id.String(), secret)
	if err != nil {
		return "", storeErr(err)
	}
	return token, nil
}

// Refresh exchanges a live refresh token for a fresh access token. The
// refresh token itself is returned unchanged: tokens are not rotated on use,
// their expiry is fixed at login.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*SessionResult, error) {
	record, err := e.validateRefreshToken(ctx, refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", err, nil)
		return nil, err
	}

	cred, err := e.credentials.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, record.UserID, "", ErrRefreshTokenInvalid, nil)
			return nil, ErrRefreshTokenInvalid
		}
		return nil, storeErr(err)
	}
	if !cred.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, cred.UserID, cred.Email, ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	access, err := e.jwtManager.CreateAccess(cred.UserID, cred.Email, cred.Role)
	if err != nil {
		return nil, storeErr(err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, cred.UserID, cred.Email, nil, nil)

	return &SessionResult{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    int(e.config.JWT.AccessTTL.Seconds()),
		User: SessionUser{
			UserID: cred.UserID,
			Email:  cred.Email,
			Role:   cred.Role,
		},
		RedirectPath: e.landingPath(cred.Role),
	}, nil
}

// Logout revokes a single refresh token. Idempotent: an unknown, expired or
// already-revoked token logs out just as successfully, there is nothing the
// caller can do differently.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	id, secret, err := internal.DecodeToken(refreshToken)
	if err != nil {
		// Malformed token, nothing to revoke.
		return nil
	}

	if err := e.refresh.Revoke(ctx, id, internal.HashTokenSecret(secret)); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", nil, nil)
	return nil
}

// LogoutAll revokes every refresh token of a user and reports how many were
// live.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	revoked, err := e.refresh.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})
	return revoked, nil
}

func (e *Engine) validateRefreshToken(ctx context.Context, token string) (*refreshRecord, error) {
	id, secret, err := internal.DecodeToken(token)
	if err != nil {
		return nil, ErrRefreshTokenInvalid
	}

	record, err := e.refresh.Validate(ctx, id, internal.HashTokenSecret(secret))
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, ErrRefreshTokenInvalid
	}
	return record, nil
}
