package staffauth

import (
	"context"

	"go.uber.org/zap"

	"github.com/wardline/staffauth/jwt"
	"github.com/wardline/staffauth/password"
)

// Engine is the authentication core. Construct with NewBuilder; all fields
// are set at build time and never mutated, so one Engine serves all requests.
type Engine struct {
	config      Config
	credentials CredentialStore
	otpStore    *otpStore
	recovery    *recoveryStore
	refresh     *refreshStore
	lockout     *lockoutGate
	rateLimiter *otpRateLimiter
	passwords   *password.Argon2
	policy      *password.Policy
	jwtManager  *jwt.Manager
	notifier    Notifier
	audit       *auditDispatcher
	metrics     *Metrics
	logger      *zap.Logger
}

// Close stops background workers (the audit dispatcher). The engine must not
// be used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under pressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot exposes the counter set for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// issueSession mints the access/refresh pair for an authenticated
// credential and resolves the role landing path.
func (e *Engine) issueSession(ctx context.Context, cred StaffCredential) (*SessionResult, error) {
	access, err := e.jwtManager.CreateAccess(cred.UserID, cred.Email, cred.Role)
	if err != nil {
		return nil, storeErr(err)
	}

	refreshToken, err := e.issueRefreshToken(ctx, cred.UserID)
	if err != nil {
		return nil, err
	}

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

func (e *Engine) landingPath(role string) string {
	if path, ok := e.config.Session.RoleLandingPaths[role]; ok {
		return path
	}
	return e.config.Session.DefaultLandingPath
}
