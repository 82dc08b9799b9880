package staffauth

import (
	"context"
	"time"
)

// Validate checks an access token and returns the identity it asserts.
// Stateless: no store round-trip, which is what keeps per-request auth at
// in-process latency. Inactive accounts are therefore trusted until the
// token expires; revocation takes effect at the refresh boundary.
func (e *Engine) Validate(_ context.Context, accessToken string) (*AuthResult, error) {
	start := time.Now()
	defer func() {
		if e.metrics.LatencyEnabled() {
			e.metrics.Observe(MetricValidateLatency, time.Since(start))
		}
	}()

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrAccessTokenInvalid
	}

	return &AuthResult{
		UserID: claims.UID,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
