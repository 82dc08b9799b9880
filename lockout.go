package staffauth

import (
	"context"
	"time"
)

// lockoutGate implements progressive lockout over the credential record
// itself, not a side table: the failure counter and deadline live on the
// StaffCredential and survive restarts with it.
type lockoutGate struct {
	store CredentialStore
	cfg   LockoutConfig
	now   func() time.Time
}

func newLockoutGate(store CredentialStore, cfg LockoutConfig) *lockoutGate {
	return &lockoutGate{store: store, cfg: cfg, now: time.Now}
}

// Admit checks the lockout window before any password work happens. An
// expired window is cleared here, on the next attempt, so no background
// sweeper is needed; the attempt that found it expired proceeds with a
// fresh counter. Returns the (possibly cleared) credential, or an
// AccountLockedError while the window is active.
func (g *lockoutGate) Admit(ctx context.Context, cred StaffCredential) (StaffCredential, error) {
	if cred.LockedUntil == nil {
		return cred, nil
	}

	until := *cred.LockedUntil
	if g.now().Before(until) {
		return cred, &AccountLockedError{Until: until}
	}

	// Window elapsed: auto-unlock and reset the counter before the
	// password check runs.
	cred.LockedUntil = nil
	cred.FailedAttempts = 0
	if err := g.store.UpdateLockout(ctx, cred.UserID, 0, nil); err != nil {
		return cred, storeErr(err)
	}
	return cred, nil
}

// RecordFailure increments the consecutive-failure counter and opens a
// lockout window when the threshold is reached. Returns the attempts still
// remaining (0 when locked) and whether this failure triggered the lock.
func (g *lockoutGate) RecordFailure(ctx context.Context, cred StaffCredential) (remaining int, locked bool, err error) {
	attempts := cred.FailedAttempts + 1

	if attempts >= g.cfg.Threshold {
		until := g.now().Add(g.cfg.Duration)
		if err := g.store.UpdateLockout(ctx, cred.UserID, attempts, &until); err != nil {
			return 0, false, storeErr(err)
		}
		return 0, true, nil
	}

	if err := g.store.UpdateLockout(ctx, cred.UserID, attempts, nil); err != nil {
		return 0, false, storeErr(err)
	}
	return g.cfg.Threshold - attempts, false, nil
}

// RecordSuccess clears the counter after a successful password check.
// Skips the write when there is nothing to clear.
func (g *lockoutGate) RecordSuccess(ctx context.Context, cred StaffCredential) error {
	if cred.FailedAttempts == 0 && cred.LockedUntil == nil {
		return nil
	}
	if err := g.store.UpdateLockout(ctx, cred.UserID, 0, nil); err != nil {
		return storeErr(err)
	}
	return nil
}
