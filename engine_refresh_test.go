package staffauth

import (
	"context"
	"errors"
	"testing"
)

func loginSession(t *testing.T, env *testEnv, email, pwd string) *LoginOutcome {
	t.Helper()
	outcome, err := env.engine.Login(context.Background(), email, pwd)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !outcome.Authenticated {
		t.Fatal("expected authenticated outcome")
	}
	return outcome
}

func TestRefresh_ReturnsSameToken(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")

	session, err := env.engine.Refresh(context.Background(), outcome.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if session.AccessToken == "" {
		t.Fatal("expected a fresh access token")
	}
	if session.RefreshToken != outcome.RefreshToken {
		t.Fatal("refresh tokens must not rotate on use")
	}

	// And again: the same token keeps working for its whole lifetime.
	if _, err := env.engine.Refresh(context.Background(), outcome.RefreshToken); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	env := newTestEngine(t, testConfig())

	_, err := env.engine.Refresh(context.Background(), "junk")
	if !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid, got %v", err)
	}
}

func TestRefresh_InactiveAccount(t *testing.T) {
	env := newTestEngine(t, testConfig())
	userID := seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")

	cred := env.creds.get(userID)
	cred.Active = false
	env.creds.put(cred)

	_, err := env.engine.Refresh(context.Background(), outcome.RefreshToken)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")

	if err := env.engine.Logout(context.Background(), outcome.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	_, err := env.engine.Refresh(context.Background(), outcome.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenInvalid) {
		t.Fatalf("expected ErrRefreshTokenInvalid after logout, got %v", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")
	ctx := context.Background()

	if err := env.engine.Logout(ctx, outcome.RefreshToken); err != nil {
		t.Fatalf("first logout failed: %v", err)
	}
	if err := env.engine.Logout(ctx, outcome.RefreshToken); err != nil {
		t.Fatalf("repeated logout must succeed, got %v", err)
	}
	if err := env.engine.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("logout with malformed token must succeed, got %v", err)
	}
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	env := newTestEngine(t, testConfig())
	userID := seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	ctx := context.Background()
	first := loginSession(t, env, "nurse@ward.test", "correct-horse-9")
	second := loginSession(t, env, "nurse@ward.test", "correct-horse-9")

	revoked, err := env.engine.LogoutAll(ctx, userID)
	if err != nil {
		t.Fatalf("logout-all failed: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", revoked)
	}

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		if _, err := env.engine.Refresh(ctx, token); !errors.Is(err, ErrRefreshTokenInvalid) {
			t.Fatalf("expected ErrRefreshTokenInvalid after logout-all, got %v", err)
		}
	}
}

func TestLogoutAll_OnlyTargetsOneUser(t *testing.T) {
	env := newTestEngine(t, testConfig())
	aliceID := seedStaff(t, env, "alice@ward.test", "correct-horse-9")
	seedStaff(t, env, "bob@ward.test", "correct-horse-9")

	ctx := context.Background()
	loginSession(t, env, "alice@ward.test", "correct-horse-9")
	bob := loginSession(t, env, "bob@ward.test", "correct-horse-9")

	if _, err := env.engine.LogoutAll(ctx, aliceID); err != nil {
		t.Fatalf("logout-all failed: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, bob.RefreshToken); err != nil {
		t.Fatalf("other user's session must survive, got %v", err)
	}
}

func TestValidate_AcceptsIssuedToken(t *testing.T) {
	env := newTestEngine(t, testConfig())
	userID := seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")

	auth, err := env.engine.Validate(context.Background(), outcome.AccessToken)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if auth.UserID != userID || auth.Email != "nurse@ward.test" || auth.Role != "nurse" {
		t.Fatalf("unexpected auth result %+v", auth)
	}
}

func TestValidate_RejectsTamperedToken(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")
	tampered := outcome.AccessToken[:len(outcome.AccessToken)-2] + "xx"

	_, err := env.engine.Validate(context.Background(), tampered)
	if !errors.Is(err, ErrAccessTokenInvalid) {
		t.Fatalf("expected ErrAccessTokenInvalid, got %v", err)
	}
}

func TestValidate_IsStateless(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	outcome := loginSession(t, env, "nurse@ward.test", "correct-horse-9")

	// Revoking the session does not invalidate an already-issued access
	// token; it stays valid until its expiry.
	if err := env.engine.Logout(context.Background(), outcome.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := env.engine.Validate(context.Background(), outcome.AccessToken); err != nil {
		t.Fatalf("access token must stay valid after logout, got %v", err)
	}
}
