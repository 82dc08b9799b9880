package staffauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func stepUpLogin(t *testing.T, env *testEnv, email, pwd string) string {
	t.Helper()
	outcome, err := env.engine.Login(context.Background(), email, pwd)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !outcome.StepUpRequired {
		t.Fatal("expected step-up outcome")
	}
	return outcome.User.UserID
}

func TestVerifyStepUp_CorrectCode(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	userID := stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")
	code := env.notifier.lastCode()

	session, err := env.engine.VerifyStepUp(context.Background(), userID, code)
	if err != nil {
		t.Fatalf("step-up verification failed: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("expected full session after step-up")
	}
}

func TestVerifyStepUp_WrongCode(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	userID := stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")

	_, err := env.engine.VerifyStepUp(context.Background(), userID, "000000")
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}

	// The real code still works after a wrong guess.
	if _, err := env.engine.VerifyStepUp(context.Background(), userID, env.notifier.lastCode()); err != nil {
		t.Fatalf("correct code after wrong guess failed: %v", err)
	}
}

func TestVerifyStepUp_CodeIsSingleUse(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	userID := stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")
	code := env.notifier.lastCode()

	if _, err := env.engine.VerifyStepUp(context.Background(), userID, code); err != nil {
		t.Fatalf("first verification failed: %v", err)
	}

	_, err := env.engine.VerifyStepUp(context.Background(), userID, code)
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("replayed code: expected ErrInvalidOrExpiredCode, got %v", err)
	}
}

func TestVerifyStepUp_ToleratesCopiedWhitespace(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	userID := stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")
	code := env.notifier.lastCode()

	// Codes get copied out of emails with stray spaces around and inside.
	pasted := " " + code[:3] + " " + code[3:] + "\t"
	if _, err := env.engine.VerifyStepUp(context.Background(), userID, pasted); err != nil {
		t.Fatalf("whitespace-wrapped code failed: %v", err)
	}
}

func TestVerifyStepUp_RejectsMalformedCodes(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	userID := stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")

	for _, bad := range []string{"", "12345", "1234567", "12345a", "12 34", "½23456"} {
		if _, err := env.engine.VerifyStepUp(context.Background(), userID, bad); !errors.Is(err, ErrInvalidOrExpiredCode) {
			t.Fatalf("code %q: expected ErrInvalidOrExpiredCode, got %v", bad, err)
		}
	}

	// Malformed submissions never consume the real code.
	if _, err := env.engine.VerifyStepUp(context.Background(), userID, env.notifier.lastCode()); err != nil {
		t.Fatalf("real code after malformed attempts failed: %v", err)
	}
}

func TestVerifyStepUp_UnknownUser(t *testing.T) {
	env := newTestEngine(t, testConfig())

	_, err := env.engine.VerifyStepUp(context.Background(), "nobody", "123456")
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
}

func TestResendStepUp_InvalidatesPriorCode(t *testing.T) {
	env := newTestEngine(t, testConfig())
	seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	userID := stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")
	first := env.notifier.lastCode()

	env.clock.Advance(2 * time.Minute)

	ttl, err := env.engine.ResendStepUp(context.Background(), userID)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected positive TTL, got %d", ttl)
	}
	second := env.notifier.lastCode()

	if first == second {
		t.Skip("identical codes generated; cannot distinguish old from new")
	}

	// Only the most recent code verifies.
	_, err = env.engine.VerifyStepUp(context.Background(), userID, first)
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("old code: expected ErrInvalidOrExpiredCode, got %v", err)
	}
	if _, err := env.engine.VerifyStepUp(context.Background(), userID, second); err != nil {
		t.Fatalf("new code failed: %v", err)
	}
}

func TestResendStepUp_RequiresTwoFactor(t *testing.T) {
	env := newTestEngine(t, testConfig())
	userID := seedStaff(t, env, "nurse@ward.test", "correct-horse-9")

	_, err := env.engine.ResendStepUp(context.Background(), userID)
	if !errors.Is(err, ErrTwoFactorState) {
		t.Fatalf("expected ErrTwoFactorState, got %v", err)
	}
}

func TestVerifyStepUp_InactiveAccount(t *testing.T) {
	env := newTestEngine(t, testConfig())
	userID := seedStaff(t, env, "nurse@ward.test", "correct-horse-9", withTwoFactor)

	stepUpLogin(t, env, "nurse@ward.test", "correct-horse-9")
	code := env.notifier.lastCode()

	// Account deactivated between password and code verification.
	if err := env.creds.SetTwoFactor(context.Background(), userID, true); err != nil {
		t.Fatal(err)
	}
	cred := env.creds.get(userID)
	cred.Active = false
	env.creds.put(cred)

	_, err := env.engine.VerifyStepUp(context.Background(), userID, code)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}
