package credstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	staffauth "github.com/wardline/staffauth"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func sampleCredential() staffauth.StaffCredential {
	return staffauth.StaffCredential{
		UserID:       "u1",
		Email:        "nurse@ward.test",
		Role:         "nurse",
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		Active:       true,
	}
}

func TestSaveAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, sampleCredential()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	byID, err := store.GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Email != "nurse@ward.test" || byID.Role != "nurse" || !byID.Active {
		t.Fatalf("unexpected credential: %+v", byID)
	}
	if byID.TwoFactorEnabled || byID.FailedAttempts != 0 || byID.LockedUntil != nil || byID.LastLoginAt != nil {
		t.Fatalf("zero-state fields corrupted: %+v", byID)
	}

	byEmail, err := store.GetByEmail(ctx, "  NURSE@Ward.Test ")
	if err != nil {
		t.Fatalf("GetByEmail with unnormalized address: %v", err)
	}
	if byEmail.UserID != "u1" {
		t.Fatalf("email index resolved to %q", byEmail.UserID)
	}
}

func TestLookupMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "ghost"); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if _, err := store.GetByEmail(ctx, "ghost@ward.test"); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestUpdateLockoutRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, sampleCredential()); err != nil {
		t.Fatal(err)
	}

	until := time.Now().Add(30 * time.Minute).Truncate(time.Millisecond)
	if err := store.UpdateLockout(ctx, "u1", 5, &until); err != nil {
		t.Fatalf("UpdateLockout: %v", err)
	}

	cred, err := store.GetByID(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if cred.FailedAttempts != 5 {
		t.Fatalf("FailedAttempts = %d, want 5", cred.FailedAttempts)
	}
	if cred.LockedUntil == nil || !cred.LockedUntil.Equal(until) {
		t.Fatalf("LockedUntil = %v, want %v", cred.LockedUntil, until)
	}

	// Clearing the lockout writes the sentinel back to nil.
	if err := store.UpdateLockout(ctx, "u1", 0, nil); err != nil {
		t.Fatal(err)
	}
	cred, err = store.GetByID(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if cred.FailedAttempts != 0 || cred.LockedUntil != nil {
		t.Fatalf("lockout not cleared: %+v", cred)
	}
}

func TestPartialUpdatesAreIndependent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, sampleCredential()); err != nil {
		t.Fatal(err)
	}

	if err := store.SetTwoFactor(ctx, "u1", true); err != nil {
		t.Fatalf("SetTwoFactor: %v", err)
	}
	if err := store.UpdatePasswordHash(ctx, "u1", "new-hash"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	at := time.Now().Truncate(time.Millisecond)
	if err := store.RecordLastLogin(ctx, "u1", at); err != nil {
		t.Fatalf("RecordLastLogin: %v", err)
	}

	cred, err := store.GetByID(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !cred.TwoFactorEnabled || cred.PasswordHash != "new-hash" {
		t.Fatalf("updates lost: %+v", cred)
	}
	if cred.LastLoginAt == nil || !cred.LastLoginAt.Equal(at) {
		t.Fatalf("LastLoginAt = %v, want %v", cred.LastLoginAt, at)
	}
	if cred.Email != "nurse@ward.test" || cred.Role != "nurse" {
		t.Fatalf("untouched fields clobbered: %+v", cred)
	}
}

func TestUpdatesRefuseMissingCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpdatePasswordHash(ctx, "ghost", "hash"); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
	if err := store.SetTwoFactor(ctx, "ghost", true); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}

	// A rejected update must not leave behind a partial hash.
	if _, err := store.GetByID(ctx, "ghost"); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("partial credential resurrected: %v", err)
	}
}

func TestDeleteRemovesBothKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, sampleCredential()); err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetByID(ctx, "u1"); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("credential still readable: %v", err)
	}
	if _, err := store.GetByEmail(ctx, "nurse@ward.test"); !errors.Is(err, staffauth.ErrCredentialNotFound) {
		t.Fatalf("email index still resolves: %v", err)
	}
}

func TestSaveNormalizesEmailIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cred := sampleCredential()
	cred.Email = "  Nurse@WARD.test "
	if err := store.Save(ctx, cred); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetByEmail(ctx, "nurse@ward.test")
	if err != nil {
		t.Fatalf("normalized lookup failed: %v", err)
	}
	if got.Email != "nurse@ward.test" {
		t.Fatalf("stored email not normalized: %q", got.Email)
	}
}
