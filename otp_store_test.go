package staffauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wardline/staffauth/internal"
)

func TestOTPStore_ConsumeOnce(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)
	ctx := context.Background()

	hash := internal.HashBytes([]byte("482913"))
	if err := store.Put(ctx, "u1", PurposeLogin, hash, 5*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	if err := store.Consume(ctx, "u1", PurposeLogin, hash); err != nil {
		t.Fatalf("first consume failed: %v", err)
	}

	// A replay reads back as consumed, not as missing.
	err := store.Consume(ctx, "u1", PurposeLogin, hash)
	if !errors.Is(err, errCodeConsumed) {
		t.Fatalf("expected errCodeConsumed, got %v", err)
	}
}

func TestOTPStore_Mismatch(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)
	ctx := context.Background()

	if err := store.Put(ctx, "u1", PurposeLogin, internal.HashBytes([]byte("482913")), 5*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	err := store.Consume(ctx, "u1", PurposeLogin, internal.HashBytes([]byte("000000")))
	if !errors.Is(err, errCodeMismatch) {
		t.Fatalf("expected errCodeMismatch, got %v", err)
	}

	// A mismatch does not burn the stored code.
	if err := store.Consume(ctx, "u1", PurposeLogin, internal.HashBytes([]byte("482913"))); err != nil {
		t.Fatalf("consume after mismatch failed: %v", err)
	}
}

func TestOTPStore_NotFound(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)

	err := store.Consume(context.Background(), "u1", PurposeLogin, internal.HashBytes([]byte("482913")))
	if !errors.Is(err, errCodeNotFound) {
		t.Fatalf("expected errCodeNotFound, got %v", err)
	}
}

func TestOTPStore_Expired(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)
	ctx := context.Background()

	hash := internal.HashBytes([]byte("482913"))
	// Already past its validity window but inside the retention window.
	if err := store.Put(ctx, "u1", PurposeLogin, hash, -2*time.Second); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	err := store.Consume(ctx, "u1", PurposeLogin, hash)
	if !errors.Is(err, errCodeExpired) {
		t.Fatalf("expected errCodeExpired, got %v", err)
	}
}

func TestOTPStore_NewCodeReplacesOld(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)
	ctx := context.Background()

	first := internal.HashBytes([]byte("111111"))
	second := internal.HashBytes([]byte("222222"))

	if err := store.Put(ctx, "u1", PurposeLogin, first, 5*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Put(ctx, "u1", PurposeLogin, second, 5*time.Minute); err != nil {
		t.Fatalf("second put failed: %v", err)
	}

	if err := store.Consume(ctx, "u1", PurposeLogin, first); !errors.Is(err, errCodeMismatch) {
		t.Fatalf("replaced code: expected errCodeMismatch, got %v", err)
	}
	if err := store.Consume(ctx, "u1", PurposeLogin, second); err != nil {
		t.Fatalf("current code failed: %v", err)
	}
}

func TestOTPStore_PurposesAreIsolated(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)
	ctx := context.Background()

	hash := internal.HashBytes([]byte("482913"))
	if err := store.Put(ctx, "u1", PurposeLogin, hash, 5*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	// A login code never verifies under the recovery purpose.
	err := store.Consume(ctx, "u1", PurposeRecovery, hash)
	if !errors.Is(err, errCodeNotFound) {
		t.Fatalf("expected errCodeNotFound, got %v", err)
	}
}

func TestOTPStore_Invalidate(t *testing.T) {
	store := newOTPStore(newTestRedis(t), time.Hour)
	ctx := context.Background()

	hash := internal.HashBytes([]byte("482913"))
	if err := store.Put(ctx, "u1", PurposeLogin, hash, 5*time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Invalidate(ctx, "u1", PurposeLogin); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	if err := store.Consume(ctx, "u1", PurposeLogin, hash); !errors.Is(err, errCodeNotFound) {
		t.Fatalf("expected errCodeNotFound, got %v", err)
	}
}
