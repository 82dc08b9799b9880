package staffauth

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/wardline/staffauth/internal"
)

// issueCode is the single path every code issuance goes through: rate
// limits first, then generate, persist (overwriting any prior code for the
// purpose), record the issuance in the ledger, and deliver. The identity
// budget is always accounted against the credential's email, so requests
// arriving with a user ID share the same budget as requests by address.
//
// The ledger entry is written before delivery: a code that failed to send
// still consumed the budget, otherwise a broken notifier would let a caller
// hammer the issuance path for free.
func (e *Engine) issueCode(
	ctx context.Context,
	cred StaffCredential,
	purpose OTPPurpose,
	endpoint string,
) (time.Duration, error) {
	if err := e.checkIssueBudget(ctx, cred); err != nil {
		return 0, err
	}
	return e.mintAndDeliver(ctx, cred, purpose, endpoint)
}

// checkIssueBudget runs both rate-limit layers without creating any state.
// A denied request leaves no token, no code and no ledger entry behind.
func (e *Engine) checkIssueBudget(ctx context.Context, cred StaffCredential) error {
	if err := e.rateLimiter.CheckOrigin(ctx, clientIPFromContext(ctx)); err != nil {
		if rateLimited(err) {
			e.emitRateLimit(ctx, rateLimitScope(err), cred.Email, cred.UserID)
		}
		return err
	}
	if err := e.rateLimiter.CheckIdentity(ctx, ByEmail(cred.Email)); err != nil {
		if rateLimited(err) {
			e.emitRateLimit(ctx, rateLimitScope(err), cred.Email, cred.UserID)
		}
		return err
	}
	return nil
}

// mintAndDeliver generates, persists, ledgers and sends a code. Callers must
// have passed checkIssueBudget first.
func (e *Engine) mintAndDeliver(
	ctx context.Context,
	cred StaffCredential,
	purpose OTPPurpose,
	endpoint string,
) (time.Duration, error) {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return 0, storeErr(err)
	}

	ttl := e.config.OTP.LoginTTL
	if purpose == PurposeRecovery {
		ttl = e.config.OTP.RecoveryTTL
	}

	if err := e.otpStore.Put(ctx, cred.UserID, purpose, internal.HashBytes([]byte(code)), ttl); err != nil {
		return 0, err
	}
	if err := e.rateLimiter.RecordIssue(ctx, ByEmail(cred.Email), clientIPFromContext(ctx), endpoint); err != nil {
		return 0, err
	}
	e.metricInc(MetricCodeIssued)

	if err := e.deliverCode(ctx, CodeNotification{
		Email:     cred.Email,
		Code:      code,
		Purpose:   purpose,
		ExpiresIn: ttl,
	}); err != nil {
		return 0, err
	}

	return ttl, nil
}

// consumeCode verifies and consumes a code, collapsing every internal
// failure to ErrInvalidOrExpiredCode while keeping the distinct reason for
// the caller's audit record. Submitted codes are normalized first: codes
// arrive copied out of emails, so surrounding and internal whitespace is
// stripped; anything that then isn't exactly the configured digit count
// never reaches the store.
func (e *Engine) consumeCode(ctx context.Context, userID string, purpose OTPPurpose, code string) (internalReason error, err error) {
	code, ok := normalizeCode(code, e.config.OTP.Digits)
	if !ok {
		return errCodeMalformed, ErrInvalidOrExpiredCode
	}

	storeFailure := e.otpStore.Consume(ctx, userID, purpose, internal.HashBytes([]byte(code)))
	if storeFailure == nil {
		return nil, nil
	}
	if errors.Is(storeFailure, ErrStoreUnavailable) {
		return storeFailure, storeFailure
	}

	switch {
	case errors.Is(storeFailure, errCodeExpired):
		e.metricInc(MetricCodeExpired)
	case errors.Is(storeFailure, errCodeConsumed):
		e.metricInc(MetricCodeReplay)
	}
	return storeFailure, ErrInvalidOrExpiredCode
}

// normalizeCode strips all whitespace from a submitted code and reports
// whether the remainder is exactly the expected count of ASCII digits.
func normalizeCode(code string, digits int) (string, bool) {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	code = b.String()

	if len(code) != digits {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", false
		}
	}
	return code, true
}

func rateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func rateLimitScope(err error) string {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Scope
	}
	return "unknown"
}
