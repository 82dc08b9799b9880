package staffauth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CodeNotification is one code delivery request. The plaintext code exists
// only here and in the transport below it; nothing in the engine's stores
// ever holds it.
type CodeNotification struct {
	Email     string
	Code      string
	Purpose   OTPPurpose
	ExpiresIn time.Duration
}

// Notifier delivers one-time codes out of band. Implementations must honor
// ctx cancellation; the engine bounds every delivery with the configured
// timeout.
type Notifier interface {
	Deliver(ctx context.Context, n CodeNotification) error
}

// PasswordChangeConfirmer is an optional Notifier capability. After a
// completed password reset the engine sends a best-effort confirmation
// through it; a failure is logged and never fails the reset.
type PasswordChangeConfirmer interface {
	ConfirmPasswordChange(ctx context.Context, email string) error
}

// confirmPasswordChange notifies the account owner that their password was
// just changed. Best effort on every path: missing capability, lookup
// failure and delivery failure are all non-fatal.
func (e *Engine) confirmPasswordChange(ctx context.Context, userID string) {
	confirmer, ok := e.notifier.(PasswordChangeConfirmer)
	if !ok {
		return
	}

	cred, err := e.credentials.GetByID(ctx, userID)
	if err != nil {
		e.logger.Warn("password change confirmation skipped, credential lookup failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, e.config.Notifier.Timeout)
	defer cancel()
	if err := confirmer.ConfirmPasswordChange(cctx, cred.Email); err != nil {
		e.metricInc(MetricNotifierFailure)
		e.logger.Warn("password change confirmation failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

// deliverCode runs a notification under the configured timeout. Delivery
// failure after state is committed must not roll the flow back: the code
// stays valid either way. In production a synchronous failure aborts with
// ErrNotifierUnavailable so the caller can surface it; outside production
// the failure is logged and the code is echoed to the log so development
// setups work without a mail server.
func (e *Engine) deliverCode(ctx context.Context, n CodeNotification) error {
	dctx, cancel := context.WithTimeout(ctx, e.config.Notifier.Timeout)
	defer cancel()

	err := e.notifier.Deliver(dctx, n)
	if err == nil {
		return nil
	}

	e.metricInc(MetricNotifierFailure)

	if e.config.Production {
		e.logger.Error("code delivery failed",
			zap.String("purpose", string(n.Purpose)),
			zap.Error(err),
		)
		return ErrNotifierUnavailable
	}

	e.logger.Warn("code delivery failed, echoing code to log",
		zap.String("purpose", string(n.Purpose)),
		zap.String("email", n.Email),
		zap.String("code", n.Code),
		zap.Error(err),
	)
	return nil
}
