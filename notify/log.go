package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/wardline/staffauth"
)

// LogNotifier writes codes to the log instead of delivering them. For
// development and tests only.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Deliver(_ context.Context, n staffauth.CodeNotification) error {
	l.logger.Info("one-time code issued",
		zap.String("email", n.Email),
		zap.String("purpose", string(n.Purpose)),
		zap.String("code", n.Code),
		zap.Duration("expires_in", n.ExpiresIn),
	)
	return nil
}

func (l *LogNotifier) ConfirmPasswordChange(_ context.Context, email string) error {
	l.logger.Info("password changed", zap.String("email", email))
	return nil
}
