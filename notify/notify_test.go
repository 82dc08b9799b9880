package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wardline/staffauth"
)

func TestLogNotifier_DeliverWritesCodeFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLog(zap.New(core))

	err := n.Deliver(context.Background(), staffauth.CodeNotification{
		Email:     "nurse@ward.test",
		Code:      "257001",
		Purpose:   staffauth.PurposeLogin,
		ExpiresIn: 5 * time.Minute,
	})
	require.NoError(t, err)

	entries := logs.FilterMessage("one-time code issued").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "nurse@ward.test", fields["email"])
	assert.Equal(t, "257001", fields["code"])
}

func TestLogNotifier_ConfirmPasswordChange(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLog(zap.New(core))

	require.NoError(t, n.ConfirmPasswordChange(context.Background(), "nurse@ward.test"))

	entries := logs.FilterMessage("password changed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "nurse@ward.test", entries[0].ContextMap()["email"])
}

func TestLogNotifier_NilLoggerIsSafe(t *testing.T) {
	n := NewLog(nil)
	require.NoError(t, n.Deliver(context.Background(), staffauth.CodeNotification{Email: "a@b.c"}))
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "Password recovery code", subjectFor(staffauth.PurposeRecovery))
	assert.Equal(t, "Your sign-in code", subjectFor(staffauth.PurposeLogin))
}

func TestSMTPNotifier_UnreachableHostFails(t *testing.T) {
	n := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "auth@ward.test"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := n.Deliver(ctx, staffauth.CodeNotification{
		Email:   "nurse@ward.test",
		Code:    "257001",
		Purpose: staffauth.PurposeLogin,
	})
	require.Error(t, err)
}
