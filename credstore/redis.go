// Package credstore ships a Redis-backed CredentialStore for deployments
// that have no staff directory of their own, plus the seed helpers the
// daemon's provisioning command uses. Hosts with an existing directory
// implement staffauth.CredentialStore over it instead.
package credstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	staffauth "github.com/wardline/staffauth"
)

const (
	credKeyPrefix  = "scr:"  // scr:{userID} -> hash of credential fields
	emailKeyPrefix = "scre:" // scre:{email} -> userID
)

// RedisStore keeps each credential in a hash keyed by user ID with a
// separate email index. Field updates touch only the fields they own, so
// concurrent updates to different fields do not clobber each other.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func credKey(userID string) string { return credKeyPrefix + userID }

func emailKey(email string) string { return emailKeyPrefix + staffauth.NormalizeEmail(email) }

// Save writes the full credential and its email index. Used for
// provisioning; the engine itself never creates credentials.
func (s *RedisStore) Save(ctx context.Context, cred staffauth.StaffCredential) error {
	fields := map[string]any{
		"user_id":          cred.UserID,
		"email":            staffauth.NormalizeEmail(cred.Email),
		"role":             cred.Role,
		"password_hash":    cred.PasswordHash,
		"active":           boolField(cred.Active),
		"two_factor":       boolField(cred.TwoFactorEnabled),
		"failed_attempts":  strconv.Itoa(cred.FailedAttempts),
		"locked_until_ms":  timeField(cred.LockedUntil),
		"last_login_at_ms": timeField(cred.LastLoginAt),
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, credKey(cred.UserID), fields)
		pipe.Set(ctx, emailKey(cred.Email), cred.UserID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Delete removes a credential and its email index.
func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	cred, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, credKey(userID))
		pipe.Del(ctx, emailKey(cred.Email))
		return nil
	})
	return err
}

func (s *RedisStore) GetByEmail(ctx context.Context, email string) (staffauth.StaffCredential, error) {
	userID, err := s.client.Get(ctx, emailKey(email)).Result()
	if err == redis.Nil {
		return staffauth.StaffCredential{}, staffauth.ErrCredentialNotFound
	}
	if err != nil {
		return staffauth.StaffCredential{}, fmt.Errorf("email index lookup: %w", err)
	}
	return s.GetByID(ctx, userID)
}

func (s *RedisStore) GetByID(ctx context.Context, userID string) (staffauth.StaffCredential, error) {
	fields, err := s.client.HGetAll(ctx, credKey(userID)).Result()
	if err != nil {
		return staffauth.StaffCredential{}, fmt.Errorf("credential lookup: %w", err)
	}
	if len(fields) == 0 {
		return staffauth.StaffCredential{}, staffauth.ErrCredentialNotFound
	}
	return decodeCredential(fields)
}

func (s *RedisStore) UpdateLockout(ctx context.Context, userID string, failedAttempts int, until *time.Time) error {
	return s.setFields(ctx, userID, map[string]any{
		"failed_attempts": strconv.Itoa(failedAttempts),
		"locked_until_ms": timeField(until),
	})
}

func (s *RedisStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return s.setFields(ctx, userID, map[string]any{"password_hash": newHash})
}

func (s *RedisStore) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	return s.setFields(ctx, userID, map[string]any{"two_factor": boolField(enabled)})
}

func (s *RedisStore) RecordLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.setFields(ctx, userID, map[string]any{"last_login_at_ms": strconv.FormatInt(at.UnixMilli(), 10)})
}

// setFields updates a subset of fields, refusing to resurrect a deleted
// credential as a partial hash.
func (s *RedisStore) setFields(ctx context.Context, userID string, fields map[string]any) error {
	key := credKey(userID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("credential exists check: %w", err)
	}
	if exists == 0 {
		return staffauth.ErrCredentialNotFound
	}

	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("credential update: %w", err)
	}
	return nil
}

func decodeCredential(fields map[string]string) (staffauth.StaffCredential, error) {
	cred := staffauth.StaffCredential{
		UserID:           fields["user_id"],
		Email:            fields["email"],
		Role:             fields["role"],
		PasswordHash:     fields["password_hash"],
		Active:           fields["active"] == "1",
		TwoFactorEnabled: fields["two_factor"] == "1",
	}

	if v := fields["failed_attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return staffauth.StaffCredential{}, fmt.Errorf("corrupt failed_attempts %q", v)
		}
		cred.FailedAttempts = n
	}

	var err error
	if cred.LockedUntil, err = parseTimeField(fields["locked_until_ms"]); err != nil {
		return staffauth.StaffCredential{}, err
	}
	if cred.LastLoginAt, err = parseTimeField(fields["last_login_at_ms"]); err != nil {
		return staffauth.StaffCredential{}, err
	}

	return cred, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeField(t *time.Time) string {
	if t == nil {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTimeField(v string) (*time.Time, error) {
	if v == "" || v == "0" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt time field %q", v)
	}
	t := time.UnixMilli(ms)
	return &t, nil
}
