package staffauth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpKeyPrefix       = "soc" // staffauth one-time code
	otpRecordVersionV1 = 1
)

// otpRecord is the stored shape of one issued code. Only the SHA-256 of the
// code is kept; the plaintext exists solely in the notifier payload.
type otpRecord struct {
	CodeHash  [32]byte
	IssuedAt  int64
	ExpiresAt int64
	Consumed  bool
}

// otpStore keeps at most one live code per (user, purpose). Issuing a new
// code overwrites the previous record, which is how last-writer-wins
// invalidation is enforced: there is nothing else left to verify against.
//
// Records outlive their validity window by the configured retention so
// verification can report "expired" rather than "never existed" to the audit
// trail; Redis TTL garbage-collects them after that.
type otpStore struct {
	redis     *redis.Client
	retention time.Duration
}

func newOTPStore(redisClient *redis.Client, retention time.Duration) *otpStore {
	return &otpStore{redis: redisClient, retention: retention}
}

func (s *otpStore) key(userID string, purpose OTPPurpose) string {
	return otpKeyPrefix + ":" + string(purpose) + ":" + userID
}

// Put issues a code, replacing any prior code for the same user and purpose.
func (s *otpStore) Put(ctx context.Context, userID string, purpose OTPPurpose, codeHash [32]byte, ttl time.Duration) error {
	now := time.Now()
	record := &otpRecord{
		CodeHash:  codeHash,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}

	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(userID, purpose), encoded, ttl+s.retention).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// Consume verifies a submitted code and marks it consumed in the same
// optimistic transaction, so two concurrent submissions of the same code
// cannot both succeed. Failure modes come back as the internal code errors;
// callers collapse them before anything leaves the engine.
func (s *otpStore) Consume(ctx context.Context, userID string, purpose OTPPurpose, submittedHash [32]byte) error {
	const maxRetries = 4
	key := s.key(userID, purpose)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if record.Consumed {
				return errCodeConsumed
			}

			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				return errCodeExpired
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], submittedHash[:]) != 1 {
				return errCodeMismatch
			}

			record.Consumed = true
			updated, err := encodeOTPRecord(record)
			if err != nil {
				return err
			}

			// The consumed record is retained (not deleted) so a replay of
			// the same code reads back as "already consumed".
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, s.retention)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return errCodeNotFound
			case errors.Is(err, errCodeConsumed), errors.Is(err, errCodeExpired), errors.Is(err, errCodeMismatch):
				return err
			default:
				return storeErr(err)
			}
		}
		return nil
	}

	return errCodeNotFound
}

// Invalidate drops any code for the user and purpose. Used when the flow
// that issued the code completes through another path.
func (s *otpStore) Invalidate(ctx context.Context, userID string, purpose OTPPurpose) error {
	if err := s.redis.Del(ctx, s.key(userID, purpose)).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

func encodeOTPRecord(record *otpRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)

	var consumed byte
	if record.Consumed {
		consumed = 1
	}
	buf.WriteByte(consumed)

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*otpRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	consumed, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &otpRecord{Consumed: consumed == 1}

	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
