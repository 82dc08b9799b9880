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
	recoveryKeyPrefix       = "srt" // staffauth recovery token
	recoveryPtrPrefix       = "sru" // per-user pointer to the current token
	recoveryRecordVersionV1 = 1
)

var (
	errRecoveryNotFound    = errors.New("recovery record not found")
	errRecoveryMismatch    = errors.New("recovery secret mismatch")
	errRecoveryNotVerified = errors.New("recovery code not verified")
	errRecoveryUsed        = errors.New("recovery token already used")
)

// recoveryRecord tracks one recovery grant through its state machine:
// pending -> otp_verified -> used. The secret hash authenticates the bearer
// token; the state flags gate which transitions are legal.
type recoveryRecord struct {
	UserID      string
	SecretHash  [32]byte
	ExpiresAt   int64
	OTPVerified bool
	Used        bool
}

// recoveryStore keeps recovery tokens keyed by their public id, plus a
// per-user pointer to the current token so issuing a new one can invalidate
// the previous grant outright.
type recoveryStore struct {
	redis *redis.Client
}

func newRecoveryStore(redisClient *redis.Client) *recoveryStore {
	return &recoveryStore{redis: redisClient}
}

func (s *recoveryStore) key(id string) string { return recoveryKeyPrefix + ":" + id }

func (s *recoveryStore) ptrKey(userID string) string { return recoveryPtrPrefix + ":" + userID }

// Save stores a new recovery record and retires the user's previous one, if
// any. Two tokens for the same user are never simultaneously valid.
func (s *recoveryStore) Save(ctx context.Context, id string, record *recoveryRecord, ttl time.Duration) error {
	encoded, err := encodeRecoveryRecord(record)
	if err != nil {
		return err
	}

	prev, err := s.redis.GetSet(ctx, s.ptrKey(record.UserID), id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return storeErr(err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != id {
			pipe.Del(ctx, s.key(prev))
		}
		pipe.Set(ctx, s.key(id), encoded, ttl)
		pipe.Expire(ctx, s.ptrKey(record.UserID), ttl)
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// MarkVerified transitions pending -> otp_verified after the co-located code
// has been consumed. Returns the record so the caller knows which user the
// grant belongs to.
func (s *recoveryStore) MarkVerified(ctx context.Context, id string, secretHash [32]byte) (*recoveryRecord, error) {
	return s.transition(ctx, id, secretHash, func(record *recoveryRecord) error {
		if record.Used {
			return errRecoveryUsed
		}
		record.OTPVerified = true
		return nil
	})
}

// Consume transitions otp_verified -> used. A token that skipped code
// verification is rejected; a token already used is rejected.
func (s *recoveryStore) Consume(ctx context.Context, id string, secretHash [32]byte) (*recoveryRecord, error) {
	return s.transition(ctx, id, secretHash, func(record *recoveryRecord) error {
		if record.Used {
			return errRecoveryUsed
		}
		if !record.OTPVerified {
			return errRecoveryNotVerified
		}
		record.Used = true
		return nil
	})
}

// Get loads a live record without authenticating or mutating it. Engine
// code paths that only need the owner (e.g. locating the co-located code)
// still pass the secret hash through MarkVerified or Consume.
func (s *recoveryStore) Get(ctx context.Context, id string) (*recoveryRecord, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errRecoveryNotFound
		}
		return nil, storeErr(err)
	}

	record, err := decodeRecoveryRecord(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		return nil, errRecoveryNotFound
	}
	return record, nil
}

func (s *recoveryStore) transition(
	ctx context.Context,
	id string,
	secretHash [32]byte,
	apply func(*recoveryRecord) error,
) (*recoveryRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var out *recoveryRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRecoveryRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				return errRecoveryNotFound
			}
			if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
				return errRecoveryMismatch
			}
			if err := apply(record); err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				return errRecoveryNotFound
			}

			updated, err := encodeRecoveryRecord(record)
			if err != nil {
				return err
			}

			// Used records are kept until natural expiry; the flag, not
			// deletion, is what blocks replay.
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}

			out = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errRecoveryNotFound
			case errors.Is(err, errRecoveryNotFound),
				errors.Is(err, errRecoveryMismatch),
				errors.Is(err, errRecoveryNotVerified),
				errors.Is(err, errRecoveryUsed):
				return nil, err
			default:
				return nil, storeErr(err)
			}
		}
		return out, nil
	}

	return nil, errRecoveryNotFound
}

func encodeRecoveryRecord(record *recoveryRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recoveryRecordVersionV1)

	var flags byte
	if record.OTPVerified {
		flags |= 1
	}
	if record.Used {
		flags |= 2
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("recovery record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeRecoveryRecord(data []byte) (*recoveryRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recoveryRecordVersionV1 {
		return nil, errors.New("invalid recovery record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &recoveryRecord{
		OTPVerified: flags&1 != 0,
		Used:        flags&2 != 0,
	}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}

	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
