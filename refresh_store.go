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
	refreshKeyPrefix       = "srf" // staffauth refresh token
	refreshSetPrefix       = "sfu" // per-user id set, drives RevokeAll
	refreshRecordVersionV1 = 1
)

var (
	errRefreshNotFound = errors.New("refresh record not found")
	errRefreshMismatch = errors.New("refresh secret mismatch")
	errRefreshRevoked  = errors.New("refresh token revoked")
	errRefreshExpired  = errors.New("refresh token expired")
)

// refreshRecord is one long-lived session grant. Tokens are not rotated on
// use; LastUsedAt moves forward but identity and expiry are fixed at issue
// time. Revoked records stay in the store until natural expiry so the audit
// trail can see when and where a session ended.
type refreshRecord struct {
	UserID     string
	SecretHash [32]byte
	CreatedAt  int64
	ExpiresAt  int64
	LastUsedAt int64
	Revoked    bool
	Device     string // user agent at issue time
	Origin     string // client address at issue time
}

type refreshStore struct {
	redis *redis.Client
}

func newRefreshStore(redisClient *redis.Client) *refreshStore {
	return &refreshStore{redis: redisClient}
}

func (s *refreshStore) key(id string) string { return refreshKeyPrefix + ":" + id }

func (s *refreshStore) setKey(userID string) string { return refreshSetPrefix + ":" + userID }

// Save stores a freshly issued record and registers it in the user's id set.
func (s *refreshStore) Save(ctx context.Context, id string, record *refreshRecord, ttl time.Duration) error {
	encoded, err := encodeRefreshRecord(record)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), encoded, ttl)
		pipe.SAdd(ctx, s.setKey(record.UserID), id)
		pipe.Expire(ctx, s.setKey(record.UserID), ttl)
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// Validate authenticates a presented token and advances its LastUsedAt.
// The record TTL is left untouched: usage does not extend a session's life.
func (s *refreshStore) Validate(ctx context.Context, id string, secretHash [32]byte) (*refreshRecord, error) {
	const maxRetries = 4
	key := s.key(id)

	for i := 0; i < maxRetries; i++ {
		var out *refreshRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeRefreshRecord(data)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
				return errRefreshMismatch
			}
			if record.Revoked {
				return errRefreshRevoked
			}
			now := time.Now()
			if now.Unix() > record.ExpiresAt {
				return errRefreshExpired
			}

			record.LastUsedAt = now.Unix()
			updated, err := encodeRefreshRecord(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
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
				return nil, errRefreshNotFound
			case errors.Is(err, errRefreshMismatch),
				errors.Is(err, errRefreshRevoked),
				errors.Is(err, errRefreshExpired):
				return nil, err
			default:
				return nil, storeErr(err)
			}
		}
		return out, nil
	}

	return nil, errRefreshNotFound
}

// Revoke marks a token revoked. Revoking an unknown, expired or
// already-revoked token is not an error: logout must be idempotent.
func (s *refreshStore) Revoke(ctx context.Context, id string, secretHash [32]byte) error {
	key := s.key(id)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return storeErr(err)
	}

	record, err := decodeRefreshRecord(data)
	if err != nil {
		return nil
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], secretHash[:]) != 1 {
		// Wrong bearer; treat as unknown rather than leaking existence.
		return nil
	}
	if record.Revoked {
		return nil
	}

	record.Revoked = true
	return s.overwrite(ctx, key, record)
}

// RevokeAll marks every live token of a user revoked and reports how many
// were affected.
func (s *refreshStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.setKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, storeErr(err)
	}

	revoked := 0
	for _, id := range ids {
		key := s.key(id)
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				s.redis.SRem(ctx, s.setKey(userID), id)
				continue
			}
			return revoked, storeErr(err)
		}

		record, err := decodeRefreshRecord(data)
		if err != nil || record.Revoked {
			continue
		}

		record.Revoked = true
		if err := s.overwrite(ctx, key, record); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

func (s *refreshStore) overwrite(ctx context.Context, key string, record *refreshRecord) error {
	encoded, err := encodeRefreshRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, encoded, redis.KeepTTL).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

func encodeRefreshRecord(record *refreshRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(refreshRecordVersionV1)

	var flags byte
	if record.Revoked {
		flags |= 1
	}
	buf.WriteByte(flags)

	for _, v := range []int64{record.CreatedAt, record.ExpiresAt, record.LastUsedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	for _, s := range []string{record.UserID, record.Device, record.Origin} {
		if len(s) > 65535 {
			return nil, errors.New("refresh record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeRefreshRecord(data []byte) (*refreshRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != refreshRecordVersionV1 {
		return nil, errors.New("invalid refresh record version")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &refreshRecord{Revoked: flags&1 != 0}

	for _, dst := range []*int64{&record.CreatedAt, &record.ExpiresAt, &record.LastUsedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}

	for _, dst := range []*string{&record.UserID, &record.Device, &record.Origin} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return nil, err
		}
		*dst = string(b)
	}

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
