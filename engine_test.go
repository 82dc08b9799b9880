package staffauth

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wardline/staffauth/password"
)

// newTestRedis starts an in-process Redis and returns a client bound to it.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// memCredentialStore is an in-memory CredentialStore for tests.
type memCredentialStore struct {
	mu      sync.Mutex
	creds   map[string]StaffCredential
	byEmail map[string]string
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{
		creds:   make(map[string]StaffCredential),
		byEmail: make(map[string]string),
	}
}

func (s *memCredentialStore) put(cred StaffCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.UserID] = cred
	s.byEmail[NormalizeEmail(cred.Email)] = cred.UserID
}

func (s *memCredentialStore) get(userID string) StaffCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[userID]
}

func (s *memCredentialStore) GetByEmail(_ context.Context, email string) (StaffCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return StaffCredential{}, ErrCredentialNotFound
	}
	return s.creds[id], nil
}

func (s *memCredentialStore) GetByID(_ context.Context, userID string) (StaffCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return StaffCredential{}, ErrCredentialNotFound
	}
	return cred, nil
}

func (s *memCredentialStore) UpdateLockout(_ context.Context, userID string, failedAttempts int, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.FailedAttempts = failedAttempts
	cred.LockedUntil = until
	s.creds[userID] = cred
	return nil
}

func (s *memCredentialStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.PasswordHash = newHash
	s.creds[userID] = cred
	return nil
}

func (s *memCredentialStore) SetTwoFactor(_ context.Context, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.TwoFactorEnabled = enabled
	s.creds[userID] = cred
	return nil
}

func (s *memCredentialStore) RecordLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.LastLoginAt = &at
	s.creds[userID] = cred
	return nil
}

// recordingNotifier captures delivered codes; fail makes every delivery
// return that error.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []CodeNotification
	fail error
}

func (n *recordingNotifier) Deliver(_ context.Context, note CodeNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) lastCode() string {
	return n.lastNote().Code
}

func (n *recordingNotifier) lastNote() CodeNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return CodeNotification{}
	}
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) setFail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

// testClock drives the rate limiter and lockout gate in tests. Store TTLs
// still run on the real clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testConfig trades cost for speed: light argon2 parameters and permissive
// rate limits. Tests that exercise a specific budget tighten it themselves.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Password.MinLength = 8
	cfg.Lockout.Threshold = 3
	cfg.RateLimit.OriginMax = 100
	cfg.RateLimit.HourlyMax = 100
	cfg.RateLimit.DailyMax = 200
	return cfg
}

type testEnv struct {
	engine   *Engine
	creds    *memCredentialStore
	notifier *recordingNotifier
	clock    *testClock
	redis    *redis.Client
}

func newTestEngine(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	client := newTestRedis(t)
	creds := newMemCredentialStore()
	notifier := &recordingNotifier{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(creds).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	clock := newTestClock()
	engine.rateLimiter.now = clock.Now
	engine.lockout.now = clock.Now

	return &testEnv{engine: engine, creds: creds, notifier: notifier, clock: clock, redis: client}
}

var (
	testHasherOnce sync.Once
	testHasher     *password.Argon2
)

func hashForTest(t *testing.T, plaintext string) string {
	t.Helper()
	testHasherOnce.Do(func() {
		h, err := password.NewArgon2(password.Config{
			Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
		})
		if err != nil {
			panic(err)
		}
		testHasher = h
	})
	hash, err := testHasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

var seedCounter int

// seedStaff creates an active credential and returns its user ID.
func seedStaff(t *testing.T, env *testEnv, email, plaintext string, mutate ...func(*StaffCredential)) string {
	t.Helper()
	seedCounter++
	cred := StaffCredential{
		UserID:       fmt.Sprintf("u%d", seedCounter),
		Email:        NormalizeEmail(email),
		Role:         "nurse",
		PasswordHash: hashForTest(t, plaintext),
		Active:       true,
	}
	for _, m := range mutate {
		m(&cred)
	}
	env.creds.put(cred)
	return cred.UserID
}

// newWeakHash produces a valid hash under parameters that differ from the
// test engine's, so NeedsUpgrade reports true for it.
func newWeakHash(plaintext string) (string, error) {
	h, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		return "", err
	}
	return h.Hash(plaintext)
}

func withTwoFactor(cred *StaffCredential) { cred.TwoFactorEnabled = true }

func withInactive(cred *StaffCredential) { cred.Active = false }
