package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	staffauth "github.com/wardline/staffauth"
	"github.com/wardline/staffauth/password"
)

// memStore is an in-memory CredentialStore for handler tests.
type memStore struct {
	mu      sync.Mutex
	creds   map[string]staffauth.StaffCredential
	byEmail map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		creds:   make(map[string]staffauth.StaffCredential),
		byEmail: make(map[string]string),
	}
}

func (s *memStore) put(cred staffauth.StaffCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.UserID] = cred
	s.byEmail[staffauth.NormalizeEmail(cred.Email)] = cred.UserID
}

func (s *memStore) GetByEmail(_ context.Context, email string) (staffauth.StaffCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[staffauth.NormalizeEmail(email)]
	if !ok {
		return staffauth.StaffCredential{}, staffauth.ErrCredentialNotFound
	}
	return s.creds[id], nil
}

func (s *memStore) GetByID(_ context.Context, userID string) (staffauth.StaffCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return staffauth.StaffCredential{}, staffauth.ErrCredentialNotFound
	}
	return cred, nil
}

func (s *memStore) UpdateLockout(_ context.Context, userID string, failedAttempts int, until *time.Time) error {
	return s.update(userID, func(c *staffauth.StaffCredential) {
		c.FailedAttempts = failedAttempts
		c.LockedUntil = until
	})
}

func (s *memStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return s.update(userID, func(c *staffauth.StaffCredential) { c.PasswordHash = newHash })
}

func (s *memStore) SetTwoFactor(_ context.Context, userID string, enabled bool) error {
	return s.update(userID, func(c *staffauth.StaffCredential) { c.TwoFactorEnabled = enabled })
}

func (s *memStore) RecordLastLogin(_ context.Context, userID string, at time.Time) error {
	return s.update(userID, func(c *staffauth.StaffCredential) { c.LastLoginAt = &at })
}

func (s *memStore) update(userID string, mutate func(*staffauth.StaffCredential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[userID]
	if !ok {
		return staffauth.ErrCredentialNotFound
	}
	mutate(&cred)
	s.creds[userID] = cred
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []staffauth.CodeNotification
}

func (n *captureNotifier) Deliver(_ context.Context, note staffauth.CodeNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1].Code
}

type testServer struct {
	srv      *Server
	handler  http.Handler
	store    *memStore
	notifier *captureNotifier
	hasher   *password.Argon2
	seq      int
}

// newTestServer builds a server over miniredis. Without an override it runs
// as an API deployment (refresh token echoed in bodies); pass Options to
// exercise the browser defaults.
func newTestServer(t *testing.T, opts ...Options) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := staffauth.DefaultConfig()
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

	store := newMemStore()
	notifier := &captureNotifier{}

	engine, err := staffauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithNotifier(notifier).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	hasher, err := password.NewArgon2(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	require.NoError(t, err)

	serverOpts := Options{RefreshTokenInBody: true}
	if len(opts) > 0 {
		serverOpts = opts[0]
	}
	srv := NewServer(engine, serverOpts)
	return &testServer{
		srv:      srv,
		handler:  srv.Router(),
		store:    store,
		notifier: notifier,
		hasher:   hasher,
	}
}

func (ts *testServer) seed(t *testing.T, email, plaintext string, mutate ...func(*staffauth.StaffCredential)) string {
	t.Helper()
	hash, err := ts.hasher.Hash(plaintext)
	require.NoError(t, err)

	ts.seq++
	cred := staffauth.StaffCredential{
		UserID:       "u" + strconv.Itoa(ts.seq),
		Email:        staffauth.NormalizeEmail(email),
		Role:         "nurse",
		PasswordHash: hash,
		Active:       true,
	}
	for _, m := range mutate {
		m(&cred)
	}
	ts.store.put(cred)
	return cred.UserID
}

// do performs one request against the router. Cookies are passed through
// verbatim; helpers below extract them from responses.
func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// doRaw sends a raw string body, for malformed-JSON cases.
func (ts *testServer) doRaw(t *testing.T, path, raw string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doAuthed(t *testing.T, method, path, accessToken string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}

// login performs a full password login and returns the parsed body.
func (ts *testServer) login(t *testing.T, email, pwd string) map[string]any {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": pwd})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}
