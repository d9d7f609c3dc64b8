package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "Correct-Horse-42"
)

type memUsers struct {
	mu     sync.Mutex
	byID   map[string]UserRecord
	getErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]UserRecord{}}
}

func (m *memUsers) put(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.UserID] = u
}

func (m *memUsers) get(id string) UserRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return UserRecord{}, m.getErr
	}
	u, ok := m.byID[id]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	events []SecurityEvent
	fail   bool
}

func (m *memAudit) Record(_ context.Context, ev SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("audit store down")
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memAudit) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *memAudit) count(a Action) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Action == a {
			n++
		}
	}
	return n
}

func (m *memAudit) last(a Action) (SecurityEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Action == a {
			return m.events[i], true
		}
	}
	return SecurityEvent{}, false
}

type otpOutbox struct {
	mu   sync.Mutex
	msgs []OTPMessage
	err  error
}

func (o *otpOutbox) SendOTP(_ context.Context, msg OTPMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *otpOutbox) lastCode(t testing.TB) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.msgs) == 0 {
		t.Fatalf("no otp sent")
	}
	return o.msgs[len(o.msgs)-1].Code
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine *Engine
	users  *memUsers
	audit  *memAudit
	otp    *otpOutbox
	clock  *testClock
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func testConfig(t testing.TB) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newHarness(t testing.TB, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWithAlerts(t, mutate, nil)
}

func newHarnessWithAlerts(t testing.TB, mutate func(*Config), sink AlertSink) *harness {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		users: newMemUsers(),
		audit: &memAudit{},
		otp:   &otpOutbox{},
		clock: &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		mr:    mr,
		rdb:   rdb,
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(h.users).
		WithAuditLog(h.audit).
		WithOTPSender(h.otp).
		WithClock(h.clock.Now)
	if sink != nil {
		b = b.WithAlertSink(sink)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine

	h.addUser(t, UserRecord{UserID: "u-alice", Email: testEmail, Roles: []string{"user"}}, testPassword)
	return h
}

func (h *harness) addUser(t testing.TB, u UserRecord, pw string) {
	t.Helper()
	hasher, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u.PasswordHash = hash
	h.users.put(u)
}

func (h *harness) login(t testing.TB) *TokenPair {
	t.Helper()
	res, err := h.engine.Login(context.Background(), testEmail, testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.MFARequired {
		t.Fatalf("unexpected mfa requirement")
	}
	pair := res.TokenPair
	return &pair
}
