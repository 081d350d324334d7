package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

const (
	testIssuerURL = "https://idp.example.com"
	testClientID  = "taskman-web"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// testClock はテスト用の進められる時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testIdP はRS256でIDトークンに署名するテスト用IdP。
type testIdP struct {
	key *rsa.PrivateKey
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}
	return &testIdP{key: key}
}

func (p *testIdP) keySet() oidc.KeySet {
	return &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&p.key.PublicKey}}
}

// idToken はsubject・email・発行時刻・有効期間を指定してIDトークンを生成する。
func (p *testIdP) idToken(t *testing.T, subject, email string, issuedAt time.Time, ttl time.Duration, modify ...func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   testIssuerURL,
		"aud":   testClientID,
		"sub":   subject,
		"email": email,
		"iat":   issuedAt.Unix(),
		"exp":   issuedAt.Add(ttl).Unix(),
	}
	for _, m := range modify {
		m(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return signed
}

// testEnv はManagerのテストに必要な一式。
type testEnv struct {
	manager  *Manager
	stores   *repository.Stores
	clock    *testClock
	idp      *testIdP
	recorder *mockAuthRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newTestClock()
	idp := newTestIdP(t)
	stores := repository.NewMemoryStores()
	recorder := &mockAuthRecorder{}
	verifier := NewOIDCVerifierWithKeySet(testIssuerURL, testClientID, idp.keySet(), stores.Revocations, clock.Now)
	manager := NewManager(verifier, stores, recorder, SessionConfig{
		Secret:       testSecret,
		TTL:          120 * time.Hour,
		BootstrapTTL: 5 * time.Minute,
		Clock:        clock.Now,
	})
	return &testEnv{manager: manager, stores: stores, clock: clock, idp: idp, recorder: recorder}
}

// --- モック定義 ---

type mockAuthRecorder struct {
	mu            sync.Mutex
	issued        []string
	verifications []string
	revocations   int
}

func (m *mockAuthRecorder) RecordSessionIssued(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued = append(m.issued, source)
}

func (m *mockAuthRecorder) RecordSessionVerification(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, result)
}

func (m *mockAuthRecorder) RecordSessionRevocation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revocations++
}

type mockIdentityVerifier struct {
	verifyFn func(ctx context.Context, rawIDToken string) (*model.Claims, error)
}

func (m *mockIdentityVerifier) Verify(ctx context.Context, rawIDToken string) (*model.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx, rawIDToken)
	}
	return nil, model.NewInvalidCredentialError(nil)
}

type mockSessionRepo struct {
	createFn         func(ctx context.Context, session *model.Session) error
	findByIDFn       func(ctx context.Context, id string, now time.Time) (*model.Session, error)
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id, now)
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	return nil
}

func (m *mockSessionRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func assertCategory(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := model.CategoryOf(err); got != want {
		t.Errorf("expected category %q, got %q (err=%v)", want, got, err)
	}
}
