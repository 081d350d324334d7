package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

func TestManager_Issue_WithIDToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	idToken := env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour)
	cred, err := env.manager.Issue(ctx, idToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cred.Token == "" {
		t.Fatal("expected non-empty token")
	}
	if cred.Token == idToken {
		t.Error("session credential must differ from the id token")
	}
	if cred.Claims.SubjectID != "user-1" || cred.Claims.Email != "a@b.co" {
		t.Errorf("unexpected claims: %+v", cred.Claims)
	}
	// セッションの有効期間はIDトークンの有効期限ではなくTTLで決まる
	wantExpiry := env.clock.Now().Add(120 * time.Hour)
	if !cred.Claims.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, cred.Claims.ExpiresAt)
	}

	if len(env.recorder.issued) != 1 || env.recorder.issued[0] != metrics.SourceIDToken {
		t.Errorf("expected one id_token issuance to be recorded, got %v", env.recorder.issued)
	}
}

func TestManager_Issue_InvalidIDToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other := newTestIdP(t)
	forged := other.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour)

	_, err := env.manager.Issue(ctx, forged)
	assertCategory(t, err, model.CategoryAuthentication)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidCredential {
		t.Errorf("expected INVALID_CREDENTIAL, got %v", err)
	}
	if len(env.recorder.issued) != 0 {
		t.Errorf("expected no issuance to be recorded, got %v", env.recorder.issued)
	}
}

func TestManager_Issue_SessionCreateFailure(t *testing.T) {
	stores := repository.NewMemoryStores()
	stores.Sessions = &mockSessionRepo{
		createFn: func(_ context.Context, _ *model.Session) error {
			return errors.New("db down")
		},
	}
	verifier := &mockIdentityVerifier{
		verifyFn: func(_ context.Context, _ string) (*model.Claims, error) {
			return &model.Claims{SubjectID: "user-1", Email: "a@b.co"}, nil
		},
	}
	manager := NewManager(verifier, stores, nil, SessionConfig{Secret: testSecret, TTL: time.Hour})

	_, err := manager.Issue(context.Background(), "id-token")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if model.CategoryOf(err) != model.CategorySystem {
		t.Errorf("expected system category, got %s", model.CategoryOf(err))
	}
}

// TestManager_Issue_Admission は検査関数がエラーを返した場合にセッションが作成されないことを検証する。
func TestManager_Issue_Admission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	denied := model.NewUserNotFoundError()

	var admitted *model.Claims
	_, err := env.manager.Issue(ctx,
		env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour),
		WithAdmission(func(_ context.Context, claims *model.Claims) error {
			admitted = claims
			return denied
		}),
	)
	if !errors.Is(err, denied) {
		t.Fatalf("expected admission error, got %v", err)
	}
	if admitted == nil || admitted.SubjectID != "user-1" {
		t.Errorf("admission received %+v, want subject user-1", admitted)
	}
	if len(env.recorder.issued) != 0 {
		t.Errorf("expected no issuance to be recorded, got %v", env.recorder.issued)
	}

	cred, err := env.manager.Issue(ctx,
		env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour),
		WithAdmission(func(context.Context, *model.Claims) error { return nil }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.manager.Verify(ctx, cred.Token); err != nil {
		t.Errorf("expected admitted session to verify, got %v", err)
	}
}

// TestManager_VerifyIdentity はIDトークンの本人情報を返し、セッションを作成しないことを検証する。
func TestManager_VerifyIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	claims, err := env.manager.VerifyIdentity(ctx,
		env.idp.idToken(t, "idp-subject-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID != "idp-subject-1" || claims.Email != "a@b.co" {
		t.Errorf("claims = %+v", claims)
	}
	if len(env.recorder.issued) != 0 {
		t.Errorf("expected no session issuance, got %v", env.recorder.issued)
	}

	// ブートストラップトークンは本人確認として扱わない
	bootstrap, err := env.manager.MintBootstrapToken(ctx, "idp-subject-1", "a@b.co")
	if err != nil {
		t.Fatalf("failed to mint bootstrap token: %v", err)
	}
	_, err = env.manager.VerifyIdentity(ctx, bootstrap)
	assertCategory(t, err, model.CategoryAuthentication)

	_, err = env.manager.VerifyIdentity(ctx, "not-a-token")
	assertCategory(t, err, model.CategoryAuthentication)
}

func TestManager_Verify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cred, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := env.manager.Verify(ctx, cred.Token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubjectID != "user-1" || claims.Email != "a@b.co" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	// IDトークンの有効期限を過ぎてもセッションは有効
	env.clock.Advance(2 * time.Hour)
	if _, err := env.manager.Verify(ctx, cred.Token); err != nil {
		t.Errorf("expected session to outlive the id token, got %v", err)
	}
}

func TestManager_Verify_Rejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cred, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bootstrap, err := env.manager.MintBootstrapToken(ctx, "user-1", "a@b.co")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	otherSecret := NewManager(nil, repository.NewMemoryStores(), nil, SessionConfig{
		Secret: []byte("another-secret-another-secret-xx"),
		TTL:    time.Hour,
		Clock:  env.clock.Now,
	})
	forged, err := otherSecret.sign(credentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{audienceSession},
			ID:        "forged",
			ExpiresAt: jwt.NewNumericDate(env.clock.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unknownSession, err := env.manager.sign(credentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{audienceSession},
			ID:        "does-not-exist",
			ExpiresAt: jwt.NewNumericDate(env.clock.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "空の資格情報", token: ""},
		{name: "形式不正の資格情報", token: "garbage"},
		{name: "改ざんされた資格情報", token: cred.Token[:len(cred.Token)-4] + "AAAA"},
		{name: "別の鍵で署名された資格情報", token: forged},
		{name: "ブートストラップトークン", token: bootstrap},
		{name: "サーバー側に存在しないセッション", token: unknownSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.Verify(ctx, tt.token)
			assertCategory(t, err, model.CategoryAuthentication)
		})
	}
}

func TestManager_Verify_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cred, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.clock.Advance(120*time.Hour + time.Second)
	_, err = env.manager.Verify(ctx, cred.Token)
	assertCategory(t, err, model.CategoryAuthentication)

	if got := env.recorder.verifications; len(got) != 1 || got[0] != metrics.ResultInvalid {
		t.Errorf("expected one invalid verification to be recorded, got %v", got)
	}
}

func TestManager_Verify_RepositoryFailureIsNotAuthentication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cred, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.manager.sessions = &mockSessionRepo{
		findByIDFn: func(_ context.Context, _ string, _ time.Time) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}

	_, err = env.manager.Verify(ctx, cred.Token)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if model.CategoryOf(err) == model.CategoryAuthentication {
		t.Error("repository failure must not be reported as an authentication failure")
	}
	if got := env.recorder.verifications; len(got) != 1 || got[0] != metrics.ResultError {
		t.Errorf("expected one error verification to be recorded, got %v", got)
	}
}

func TestManager_RevokeAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	oldIDToken := env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour)
	first, err := env.manager.Issue(ctx, oldIDToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	otherUser, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-2", "c@d.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.clock.Advance(time.Second)
	if err := env.manager.RevokeAll(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, token := range []string{first.Token, second.Token} {
		_, err := env.manager.Verify(ctx, token)
		assertCategory(t, err, model.CategoryAuthentication)
	}

	// 他のユーザーのセッションは影響を受けない
	if _, err := env.manager.Verify(ctx, otherUser.Token); err != nil {
		t.Errorf("expected other user's session to remain valid, got %v", err)
	}

	// 失効前に発行されたIDトークンでは再ログインできない
	_, err = env.manager.Issue(ctx, oldIDToken)
	assertCategory(t, err, model.CategoryAuthentication)

	// 失効後に発行されたIDトークンでは再ログインできる
	env.clock.Advance(time.Second)
	fresh, err := env.manager.Issue(ctx, env.idp.idToken(t, "user-1", "a@b.co", env.clock.Now(), time.Hour))
	if err != nil {
		t.Fatalf("expected fresh id token to be accepted, got %v", err)
	}
	if _, err := env.manager.Verify(ctx, fresh.Token); err != nil {
		t.Errorf("expected fresh session to be valid, got %v", err)
	}

	if env.recorder.revocations != 1 {
		t.Errorf("expected 1 revocation to be recorded, got %d", env.recorder.revocations)
	}
}

func TestManager_RevokeAll_EmptySubject(t *testing.T) {
	env := newTestEnv(t)
	err := env.manager.RevokeAll(context.Background(), "")
	assertCategory(t, err, model.CategoryValidation)
}

func TestManager_Bootstrap_SingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.manager.MintBootstrapToken(ctx, "user-1", "a@b.co")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cred, err := env.manager.Issue(ctx, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Claims.SubjectID != "user-1" || cred.Claims.Email != "a@b.co" {
		t.Errorf("unexpected claims: %+v", cred.Claims)
	}
	if _, err := env.manager.Verify(ctx, cred.Token); err != nil {
		t.Errorf("expected bootstrap session to be valid, got %v", err)
	}

	_, err = env.manager.Issue(ctx, token)
	assertCategory(t, err, model.CategoryAuthentication)

	if got := env.recorder.issued; len(got) != 1 || got[0] != metrics.SourceBootstrap {
		t.Errorf("expected one bootstrap issuance to be recorded, got %v", got)
	}
}

func TestManager_Bootstrap_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.manager.MintBootstrapToken(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.clock.Advance(5*time.Minute + time.Second)
	_, err = env.manager.Issue(ctx, token)
	assertCategory(t, err, model.CategoryAuthentication)
}

func TestManager_Bootstrap_RevokedBeforeUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.manager.MintBootstrapToken(ctx, "user-1", "a@b.co")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.clock.Advance(time.Second)
	if err := env.manager.RevokeAll(ctx, "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = env.manager.Issue(ctx, token)
	assertCategory(t, err, model.CategoryAuthentication)
}

func TestManager_Bootstrap_TamperedIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.manager.MintBootstrapToken(ctx, "user-1", "a@b.co")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + ".invalidsignature"
	_, err = env.manager.Issue(ctx, tampered)
	assertCategory(t, err, model.CategoryAuthentication)

	// 改ざんの試行でトークンは消費されない
	if _, err := env.manager.Issue(ctx, token); err != nil {
		t.Errorf("expected original token to remain usable, got %v", err)
	}
}

func TestManager_MintBootstrapToken_EmptySubject(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.MintBootstrapToken(context.Background(), "", "a@b.co")
	assertCategory(t, err, model.CategoryValidation)
}

func TestGenerateSessionID(t *testing.T) {
	id1, err := generateSessionID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := generateSessionID()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(id1))
	}
	if id1 == id2 {
		t.Error("expected unique session ids")
	}
}
