package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

var errCredentialRevoked = errors.New("credential was issued before the subject's sessions were revoked")

// IdentityVerifier は外部IdPが発行したIDトークンを検証するインターフェース。
type IdentityVerifier interface {
	// Verify はトークンの署名・発行者・対象・有効期限・失効状態を検証し、本人情報を返す。
	// 不正なトークンにはNewInvalidCredentialErrorを返す。
	Verify(ctx context.Context, rawIDToken string) (*model.Claims, error)
}

// OIDCVerifier はOpenID Connectプロバイダが発行したIDトークンを検証する。
// 署名検証に加えて、サブジェクト単位の失効時刻より前に発行されたトークンを拒否する。
type OIDCVerifier struct {
	verifier    *oidc.IDTokenVerifier
	revocations repository.RevocationRepository
}

// NewOIDCVerifier はディスカバリ文書から公開鍵を取得するOIDCVerifierを生成する。
// 起動時に一度だけ呼び出し、生成したインスタンスを共有する。
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string, revocations repository.RevocationRepository) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc provider %s: %w", issuerURL, err)
	}
	return &OIDCVerifier{
		verifier:    provider.Verifier(&oidc.Config{ClientID: clientID}),
		revocations: revocations,
	}, nil
}

// NewOIDCVerifierWithKeySet は固定の鍵セットを使うOIDCVerifierを生成する。
// ディスカバリを行わないため、テストや鍵を静的に配布する環境で使用する。
func NewOIDCVerifierWithKeySet(issuerURL, clientID string, keySet oidc.KeySet, revocations repository.RevocationRepository, now func() time.Time) *OIDCVerifier {
	return &OIDCVerifier{
		verifier:    oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID, Now: now}),
		revocations: revocations,
	}
}

// Verify はIDトークンを検証して本人情報を返す。
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*model.Claims, error) {
	if rawIDToken == "" {
		return nil, model.NewInvalidCredentialError(errors.New("id token is empty"))
	}

	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, model.NewInvalidCredentialError(err)
	}

	var extra struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&extra); err != nil {
		return nil, model.NewInvalidCredentialError(fmt.Errorf("failed to decode id token claims: %w", err))
	}

	revoked, err := issuedBeforeRevocation(ctx, v.revocations, idToken.Subject, idToken.IssuedAt)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, model.NewInvalidCredentialError(errCredentialRevoked)
	}

	return &model.Claims{
		SubjectID: idToken.Subject,
		Email:     extra.Email,
		ExpiresAt: idToken.Expiry,
	}, nil
}

// issuedBeforeRevocation は発行時刻がサブジェクトの失効時刻より前かどうかを返す。
// トークンのiatは秒精度のため、失効時刻も秒に切り捨てて比較する。
func issuedBeforeRevocation(ctx context.Context, revocations repository.RevocationRepository, subjectID string, issuedAt time.Time) (bool, error) {
	revokedAt, err := revocations.FindRevokedAt(ctx, subjectID)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revokedAt == nil {
		return false, nil
	}
	return issuedAt.Before(revokedAt.Truncate(time.Second)), nil
}

// compile-time interface check
var _ IdentityVerifier = (*OIDCVerifier)(nil)
