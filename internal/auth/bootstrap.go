package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
)

var errBootstrapTokenUsed = errors.New("bootstrap token has already been used")

// MintBootstrapToken はサインアップ直後の自動ログイン用に、一度だけ使える短命トークンを発行する。
// emailは省略可能で、発行されるセッションの本人情報に引き継がれる。
func (m *Manager) MintBootstrapToken(ctx context.Context, subjectID, email string) (string, error) {
	if subjectID == "" {
		return "", model.NewValidationError("Subject ID is required.")
	}

	now := m.config.Clock()
	token, err := m.sign(credentialClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   subjectID,
			Audience:  jwt.ClaimStrings{audienceBootstrap},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.BootstrapTTL)),
		},
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// isBootstrapToken は自身が発行したブートストラップトークンの形をしているかを判定する。
// 署名はここでは検証せず、redeemBootstrapTokenで検証する。
func (m *Manager) isBootstrapToken(credential string) bool {
	var c credentialClaims
	if _, _, err := jwt.NewParser().ParseUnverified(credential, &c); err != nil {
		return false
	}
	return c.Issuer == m.config.Issuer && slices.Contains(c.Audience, audienceBootstrap)
}

// redeemBootstrapToken はブートストラップトークンを検証し、使用済みとして記録する。
func (m *Manager) redeemBootstrapToken(ctx context.Context, token string) (*model.Claims, error) {
	var c credentialClaims
	if err := m.parse(token, audienceBootstrap, &c); err != nil {
		return nil, model.NewInvalidCredentialError(err)
	}

	revoked, err := issuedBeforeRevocation(ctx, m.revocations, c.Subject, c.IssuedAt.Time)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, model.NewInvalidCredentialError(errCredentialRevoked)
	}

	consumed, err := m.bootstrap.Consume(ctx, c.ID, c.Subject, c.ExpiresAt.Time, m.config.Clock())
	if err != nil {
		return nil, fmt.Errorf("failed to consume bootstrap token: %w", err)
	}
	if !consumed {
		return nil, model.NewInvalidCredentialError(errBootstrapTokenUsed)
	}

	return &model.Claims{
		SubjectID: c.Subject,
		Email:     c.Email,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
