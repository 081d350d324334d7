// Package auth は外部IdPのIDトークン検証とセッション資格情報のライフサイクルを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

const (
	defaultIssuer     = "taskman"
	audienceSession   = "session"
	audienceBootstrap = "bootstrap"
)

var (
	errSessionNotFound  = errors.New("session is revoked or expired")
	errNotIdentityToken = errors.New("bootstrap token cannot prove an identity")
)

// SessionConfig はセッション管理の設定。
type SessionConfig struct {
	Secret       []byte        // セッション・ブートストラップトークンのHMAC鍵
	TTL          time.Duration // セッションの有効期間（固定）
	BootstrapTTL time.Duration // ブートストラップトークンの有効期間
	Issuer       string        // 空の場合は "taskman"
	Clock        func() time.Time
}

// credentialClaims はセッション資格情報とブートストラップトークンに共通のクレーム。
type credentialClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Manager はセッション資格情報の発行・検証・失効を管理する。
// リクエスト間で共有する状態は持たず、永続化はリポジトリに委譲する。
type Manager struct {
	verifier    IdentityVerifier
	sessions    repository.SessionRepository
	revocations repository.RevocationRepository
	bootstrap   repository.BootstrapTokenRepository
	recorder    metrics.AuthRecorder
	config      SessionConfig
}

// NewManager はManagerを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewManager(
	verifier IdentityVerifier,
	stores *repository.Stores,
	recorder metrics.AuthRecorder,
	config SessionConfig,
) *Manager {
	if config.Issuer == "" {
		config.Issuer = defaultIssuer
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Manager{
		verifier:    verifier,
		sessions:    stores.Sessions,
		revocations: stores.Revocations,
		bootstrap:   stores.BootstrapTokens,
		recorder:    recorder,
		config:      config,
	}
}

// TTL はセッションの有効期間を返す。Cookieの有効期間に使用する。
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// AdmitFunc は資格情報の検証後、セッション作成前に呼ばれる。
// エラーを返した場合、セッションは作成されずそのエラーがIssueから返る。
type AdmitFunc func(ctx context.Context, claims *model.Claims) error

// IssueOption はIssueの動作を変更するオプション。
type IssueOption func(*issueOptions)

type issueOptions struct {
	admit AdmitFunc
}

// WithAdmission はセッション作成前に本人情報を検査する関数を設定する。
func WithAdmission(admit AdmitFunc) IssueOption {
	return func(o *issueOptions) {
		o.admit = admit
	}
}

// Admit はoptsに設定された検査関数を本人情報に対して実行する。
// 検査関数が設定されていない場合はnilを返す。
func Admit(ctx context.Context, claims *model.Claims, opts ...IssueOption) error {
	var options issueOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.admit == nil {
		return nil
	}
	return options.admit(ctx, claims)
}

// Issue はIDトークンまたはブートストラップトークンを検証し、新しいセッション資格情報を発行する。
// ブートストラップトークンは一度しか使用できない。
func (m *Manager) Issue(ctx context.Context, credential string, opts ...IssueOption) (*model.SessionCredential, error) {
	var (
		claims *model.Claims
		source string
		err    error
	)
	if m.isBootstrapToken(credential) {
		source = metrics.SourceBootstrap
		claims, err = m.redeemBootstrapToken(ctx, credential)
	} else {
		source = metrics.SourceIDToken
		claims, err = m.verifier.Verify(ctx, credential)
	}
	if err != nil {
		return nil, err
	}
	if err := Admit(ctx, claims, opts...); err != nil {
		return nil, err
	}

	now := m.config.Clock()
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	session := &model.Session{
		ID:        sessionID,
		UserID:    claims.SubjectID,
		Email:     claims.Email,
		ExpiresAt: now.Add(m.config.TTL),
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	token, err := m.sign(credentialClaims{
		Email: session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   session.UserID,
			Audience:  jwt.ClaimStrings{audienceSession},
			ID:        session.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
	if err != nil {
		return nil, err
	}

	if m.recorder != nil {
		m.recorder.RecordSessionIssued(source)
	}
	slog.Info("session issued",
		slog.String("user_id", session.UserID),
		slog.String("source", source),
	)

	return &model.SessionCredential{
		Token: token,
		Claims: model.Claims{
			SubjectID: session.UserID,
			Email:     session.Email,
			ExpiresAt: session.ExpiresAt,
		},
	}, nil
}

// VerifyIdentity は外部IdPのIDトークンだけを検証し、本人情報を返す。
// セッションは作成しない。ブートストラップトークンはIdPの本人確認ではないため拒否する。
func (m *Manager) VerifyIdentity(ctx context.Context, idToken string) (*model.Claims, error) {
	if m.isBootstrapToken(idToken) {
		return nil, model.NewInvalidCredentialError(errNotIdentityToken)
	}
	return m.verifier.Verify(ctx, idToken)
}

// Verify はセッション資格情報を検証し、本人情報を返す。
// 形式不正・期限切れ・失効済みの場合はNewInvalidSessionErrorを返す。
func (m *Manager) Verify(ctx context.Context, token string) (*model.Claims, error) {
	claims, err := m.verify(ctx, token)
	if m.recorder != nil {
		switch {
		case err == nil:
			m.recorder.RecordSessionVerification(metrics.ResultValid)
		case model.CategoryOf(err) == model.CategoryAuthentication:
			m.recorder.RecordSessionVerification(metrics.ResultInvalid)
		default:
			m.recorder.RecordSessionVerification(metrics.ResultError)
		}
	}
	return claims, err
}

func (m *Manager) verify(ctx context.Context, token string) (*model.Claims, error) {
	var c credentialClaims
	if err := m.parse(token, audienceSession, &c); err != nil {
		return nil, model.NewInvalidSessionError(err)
	}

	now := m.config.Clock()
	session, err := m.sessions.FindByID(ctx, c.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.UserID != c.Subject {
		return nil, model.NewInvalidSessionError(errSessionNotFound)
	}

	return &model.Claims{
		SubjectID: session.UserID,
		Email:     session.Email,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// RevokeAll は指定サブジェクトの全セッションを失効させる。
// 失効時刻より前に発行されたIDトークンとブートストラップトークンも以後拒否される。
func (m *Manager) RevokeAll(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return model.NewValidationError("Subject ID is required.")
	}
	if err := m.revocations.Revoke(ctx, subjectID, m.config.Clock()); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if err := m.sessions.DeleteByUserID(ctx, subjectID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}

	if m.recorder != nil {
		m.recorder.RecordSessionRevocation()
	}
	slog.Info("sessions revoked", slog.String("user_id", subjectID))
	return nil
}

func (m *Manager) sign(claims credentialClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// parse は署名アルゴリズム・発行者・対象・有効期限を検証してクレームを読み取る。
func (m *Manager) parse(token, audience string, claims *credentialClaims) error {
	if token == "" {
		return errors.New("credential is empty")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Clock),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return err
	}
	if claims.Subject == "" || claims.ID == "" {
		return errors.New("credential is missing subject or id")
	}
	return nil
}

// generateSessionID は256bitの乱数からセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
