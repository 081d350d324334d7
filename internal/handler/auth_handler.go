// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// SessionManager は認証ハンドラーが必要とするセッション管理インターフェース。
type SessionManager interface {
	Issue(ctx context.Context, credential string, opts ...auth.IssueOption) (*model.SessionCredential, error)
	Verify(ctx context.Context, token string) (*model.Claims, error)
	RevokeAll(ctx context.Context, subjectID string) error
	MintBootstrapToken(ctx context.Context, subjectID, email string) (string, error)
	VerifyIdentity(ctx context.Context, idToken string) (*model.Claims, error)
}

// UserServiceInterface は認証ハンドラーが必要とするユーザーサービスインターフェース。
type UserServiceInterface interface {
	CreateUser(ctx context.Context, subjectID, email string) (*userResponse, error)
	LoginUser(ctx context.Context, claims *model.Claims) (*userResponse, error)
	GetUserByEmail(ctx context.Context, email string) (*userResponse, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	Cookie               middleware.CookieConfig
	ExposeInternalErrors bool
}

// AuthHandler はサインアップ・ログイン・ログアウト関連のHTTPハンドラー。
type AuthHandler struct {
	sessions SessionManager
	users    UserServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionManager, users UserServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		users:    users,
		config:   config,
	}
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

type signUpRequest struct {
	Email   string `json:"email"`
	IDToken string `json:"idToken"`
}

type sessionLoginRequest struct {
	IDToken string `json:"idToken"`
}

type meResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type validateSessionResponse struct {
	Valid bool   `json:"valid"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

type userIDResponse struct {
	ID string `json:"id"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// SignUp は外部IdPのIDトークンで本人確認したうえでユーザーを作成し、
// そのままログイン済みのセッションを発行する。
// ユーザーIDはIdPのサブジェクトIDとなるため、以降はsession-loginでログインできる。
// POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		h.fail(w, model.NewValidationError("ID token is required."))
		return
	}

	claims, err := h.sessions.VerifyIdentity(r.Context(), req.IDToken)
	if err != nil {
		h.fail(w, err)
		return
	}

	// 省略時はIdPで確認済みのメールアドレスを使う
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = claims.Email
	}
	if claims.Email != "" && !strings.EqualFold(email, claims.Email) {
		slog.Warn("sign-up email does not match identity claims",
			slog.String("user_id", claims.SubjectID),
		)
		h.fail(w, model.NewEmailMismatchError())
		return
	}

	user, err := h.users.CreateUser(r.Context(), claims.SubjectID, email)
	if err != nil {
		h.fail(w, err)
		return
	}

	token, err := h.sessions.MintBootstrapToken(r.Context(), user.ID, user.Email)
	if err != nil {
		slog.Error("failed to mint bootstrap token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		h.fail(w, err)
		return
	}
	credential, err := h.sessions.Issue(r.Context(), token)
	if err != nil {
		slog.Error("failed to issue session after sign-up",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		h.fail(w, err)
		return
	}

	h.config.Cookie.Set(w, credential.Token)
	writeJSON(w, http.StatusCreated, user)
}

// SessionLogin は外部IdPのIDトークンを検証し、登録済みユーザーのセッションを発行する。
// 未登録ユーザーの場合はセッションを作成せずに404を返す。
// POST /auth/session-login
func (h *AuthHandler) SessionLogin(w http.ResponseWriter, r *http.Request) {
	var req sessionLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		h.fail(w, model.NewValidationError("ID token is required."))
		return
	}

	var user *userResponse
	credential, err := h.sessions.Issue(r.Context(), req.IDToken,
		auth.WithAdmission(func(ctx context.Context, claims *model.Claims) error {
			u, err := h.users.LoginUser(ctx, claims)
			if err != nil {
				return err
			}
			user = u
			return nil
		}),
	)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.config.Cookie.Set(w, credential.Token)
	writeJSON(w, http.StatusOK, user)
}

// SessionLogout はセッションCookieを削除する。
// 有効なセッションが提示された場合はサーバー側でも全セッションを失効させる。
// 失効処理の成否にかかわらず常に200を返す。
// POST /auth/session-logout
func (h *AuthHandler) SessionLogout(w http.ResponseWriter, r *http.Request) {
	token := h.config.Cookie.Read(r)
	h.config.Cookie.Clear(w)

	if token != "" {
		h.revoke(r.Context(), token)
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful."})
}

func (h *AuthHandler) revoke(ctx context.Context, token string) {
	claims, err := h.sessions.Verify(ctx, token)
	if err != nil {
		if model.CategoryOf(err) != model.CategoryAuthentication {
			slog.Error("failed to verify session on logout", slog.String("error", err.Error()))
		}
		return
	}
	if err := h.sessions.RevokeAll(ctx, claims.SubjectID); err != nil {
		slog.Error("failed to revoke sessions on logout",
			slog.String("user_id", claims.SubjectID),
			slog.String("error", err.Error()),
		)
	}
}

// Me は現在のセッションの本人情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{ID: claims.SubjectID, Email: claims.Email})
}

// ValidateSession はセッションが有効であることを返す。
// GET /auth/validate-session
func (h *AuthHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.ClaimsFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}
	writeJSON(w, http.StatusOK, validateSessionResponse{
		Valid: true,
		ID:    claims.SubjectID,
		Email: claims.Email,
	})
}

// UserByEmail はメールアドレスに対応するユーザーIDを返す。
// GET /auth/user-by-email/{email}
func (h *AuthHandler) UserByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, model.NewInvalidEmailError())
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.fail(w, err)
		return
	}
	if user == nil {
		h.fail(w, model.NewUserNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, userIDResponse{ID: user.ID})
}

func (h *AuthHandler) fail(w http.ResponseWriter, err error) {
	handleServiceError(w, err, h.config.ExposeInternalErrors)
}
