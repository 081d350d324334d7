// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// DefaultSessionCookieName はセッション資格情報を格納するCookie名。
const DefaultSessionCookieName = "__session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// claimsContextKey はリクエストコンテキストに本人情報を格納するためのキー。
var claimsContextKey = contextKey("claims")

// SessionVerifier はセッション資格情報の検証に必要なインターフェース。
// auth.Managerが実装する。
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*model.Claims, error)
}

// CookieConfig はセッションCookieの属性。
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultSessionCookieName
	}
	return c.Name
}

// Set はセッション資格情報をHTTP Only Cookieとして書き込む。
func (c CookieConfig) Set(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はセッションCookieを削除するよう指示する。
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read はリクエストからセッション資格情報を取り出す。存在しない場合は空文字を返す。
func (c CookieConfig) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewSessionMiddleware はCookieのセッション資格情報を検証するミドルウェアを返す。
// 検証済みの本人情報をリクエストコンテキストに注入する。
// 資格情報がない、または無効な場合は401を返し、無効な場合はCookieも削除する。
// セッションのキャッシュは持たず、リクエストごとに検証する。
func NewSessionMiddleware(verifier SessionVerifier, cookie CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieから資格情報を取得
			token := cookie.Read(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
				return
			}

			// 2. 資格情報を検証
			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				if model.CategoryOf(err) == model.CategoryAuthentication {
					slog.Debug("session rejected", slog.String("error", err.Error()))
					cookie.Clear(w)
					WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
					return
				}
				// ストア障害では資格情報自体は有効な可能性があるためCookieを残す
				slog.Error("failed to verify session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. 本人情報をコンテキストに注入
			setLoggedUserID(r.Context(), claims.SubjectID)
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// ClaimsFromContext はリクエストコンテキストから本人情報を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func ClaimsFromContext(ctx context.Context) (*model.Claims, error) {
	claims, ok := ctx.Value(claimsContextKey).(*model.Claims)
	if !ok || claims == nil || claims.SubjectID == "" {
		return nil, fmt.Errorf("claims not found in context")
	}
	return claims, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	claims, err := ClaimsFromContext(ctx)
	if err != nil {
		return "", fmt.Errorf("user ID not found in context")
	}
	return claims.SubjectID, nil
}

// ContextWithClaims はコンテキストに本人情報を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithClaims(ctx context.Context, claims *model.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ContextWithUserID はユーザーIDのみを持つ本人情報をコンテキストに注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithClaims(ctx, &model.Claims{SubjectID: userID})
}
