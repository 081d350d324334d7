package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のストア疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はストアの疎通確認を行うインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Cookie            middleware.CookieConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPRecorder      metrics.HTTPRecorder
	// TrustProxyHeaders がtrueの場合、X-Forwarded-For等からクライアントIPを復元する。
	// 信頼できるリバースプロキシ配下でのみ有効にする。
	TrustProxyHeaders bool

	// 認証・ユーザー
	Sessions    SessionManager
	UserService UserServiceInterface

	// タスク
	TaskService TaskServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	ExposeInternalErrors bool
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	[RealIP] → Recovery → Logging → Metrics → SecurityHeaders → CORS
//
// RealIPはTrustProxyHeadersが有効な場合のみ追加する。
// /api/* はさらに Session → RateLimit(General) を通過する。
// 認証ルートの POST は RateLimit(Auth) を通過する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(middleware.WriteNotFound)
	r.MethodNotAllowed(middleware.WriteMethodNotAllowed)

	sessionMW := middleware.NewSessionMiddleware(deps.Sessions, deps.Cookie)

	authHandler := NewAuthHandler(deps.Sessions, deps.UserService, AuthHandlerConfig{
		Cookie:               deps.Cookie,
		ExposeInternalErrors: deps.ExposeInternalErrors,
	})
	taskHandler := NewTaskHandler(deps.TaskService, deps.ExposeInternalErrors)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート ---
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/sign-up", authHandler.SignUp)
			r.Post("/session-login", authHandler.SessionLogin)
			r.Post("/session-logout", authHandler.SessionLogout)
		})

		r.Get("/user-by-email/{email}", authHandler.UserByEmail)

		r.With(sessionMW).Get("/me", authHandler.Me)
		r.With(sessionMW).Get("/validate-session", authHandler.ValidateSession)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(sessionMW)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.CreateTask)
			r.Get("/", taskHandler.ListTasks)

			r.Route("/{taskId}", func(r chi.Router) {
				r.Get("/", taskHandler.GetTask)
				r.Put("/", taskHandler.UpdateTask)
				r.Delete("/", taskHandler.DeleteTask)
			})
		})
	})

	return r
}

// healthHandler はストアの疎通確認を行い、成功時は200 OKを返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
