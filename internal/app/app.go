package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/config"
	"github.com/hitoshi/taskman/internal/database"
	"github.com/hitoshi/taskman/internal/handler"
	"github.com/hitoshi/taskman/internal/logger"
	"github.com/hitoshi/taskman/internal/metrics"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/user"
	"github.com/hitoshi/taskman/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込み、
// LOG_LEVELに合わせてログレベルを再設定する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルの反映
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("app_env", cfg.AppEnv),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// storeHandle は選択されたストア実装と、SQLの場合はその接続を保持する。
type storeHandle struct {
	stores *repository.Stores
	db     *sql.DB
}

// healthChecker は/healthのping対象を返す。インメモリストアの場合はnil。
func (h *storeHandle) healthChecker() handler.HealthChecker {
	if h.db == nil {
		return nil
	}
	return h.db
}

func (h *storeHandle) Close() error {
	if h.db == nil {
		return nil
	}
	return h.db.Close()
}

// openStores はSTORE_DRIVERに従ってリポジトリ実装を選択する。
// SQLストアの場合は接続確認まで行う。
func openStores(ctx context.Context, cfg *config.Config) (*storeHandle, error) {
	if cfg.StoreDriver == config.StoreMemory {
		slog.Warn("using in-memory store; data is lost on restart")
		return &storeHandle{stores: repository.NewMemoryStores()}, nil
	}

	db, err := database.Open(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("driver", cfg.StoreDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	return &storeHandle{
		stores: repository.NewSQLStores(db, repository.Dialect(cfg.StoreDriver)),
		db:     db,
	}, nil
}

// newRegistry はアプリケーションメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// serverDeps はHTTPハンドラーの構築に必要な依存関係。
type serverDeps struct {
	stores        *repository.Stores
	verifier      auth.IdentityVerifier
	collector     *metrics.Collector
	gatherer      prometheus.Gatherer
	rateLimiter   *middleware.RateLimiter
	healthChecker handler.HealthChecker
}

// buildRouter は全依存関係をワイヤリングしたHTTPハンドラーを返す。
func buildRouter(cfg *config.Config, deps serverDeps) http.Handler {
	// 1. セッション管理
	sessions := auth.NewManager(deps.verifier, deps.stores, deps.collector, auth.SessionConfig{
		Secret:       []byte(cfg.SessionSecret),
		TTL:          cfg.SessionTTL,
		BootstrapTTL: cfg.BootstrapTokenTTL,
	})

	// 2. ユースケースの初期化
	userService := user.NewService(deps.stores.Users)
	taskService := task.NewService(deps.stores.Tasks)

	// 3. ルーターの構築
	return handler.NewRouter(&handler.RouterDeps{
		Cookie: middleware.CookieConfig{
			Name:   middleware.DefaultSessionCookieName,
			Domain: cfg.CookieDomain,
			Secure: cfg.CookieSecure,
			MaxAge: sessions.TTL(),
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		RateLimiter:       deps.rateLimiter,
		Logger:            slog.Default(),
		HTTPRecorder:      deps.collector,

		Sessions:    sessions,
		UserService: handler.NewUserServiceAdapter(userService),
		TaskService: handler.NewTaskServiceAdapter(taskService),

		HealthChecker:  deps.healthChecker,
		MetricsHandler: metrics.Handler(deps.gatherer),

		ExposeInternalErrors: cfg.ExposeInternalErrors,
	})
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. ストア
	handle, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer handle.Close()

	// 2. IDトークン検証（起動時にプロバイダのディスカバリを1回行う）
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, handle.stores.Revocations)
	if err != nil {
		return fmt.Errorf("failed to initialize identity verifier: %w", err)
	}

	// 3. メトリクスとレート制限
	reg, collector := newRegistry()
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	router := buildRouter(cfg, serverDeps{
		stores:        handle.stores,
		verifier:      verifier,
		collector:     collector,
		gatherer:      reg,
		rateLimiter:   rateLimiter,
		healthChecker: handle.healthChecker(),
	})

	// インメモリストアは別プロセスから参照できないため、クリーンアップを同一プロセスで実行する
	if cfg.StoreDriver == config.StoreMemory {
		job := cleanup.NewCleanupJob(handle.stores, collector, slog.Default())
		go job.Start(ctx, cfg.CleanupInterval)
	}

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションとブートストラップトークン記録の削除をCLEANUP_INTERVAL間隔で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreMemory {
		return errors.New("worker requires a persistent store; STORE_DRIVER=memory runs cleanup inside serve")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handle, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer handle.Close()

	// ワーカーはメトリクスを公開しないため記録しない
	job := cleanup.NewCleanupJob(handle.stores, nil, slog.Default())

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。インメモリストアでは何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreMemory {
		slog.Info("in-memory store has no schema; skipping migrations")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("driver", cfg.StoreDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.StoreDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
