// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/captcha"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/oauth"
	"github.com/hitoshi/authgate/internal/password"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/token"
	"github.com/hitoshi/authgate/internal/user"
	"github.com/hitoshi/authgate/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
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
		slog.String("port", cfg.ServerPort),
		slog.String("state_store", cfg.StateStore),
		slog.Bool("captcha_disabled", cfg.CaptchaDisabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// newStateStore は設定に応じたOAuth stateストアを返す。
// 返り値のcloseは呼び出し側で必ず呼ぶこと。
func newStateStore(ctx context.Context, cfg *config.Config, db *sql.DB) (oauth.StateStore, func(), error) {
	if cfg.StateStore != config.StateStoreRedis {
		return repository.NewPostgresOAuthStateRepo(db), func() {}, nil
	}

	rdb, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("redis connection established")
	return repository.NewRedisOAuthStateRepo(rdb), func() { rdb.Close() }, nil
}

// newIdentityProviders はクライアントIDが設定されたプロバイダーのみを返す。
func newIdentityProviders(cfg *config.Config, client *http.Client) []oauth.IdentityProvider {
	var providers []oauth.IdentityProvider
	if cfg.GoogleClientID != "" {
		providers = append(providers, oauth.NewGoogle(oauth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL,
			HTTPClient:   client,
		}))
	}
	if cfg.YandexClientID != "" {
		providers = append(providers, oauth.NewYandex(oauth.ClientConfig{
			ClientID:    cfg.YandexClientID,
			RedirectURL: cfg.CallbackURL,
		}))
	}
	if cfg.VKClientID != "" {
		providers = append(providers, oauth.NewVK(oauth.ClientConfig{
			ClientID:    cfg.VKClientID,
			RedirectURL: cfg.CallbackURL,
		}))
	}
	return providers
}

// newCaptchaVerifier はcaptcha検証器を返す。
// CAPTCHA_DISABLED=trueの場合のみ検証を省略する。
func newCaptchaVerifier(cfg *config.Config, client *http.Client) captcha.Verifier {
	if cfg.CaptchaDisabled {
		slog.Warn("captcha検証が無効化されています")
		return captcha.Disabled{}
	}
	return captcha.NewRecaptcha(captcha.RecaptchaConfig{
		Secret:   cfg.RecaptchaSecret,
		MinScore: cfg.RecaptchaMinScore,
	}, client)
}

// newRegistry はアプリケーションメトリクス用のレジストリを生成する。
func newRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// newTokenIssuer はトークン発行者を生成する。
// トークンとセッションの有効期間は30日固定で、設定では変更できない。
func newTokenIssuer(cfg *config.Config) (*token.Issuer, error) {
	issuer, err := token.NewIssuer(token.Config{
		Secret: cfg.JWTSecret,
		TTL:    token.DefaultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}
	return issuer, nil
}

// buildRouter はサービスとミドルウェアを組み立ててルーターを返す。
func buildRouter(cfg *config.Config, db *sql.DB, states oauth.StateStore, outbound *http.Client, registry *prometheus.Registry, limiter *middleware.RateLimiter) (http.Handler, error) {
	collector := metrics.NewCollector(registry)

	issuer, err := newTokenIssuer(cfg)
	if err != nil {
		return nil, err
	}

	providers := newIdentityProviders(cfg, outbound)
	if len(providers) == 0 {
		slog.Warn("OAuthプロバイダーが設定されていません")
	}
	bridge := oauth.NewBridge(states, cfg.OAuthStateTTL, providers...).WithRecorder(collector)

	users := repository.NewPostgresUserRepo(db)
	authService := auth.NewService(auth.Dependencies{
		Users:     users,
		Sessions:  repository.NewPostgresSessionRepo(db),
		Tx:        repository.NewPostgresTransactor(db),
		Hasher:    password.NewHasher(password.DefaultParams),
		Tokens:    issuer,
		Captcha:   newCaptchaVerifier(cfg, outbound),
		OAuth:     bridge,
		Sanitizer: security.NewProfileSanitizer(),
		Metrics:   collector,
	})

	return handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusCounter:     collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CallbackTargetOrigin: cfg.CallbackTargetOrigin,
		},
		UserService: user.NewService(users, issuer),
	}), nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. OAuth stateストア
	states, closeStates, err := newStateStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStates()

	// 3. 外部IdP・reCAPTCHA向けのHTTPクライアント（SSRF対策済み）
	outbound := security.NewOutboundClient(cfg.OAuthHTTPTimeout)

	// 4. ルーターの構築
	limiterConfig := middleware.NewRateLimiterConfig(cfg.RateLimitAuth)
	limiterConfig.TrustProxy = cfg.RateLimitTrustProxy
	limiter := middleware.NewRateLimiter(limiterConfig)
	defer limiter.Stop()

	router, err := buildRouter(cfg, db, states, outbound, newRegistry(), limiter)
	if err != nil {
		return err
	}

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.OAuthHTTPTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
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

// buildWorker はクリーンアップジョブと運用エンドポイントを同じレジストリで組み立てる。
func buildWorker(states repository.ExpiredStateDeleter, checker handler.HealthChecker, registry *prometheus.Registry) (*cleanup.CleanupJob, http.Handler) {
	collector := metrics.NewCollector(registry)
	job := cleanup.NewCleanupJob(states, collector, slog.Default())
	return job, handler.NewOpsRouter(slog.Default(), checker, metrics.Handler(registry))
}

// runWorker はワーカーモードで起動する。
// 期限切れOAuth stateのクリーンアップを定期実行し、ctxがキャンセルされると終了する。
// Redisのstateはキーの有効期限で失効するため、対象はPostgreSQLのoauth_statesのみ。
// SERVER_PORTで /health と /metrics を公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job, ops := buildWorker(repository.NewPostgresOAuthStateRepo(db), db, newRegistry())

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           ops,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ワーカーの運用エンドポイントを起動できません",
				slog.String("addr", server.Addr),
				slog.String("error", err.Error()),
			)
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.StateCleanupInterval),
		slog.String("addr", server.Addr),
	)

	job.Start(ctx, cfg.StateCleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	st, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(st.Version)),
	)
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

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.Redacted()
}
