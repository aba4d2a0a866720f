package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusCounter     middleware.StatusCounter
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// トークン所有者参照（nilの場合 /auth/me は登録しない）
	UserService UserServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → StatusMetrics → Recovery → SecurityHeaders → CORS
//
// CORSミドルウェアが全パスのOPTIONSに200で応答するため、ルーティングには到達しない。
// POST /auth のみクライアントIP単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusCounter != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusCounter))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(notFound)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証 ---
	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)

	authenticate := http.Handler(http.HandlerFunc(authHandler.Authenticate))
	if deps.RateLimiter != nil {
		authenticate = deps.RateLimiter.Middleware()(authenticate)
	}
	r.Method(http.MethodPost, "/auth", authenticate)
	r.Get("/auth/oauth/{provider}", authHandler.BeginOAuth)
	r.Get("/auth/callback", authHandler.Callback)

	if deps.UserService != nil {
		r.Get("/auth/me", NewUserHandler(deps.UserService).Me)
	}

	return r
}

// NewOpsRouter は /health と /metrics のみを提供するルーターを返す。
// ワーカープロセスのヘルスチェックとメトリクス収集に使用する。
func NewOpsRouter(logger *slog.Logger, checker HealthChecker, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(notFound)

	r.Get("/health", NewHealthHandler(checker))
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	return r
}

// methodNotAllowed は未対応HTTPメソッドに405を返す。
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, model.NewMethodNotAllowedError())
}

// notFound は未定義パスに404を返す。
func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusNotFound, middleware.ErrorResponseBody{Error: "Not found"})
}
