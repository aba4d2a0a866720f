// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const (
	actionLogin    = "login"
	actionRegister = "register"

	maxRequestBodyBytes = 64 << 10
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, creds auth.Credentials) (*model.AuthResult, error)
	Login(ctx context.Context, creds auth.Credentials) (*model.AuthResult, error)
	BeginOAuth(ctx context.Context, provider string) (string, error)
	CompleteOAuth(ctx context.Context, code, state, userAgent string) (*model.AuthResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// CallbackTargetOrigin はコールバックページがpostMessageで送信する先のオリジン。
	CallbackTargetOrigin string
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.CallbackTargetOrigin == "" {
		config.CallbackTargetOrigin = "*"
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// authRequest は POST /auth のリクエストボディ。
type authRequest struct {
	Action       string `json:"action"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captchaToken"`
}

// authResponse は認証成功時のレスポンスボディ。
type authResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Authenticate はパスワードによるログインまたは登録を行う。
// POST /auth
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("リクエストボディが大きすぎます", slog.Int64("limit", maxErr.Limit))
		}
		middleware.WriteError(w, model.NewValidationError("Invalid request body"))
		return
	}

	creds := auth.Credentials{
		Email:        req.Email,
		Password:     req.Password,
		CaptchaToken: req.CaptchaToken,
		UserAgent:    r.UserAgent(),
	}

	var (
		result *model.AuthResult
		err    error
	)
	switch req.Action {
	case "", actionLogin:
		result, err = h.service.Login(r.Context(), creds)
	case actionRegister:
		result, err = h.service.Register(r.Context(), creds)
	default:
		middleware.WriteError(w, model.NewValidationError("Invalid action"))
		return
	}
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, authResponse{
		Token:  result.Token,
		UserID: result.UserID,
	})
}

// BeginOAuth は外部IdPの認可画面へリダイレクトする。
// GET /auth/oauth/{provider}
func (h *AuthHandler) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	authURL, err := h.service.BeginOAuth(r.Context(), provider)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はOAuthコールバックを処理し、トークンを呼び出し元ウィンドウへ渡すページを返す。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	result, err := h.service.CompleteOAuth(r.Context(), query.Get("code"), query.Get("state"), r.UserAgent())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := renderCallbackPage(w, callbackPageData{
		Token:        result.Token,
		UserID:       result.UserID,
		TargetOrigin: h.config.CallbackTargetOrigin,
	}); err != nil {
		slog.Error("コールバックページの描画に失敗しました", slog.String("error", err.Error()))
	}
}
