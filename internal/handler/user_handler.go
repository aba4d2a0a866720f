package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Me はトークン所有者のプロフィールを返す。
	Me(ctx context.Context, bearer string) (*user.Profile, error)
}

// UserHandler はトークン所有者参照のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// profileResponse は GET /auth/me のレスポンスボディ。
type profileResponse struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	FullName      string `json:"fullName,omitempty"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	OAuthProvider string `json:"oauthProvider,omitempty"`
	HasPassword   bool   `json:"hasPassword"`
}

// Me はトークン所有者のプロフィールを返す。
// GET /auth/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Me(r.Context(), bearerToken(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profileResponse{
		UserID:        profile.UserID,
		Email:         profile.Email,
		FullName:      profile.FullName,
		AvatarURL:     profile.AvatarURL,
		OAuthProvider: profile.OAuthProvider,
		HasPassword:   profile.HasPassword,
	})
}

// bearerToken はAuthorization: Bearer を優先し、無ければX-Auth-Tokenヘッダーを返す。
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get("X-Auth-Token"))
}
