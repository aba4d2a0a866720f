// Package user は発行済みトークンからのユーザー参照を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/token"
)

// UserFinder はID指定でユーザーを取得するインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// TokenVerifier はBearerトークンを検証するインターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Profile はトークン所有者としてクライアントに返すユーザー情報。
// パスワードハッシュやOAuthの外部IDは含めない。
type Profile struct {
	UserID        string
	Email         string
	FullName      string
	AvatarURL     string
	OAuthProvider string
	HasPassword   bool
}

// Service はトークン所有者の参照を行うサービス層。
type Service struct {
	users  UserFinder
	tokens TokenVerifier
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(users UserFinder, tokens TokenVerifier) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
	}
}

// Me はトークンを検証し、その所有者のプロフィールを返す。
// 署名不正・期限切れ・該当ユーザーなしはすべて同じ認証エラーになる。
func (s *Service) Me(ctx context.Context, bearer string) (*Profile, error) {
	if bearer == "" {
		return nil, model.NewInvalidTokenError()
	}

	claims, err := s.tokens.Verify(bearer)
	if err != nil {
		slog.Debug("トークン検証に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidTokenError()
	}

	u, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, model.NewInternalError(fmt.Errorf("ユーザーの取得に失敗しました: %w", err))
	}
	if u == nil {
		slog.Warn("トークンのユーザーが存在しません",
			slog.String("user_id", claims.UserID),
		)
		return nil, model.NewInvalidTokenError()
	}

	return &Profile{
		UserID:        u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		AvatarURL:     u.AvatarURL,
		OAuthProvider: u.OAuthProvider,
		HasPassword:   u.HasPassword(),
	}, nil
}
