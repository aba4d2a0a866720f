// Package oauth はOAuth 2.0認可コードフローによる外部IdPログインを提供する。
package oauth

import (
	"context"
	"errors"
)

// Provider は対応する外部IdPの識別子。
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderYandex Provider = "yandex"
	ProviderVK     Provider = "vk"
)

var (
	// ErrUnknownProvider は未対応のプロバイダー名が指定された場合のエラー。
	ErrUnknownProvider = errors.New("unknown oauth provider")
	// ErrInvalidState はstateが存在しない、期限切れ、または使用済みの場合のエラー。
	ErrInvalidState = errors.New("invalid or expired oauth state")
	// ErrExchangeUnsupported は認可URLのみ対応し、コード交換が未実装のプロバイダーで返される。
	ErrExchangeUnsupported = errors.New("code exchange not supported for provider")
	// ErrExchangeRejected はトークンエンドポイントが認可コードを拒否した場合のエラー。
	ErrExchangeRejected = errors.New("authorization code rejected by provider")
)

// ParseProvider はプロバイダー名をProviderに変換する。
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(name); p {
	case ProviderGoogle, ProviderYandex, ProviderVK:
		return p, nil
	default:
		return "", ErrUnknownProvider
	}
}

// Identity は外部IdPで検証済みのユーザー情報。
type Identity struct {
	Provider      Provider
	ExternalID    string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// IdentityProvider は各IdPが実装する認可URL生成とコード交換の機能。
type IdentityProvider interface {
	// Name はプロバイダー識別子を返す。
	Name() Provider
	// AuthCodeURL はstateを埋め込んだ認可エンドポイントのURLを返す。
	AuthCodeURL(state string) string
	// Exchange は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
	Exchange(ctx context.Context, code string) (*Identity, error)
}
