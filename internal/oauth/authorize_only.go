package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ClientConfig は認可URLの生成に必要な最小限の設定。
type ClientConfig struct {
	ClientID    string
	RedirectURL string
}

// authorizeOnly は認可URLの生成のみに対応するプロバイダー。
// コールバックでのコード交換は実装されておらず、常にErrExchangeUnsupportedを返す。
type authorizeOnly struct {
	name Provider
	cfg  *oauth2.Config
}

// NewYandex はYandexプロバイダーを生成する。スコープは要求しない。
func NewYandex(config ClientConfig) IdentityProvider {
	return &authorizeOnly{
		name: ProviderYandex,
		cfg: &oauth2.Config{
			ClientID:    config.ClientID,
			RedirectURL: config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://oauth.yandex.ru/authorize",
				TokenURL: "https://oauth.yandex.ru/token",
			},
		},
	}
}

// NewVK はVKプロバイダーを生成する。
func NewVK(config ClientConfig) IdentityProvider {
	return &authorizeOnly{
		name: ProviderVK,
		cfg: &oauth2.Config{
			ClientID:    config.ClientID,
			RedirectURL: config.RedirectURL,
			Scopes:      []string{"email"},
			Endpoint:    endpoints.Vk,
		},
	}
}

func (p *authorizeOnly) Name() Provider {
	return p.name
}

func (p *authorizeOnly) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state)
}

func (p *authorizeOnly) Exchange(_ context.Context, _ string) (*Identity, error) {
	return nil, fmt.Errorf("%w: %s", ErrExchangeUnsupported, p.name)
}
