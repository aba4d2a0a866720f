package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// DefaultStateTTL はstateレコードの有効期間。
const DefaultStateTTL = 10 * time.Minute

// StateStore はstateレコードの保存と消費を行うインターフェース。
type StateStore interface {
	// Save はstateレコードを保存する。
	Save(ctx context.Context, state *model.OAuthState) error
	// Consume はstateレコードを取り出して削除する。
	// 存在しない、または期限切れの場合はnilを返す。
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
}

// ExchangeRecorder はコード交換の結果を記録する。
type ExchangeRecorder interface {
	RecordOAuthExchange(provider, outcome string, duration time.Duration)
}

// Bridge はプロバイダーの選択、stateの発行と検証、コード交換を仲介する。
type Bridge struct {
	providers map[Provider]IdentityProvider
	states    StateStore
	stateTTL  time.Duration
	recorder  ExchangeRecorder
	now       func() time.Time
}

// NewBridge はBridgeを生成する。同じプロバイダーを複数渡した場合は後勝ち。
func NewBridge(states StateStore, stateTTL time.Duration, providers ...IdentityProvider) *Bridge {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	m := make(map[Provider]IdentityProvider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Bridge{
		providers: m,
		states:    states,
		stateTTL:  stateTTL,
		now:       time.Now,
	}
}

// WithRecorder はコード交換の記録先を設定する。
func (b *Bridge) WithRecorder(r ExchangeRecorder) *Bridge {
	b.recorder = r
	return b
}

// Begin はstateを発行して保存し、プロバイダーの認可URLを返す。
// 未対応または未設定のプロバイダーはErrUnknownProviderを返す。
func (b *Bridge) Begin(ctx context.Context, providerName string) (string, error) {
	name, err := ParseProvider(providerName)
	if err != nil {
		return "", err
	}
	p, ok := b.providers[name]
	if !ok {
		return "", ErrUnknownProvider
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	now := b.now()
	if err := b.states.Save(ctx, &model.OAuthState{
		State:     state,
		Provider:  string(name),
		ExpiresAt: now.Add(b.stateTTL),
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	return p.AuthCodeURL(state), nil
}

// Complete はstateを消費して対応するプロバイダーを特定し、認可コードを交換する。
func (b *Bridge) Complete(ctx context.Context, code, state string) (*Identity, error) {
	if code == "" || state == "" {
		return nil, ErrInvalidState
	}

	rec, err := b.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}
	if rec == nil {
		return nil, ErrInvalidState
	}

	p, ok := b.providers[Provider(rec.Provider)]
	if !ok {
		return nil, ErrUnknownProvider
	}

	start := b.now()
	identity, err := p.Exchange(ctx, code)
	if b.recorder != nil {
		b.recorder.RecordOAuthExchange(string(p.Name()), exchangeOutcome(err), b.now().Sub(start))
	}
	if err != nil {
		return nil, err
	}

	return identity, nil
}

// exchangeOutcome はコード交換の結果をメトリクス用のラベルに変換する。
func exchangeOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrExchangeRejected):
		return "rejected"
	case errors.Is(err, ErrExchangeUnsupported):
		return "unsupported"
	default:
		return "error"
	}
}

// generateState はCSRF対策用の32バイトの乱数をbase64urlで返す。
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
