package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/model"
)

const oauthStateKeyPrefix = "oauth_state:"

// RedisOAuthStateRepo はRedisを使用したOAuth stateリポジトリ。
// 有効期限はキーのTTLで管理するため、期限切れレコードの掃除は不要。
type RedisOAuthStateRepo struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewRedisOAuthStateRepo はRedisOAuthStateRepoを生成する。
func NewRedisOAuthStateRepo(rdb redis.Cmdable) *RedisOAuthStateRepo {
	return &RedisOAuthStateRepo{rdb: rdb, now: time.Now}
}

type redisStateEntry struct {
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Save はstateレコードを有効期限までのTTL付きで保存する。
func (r *RedisOAuthStateRepo) Save(ctx context.Context, state *model.OAuthState) error {
	ttl := state.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("oauth state already expired")
	}

	data, err := json.Marshal(redisStateEntry{
		Provider:  state.Provider,
		ExpiresAt: state.ExpiresAt,
		CreatedAt: state.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize oauth state: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, oauthStateKeyPrefix+state.State, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("oauth state already exists")
	}
	return nil
}

// Consume はGETDELでstateレコードを取り出して削除する。
// 存在しない、または期限切れの場合はnilを返す。
func (r *RedisOAuthStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	val, err := r.rdb.GetDel(ctx, oauthStateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	var entry redisStateEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize oauth state: %w", err)
	}

	if !entry.ExpiresAt.After(r.now()) {
		return nil, nil
	}

	return &model.OAuthState{
		State:     state,
		Provider:  entry.Provider,
		ExpiresAt: entry.ExpiresAt,
		CreatedAt: entry.CreatedAt,
	}, nil
}

// compile-time interface check
var _ OAuthStateRepository = (*RedisOAuthStateRepo)(nil)
