package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgresOAuthStateRepo はPostgreSQLを使用したOAuth stateリポジトリ。
type PostgresOAuthStateRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresOAuthStateRepo はPostgresOAuthStateRepoを生成する。
func NewPostgresOAuthStateRepo(db *sql.DB) *PostgresOAuthStateRepo {
	return &PostgresOAuthStateRepo{db: db, now: time.Now}
}

// Save はstateレコードを保存する。
func (r *PostgresOAuthStateRepo) Save(ctx context.Context, state *model.OAuthState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, provider, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		state.State, state.Provider, state.ExpiresAt, state.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// Consume はstateレコードを削除して返す。DELETE ... RETURNINGで取り出すため
// 同じstateを並行に消費しても成功するのは1回だけ。
// 存在しない、または期限切れの場合はnilを返す。
func (r *PostgresOAuthStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	rec := &model.OAuthState{}
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states WHERE state = $1
		 RETURNING state, provider, expires_at, created_at`,
		state,
	).Scan(&rec.State, &rec.Provider, &rec.ExpiresAt, &rec.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	if !rec.ExpiresAt.After(r.now()) {
		return nil, nil
	}
	return rec, nil
}

// DeleteExpired はbefore以前に期限切れとなったstateを削除する。
func (r *PostgresOAuthStateRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired oauth states: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var (
	_ OAuthStateRepository = (*PostgresOAuthStateRepo)(nil)
	_ ExpiredStateDeleter  = (*PostgresOAuthStateRepo)(nil)
)
