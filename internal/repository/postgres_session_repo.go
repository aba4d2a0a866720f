package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
)

const insertSessionSQL = `
	INSERT INTO sessions (id, user_id, token, expires_at, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresSessionRepo は認証成功ごとのセッションをsessionsテーブルへ追記する。
// 更新・削除は行わない。
type PostgresSessionRepo struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db DBTX) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db, now: time.Now}
}

func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.now().UTC()
	}

	_, err := r.db.ExecContext(ctx, insertSessionSQL,
		session.ID, session.UserID, session.Token,
		session.ExpiresAt, session.UserAgent, session.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return fmt.Errorf("session for user %s: %w", session.UserID, ErrUnknownUser)
	default:
		return fmt.Errorf("failed to create session: %w", err)
	}
}

var _ SessionRepository = (*PostgresSessionRepo)(nil)
