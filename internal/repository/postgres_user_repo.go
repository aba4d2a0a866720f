package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

const userColumns = `id, email, password_hash, oauth_provider, oauth_id, full_name, avatar_url, last_login, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// *sql.Txを渡すとそのトランザクション内で動作する。
type PostgresUserRepo struct {
	db DBTX
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db DBTX) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByProviderIdentity はプロバイダーと外部IDでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByProviderIdentity(ctx context.Context, provider, oauthID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE oauth_provider = $1 AND oauth_id = $2`,
		provider, oauthID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}
	return user, nil
}

// CreatePasswordUser はパスワード認証のユーザーを作成する。
// 事前の存在確認は行わず、一意インデックスで重複を検出する。
func (r *PostgresUserRepo) CreatePasswordUser(ctx context.Context, user *model.User) error {
	if user.PasswordHash == "" {
		return fmt.Errorf("password hash is required")
	}
	return r.insert(ctx, user)
}

// CreateOAuthUser は外部IdP identityを持つユーザーを作成する。
func (r *PostgresUserRepo) CreateOAuthUser(ctx context.Context, user *model.User) error {
	if !user.HasOAuthIdentity() {
		return fmt.Errorf("oauth provider and id are required")
	}
	return r.insert(ctx, user)
}

func (r *PostgresUserRepo) insert(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, oauth_provider, oauth_id, full_name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email,
		nullString(user.PasswordHash), nullString(user.OAuthProvider), nullString(user.OAuthID),
		user.FullName, user.AvatarURL, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// LinkOAuthIdentity は外部IdP identityを持たない既存ユーザーにidentityを紐付ける。
// 既に紐付け済みの場合はErrAlreadyLinkedを返す。
func (r *PostgresUserRepo) LinkOAuthIdentity(ctx context.Context, userID string, identity model.LinkedIdentity) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET oauth_provider = $2,
		     oauth_id = $3,
		     full_name = CASE WHEN full_name = '' THEN $4 ELSE full_name END,
		     avatar_url = CASE WHEN avatar_url = '' THEN $5 ELSE avatar_url END,
		     updated_at = now()
		 WHERE id = $1 AND oauth_provider IS NULL`,
		userID, identity.Provider, identity.OAuthID, identity.FullName, identity.AvatarURL,
	)
	if err != nil {
		if dup := mapUniqueViolation(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to link oauth identity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyLinked
	}
	return nil
}

// TouchLastLogin は最終ログイン日時を更新する。
func (r *PostgresUserRepo) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// scanUser は1行をUserに変換する。行が存在しない場合はnil, nilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	var (
		user                                  model.User
		passwordHash, oauthProvider, oauthID sql.NullString
		lastLogin                             sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Email, &passwordHash, &oauthProvider, &oauthID,
		&user.FullName, &user.AvatarURL, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	user.PasswordHash = passwordHash.String
	user.OAuthProvider = oauthProvider.String
	user.OAuthID = oauthID.String
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}
	return &user, nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
