// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

var (
	// ErrDuplicateEmail は同じメールアドレスのユーザーが既に存在する場合のエラー。
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateIdentity は同じ外部IdP identityが既に別ユーザーに紐付いている場合のエラー。
	ErrDuplicateIdentity = errors.New("oauth identity already linked")
	// ErrAlreadyLinked は紐付け対象のユーザーが既に外部IdP identityを持つ場合のエラー。
	ErrAlreadyLinked = errors.New("user already has an oauth identity")
	// ErrUnknownUser はセッションの参照先ユーザーが存在しない場合のエラー。
	ErrUnknownUser = errors.New("referenced user does not exist")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProviderIdentity はプロバイダーと外部IDでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderIdentity(ctx context.Context, provider, oauthID string) (*model.User, error)

	// CreatePasswordUser はパスワード認証のユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	CreatePasswordUser(ctx context.Context, user *model.User) error

	// CreateOAuthUser は外部IdP identityを持つユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmail、
	// identityが重複する場合はErrDuplicateIdentityを返す。
	CreateOAuthUser(ctx context.Context, user *model.User) error

	// LinkOAuthIdentity は既存ユーザーに外部IdP identityを紐付ける。
	// 表示名とアバターは未設定の場合のみ補完する。
	LinkOAuthIdentity(ctx context.Context, userID string, identity model.LinkedIdentity) error

	// TouchLastLogin は最終ログイン日時を更新する。
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを1件追記する。IDと作成日時が空の場合は補完する。
	// 参照先ユーザーが存在しない場合はErrUnknownUserを返す。
	Create(ctx context.Context, session *model.Session) error
}

// OAuthStateRepository はOAuth stateレコードの永続化インターフェース。
type OAuthStateRepository interface {
	// Save はstateレコードを保存する。
	Save(ctx context.Context, state *model.OAuthState) error

	// Consume はstateレコードを取り出して削除する。
	// 存在しない、または期限切れの場合はnilを返す。
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
}

// ExpiredStateDeleter は期限切れstateの一括削除を行うインターフェース。
// TTLで自動失効するストアは実装しない。
type ExpiredStateDeleter interface {
	// DeleteExpired はbefore以前に期限切れとなったstateを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
