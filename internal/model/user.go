// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証対象のユーザーを表す。
// パスワードまたはOAuth identityの少なくとも一方を必ず持つ。
type User struct {
	ID            string
	Email         string
	PasswordHash  string // 空文字列はパスワード未設定を表す
	OAuthProvider string
	OAuthID       string
	FullName      string
	AvatarURL     string
	LastLogin     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword はパスワード認証が可能かどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasOAuthIdentity は外部IdPとの紐付けがあるかどうかを返す。
func (u *User) HasOAuthIdentity() bool {
	return u.OAuthProvider != "" && u.OAuthID != ""
}

// Session は認証成功ごとに記録されるセッション（監査）レコードを表す。
// このサービスからは追記のみで、更新・削除は行わない。
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	UserAgent string
	CreatedAt time.Time
}

// AuthResult は認証成功時にクライアントへ返す内容を表す。
type AuthResult struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// OAuthState は認可リダイレクトとコールバックを対応付ける一時レコード。
// Stateはプロバイダー名とは独立した暗号論的乱数で、1回だけ消費できる。
type OAuthState struct {
	State     string
	Provider  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// LinkedIdentity は既存ユーザーへ紐付ける外部IdP identityとプロフィール情報。
type LinkedIdentity struct {
	Provider  string
	OAuthID   string
	FullName  string
	AvatarURL string
}
