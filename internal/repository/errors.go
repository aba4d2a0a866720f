package repository

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

const (
	usersEmailIndex    = "users_email_lower_idx"
	usersIdentityIndex = "users_oauth_identity_idx"
)

// mapUniqueViolation は一意制約違反を制約名に応じたセンチネルエラーに変換する。
// 対象外のエラーや未知の制約の場合はnilを返す。
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case usersEmailIndex:
		return ErrDuplicateEmail
	case usersIdentityIndex:
		return ErrDuplicateIdentity
	default:
		return nil
	}
}

// isForeignKeyViolation は外部キー制約違反かどうかを返す。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation
}
