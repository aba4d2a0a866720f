package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX は*sql.DBと*sql.Txに共通するクエリ実行メソッド。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Stores は同一トランザクションに束ねたリポジトリの組。
type Stores struct {
	Users    UserRepository
	Sessions SessionRepository
}

// Transactor はfnを1つのトランザクション内で実行する。
// fnがエラーを返した場合はロールバックし、そのエラーをそのまま返す。
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

// PostgresTransactor はdatabase/sqlのトランザクションでStoresを提供する。
type PostgresTransactor struct {
	db TxBeginner
}

// NewPostgresTransactor はPostgresTransactorを生成する。
func NewPostgresTransactor(db TxBeginner) *PostgresTransactor {
	return &PostgresTransactor{db: db}
}

func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(Stores) error) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(Stores{
		Users:    NewPostgresUserRepo(tx),
		Sessions: NewPostgresSessionRepo(tx),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ Transactor = (*PostgresTransactor)(nil)
