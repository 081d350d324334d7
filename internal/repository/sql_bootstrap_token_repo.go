package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLBootstrapTokenRepo はSQLデータベースを使用したブートストラップトークンの使用済み記録。
type SQLBootstrapTokenRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLBootstrapTokenRepo はSQLBootstrapTokenRepoを生成する。
func NewSQLBootstrapTokenRepo(db *sql.DB, d Dialect) *SQLBootstrapTokenRepo {
	return &SQLBootstrapTokenRepo{db: db, dialect: d}
}

// Consume はトークンを使用済みとして記録する。
// 主キー衝突で挿入されなかった場合は使用済みとみなしfalseを返す。
func (r *SQLBootstrapTokenRepo) Consume(ctx context.Context, id, userID string, expiresAt, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(
		`INSERT INTO bootstrap_tokens (id, user_id, expires_at, used_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`),
		id, userID, r.dialect.timeArg(expiresAt), r.dialect.timeArg(now),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume bootstrap token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get consumed bootstrap token count: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired は期限切れの記録を削除し、削除件数を返す。
// 期限切れトークンは署名検証で拒否されるため、記録を消しても再利用はできない。
func (r *SQLBootstrapTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM bootstrap_tokens WHERE expires_at <= ?`), r.dialect.timeArg(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bootstrap tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted bootstrap token count: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ BootstrapTokenRepository = (*SQLBootstrapTokenRepo)(nil)
