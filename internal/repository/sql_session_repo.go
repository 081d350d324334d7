package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// SQLSessionRepo はSQLデータベースを使用したセッションリポジトリ。
type SQLSessionRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLSessionRepo はSQLSessionRepoを生成する。
func NewSQLSessionRepo(db *sql.DB, d Dialect) *SQLSessionRepo {
	return &SQLSessionRepo{db: db, dialect: d}
}

// Create はセッションを作成する。
func (r *SQLSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(
		`INSERT INTO sessions (id, user_id, email, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		session.ID, session.UserID, session.Email,
		r.dialect.timeArg(session.ExpiresAt), r.dialect.timeArg(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *SQLSessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	var (
		session              model.Session
		expiresAt, createdAt dbTime
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT id, user_id, email, expires_at, created_at
		 FROM sessions
		 WHERE id = ? AND expires_at > ?`),
		id, r.dialect.timeArg(now),
	).Scan(&session.ID, &session.UserID, &session.Email, &expiresAt, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	session.ExpiresAt = expiresAt.Time
	session.CreatedAt = createdAt.Time
	return &session, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *SQLSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM sessions WHERE user_id = ?`), userID)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *SQLSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM sessions WHERE expires_at <= ?`), r.dialect.timeArg(now))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted session count: %w", err)
	}
	return n, nil
}

// SQLRevocationRepo はSQLデータベースを使用した失効時刻リポジトリ。
type SQLRevocationRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLRevocationRepo はSQLRevocationRepoを生成する。
func NewSQLRevocationRepo(db *sql.DB, d Dialect) *SQLRevocationRepo {
	return &SQLRevocationRepo{db: db, dialect: d}
}

// Revoke は指定ユーザーの失効時刻を記録する。
func (r *SQLRevocationRepo) Revoke(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(
		`INSERT INTO session_revocations (user_id, revoked_at)
		 VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET revoked_at = excluded.revoked_at`),
		userID, r.dialect.timeArg(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record revocation: %w", err)
	}
	return nil
}

// FindRevokedAt は失効時刻を返す。記録がない場合はnilを返す。
func (r *SQLRevocationRepo) FindRevokedAt(ctx context.Context, userID string) (*time.Time, error) {
	var revokedAt dbTime
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT revoked_at FROM session_revocations WHERE user_id = ?`), userID,
	).Scan(&revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find revocation: %w", err)
	}
	return &revokedAt.Time, nil
}

// compile-time interface check
var (
	_ SessionRepository    = (*SQLSessionRepo)(nil)
	_ RevocationRepository = (*SQLRevocationRepo)(nil)
)
