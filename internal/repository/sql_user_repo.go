package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/taskman/internal/model"
)

// SQLUserRepo はSQLデータベースを使用したユーザーリポジトリ。
type SQLUserRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *sql.DB, d Dialect) *SQLUserRepo {
	return &SQLUserRepo{db: db, dialect: d}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx, `SELECT id, email, created_at FROM users WHERE id = ?`, id)
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, `SELECT id, email, created_at FROM users WHERE email = ? ORDER BY created_at LIMIT 1`, email)
}

func (r *SQLUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	var (
		id, email string
		createdAt dbTime
	)
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), arg).Scan(&id, &email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	user, err := model.RestoreUser(id, email, createdAt.Time)
	if err != nil {
		return nil, fmt.Errorf("failed to restore user %s: %w", id, err)
	}
	return user, nil
}

// Save はユーザーを作成または更新する。
func (r *SQLUserRepo) Save(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(
		`INSERT INTO users (id, email, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET created_at = excluded.created_at`),
		user.ID(), user.Email(), r.dialect.timeArg(user.CreatedAt()),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*SQLUserRepo)(nil)
