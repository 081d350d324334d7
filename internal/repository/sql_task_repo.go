package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/taskman/internal/model"
)

// SQLTaskRepo はSQLデータベースを使用したタスクリポジトリ。
type SQLTaskRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLTaskRepo はSQLTaskRepoを生成する。
func NewSQLTaskRepo(db *sql.DB, d Dialect) *SQLTaskRepo {
	return &SQLTaskRepo{db: db, dialect: d}
}

const taskColumns = `id, user_id, title, description, created_at, is_completed`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*model.Task, error) {
	var (
		id, userID, title, description string
		createdAt                      dbTime
		completed                      bool
	)
	if err := s.Scan(&id, &userID, &title, &description, &createdAt, &completed); err != nil {
		return nil, err
	}
	task, err := model.RestoreTask(id, userID, title, description, createdAt.Time, completed)
	if err != nil {
		return nil, fmt.Errorf("failed to restore task %s: %w", id, err)
	}
	return task, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *SQLTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return task, nil
}

// ListByUserID は指定ユーザーのタスクを作成日時の降順で返す。
func (r *SQLTaskRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// Save はタスクを作成または更新する。id, user_id, created_at は更新しない。
func (r *SQLTaskRepo) Save(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   is_completed = excluded.is_completed`),
		task.ID(), task.UserID(), task.Title(), task.Description(),
		r.dialect.timeArg(task.CreatedAt()), task.IsCompleted(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのタスクを削除する。
func (r *SQLTaskRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TaskRepository = (*SQLTaskRepo)(nil)
