// Package repository はデータ永続化のインターフェースと実装を提供する。
// SQL実装（PostgreSQL / SQLite）とインメモリ実装を用意し、起動時に選択する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	// Save はユーザーを作成または更新する。
	Save(ctx context.Context, user *model.User) error
}

// TaskRepository はタスクデータの永続化インターフェース。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)
	// ListByUserID は指定ユーザーのタスクを作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Task, error)
	// Save はタスクを作成または更新する。
	Save(ctx context.Context, task *model.Task) error
	// DeleteByID は指定IDのタスクを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error)
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RevocationRepository はサブジェクト単位の失効時刻を管理するインターフェース。
type RevocationRepository interface {
	// Revoke は指定ユーザーの失効時刻を記録する。既存の記録は上書きする。
	Revoke(ctx context.Context, userID string, at time.Time) error
	// FindRevokedAt は失効時刻を返す。記録がない場合はnilを返す。
	FindRevokedAt(ctx context.Context, userID string) (*time.Time, error)
}

// BootstrapTokenRepository はブートストラップトークンの使用済み記録を管理するインターフェース。
type BootstrapTokenRepository interface {
	// Consume はトークンを使用済みとして記録する。初回のみtrueを返す。
	Consume(ctx context.Context, id, userID string, expiresAt, now time.Time) (bool, error)
	// DeleteExpired は期限切れの記録を削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Stores は起動時に選択されたリポジトリ実装一式。
type Stores struct {
	Users           UserRepository
	Tasks           TaskRepository
	Sessions        SessionRepository
	Revocations     RevocationRepository
	BootstrapTokens BootstrapTokenRepository
}
