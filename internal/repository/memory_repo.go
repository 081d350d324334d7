package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// NewMemoryStores はインメモリのリポジトリ一式を生成する。
// ローカル開発とテスト用で、プロセス終了時にデータは失われる。
func NewMemoryStores() *Stores {
	return &Stores{
		Users:           NewMemoryUserRepo(),
		Tasks:           NewMemoryTaskRepo(),
		Sessions:        NewMemorySessionRepo(),
		Revocations:     NewMemoryRevocationRepo(),
		BootstrapTokens: NewMemoryBootstrapTokenRepo(),
	}
}

// MemoryUserRepo はインメモリのユーザーリポジトリ。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *model.User
	for _, u := range r.users {
		if u.Email() != email {
			continue
		}
		if found == nil || u.CreatedAt().Before(found.CreatedAt()) {
			cp := u
			found = &cp
		}
	}
	return found, nil
}

// Save はユーザーを作成または更新する。
func (r *MemoryUserRepo) Save(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID()] = *user
	return nil
}

// MemoryTaskRepo はインメモリのタスクリポジトリ。
type MemoryTaskRepo struct {
	mu    sync.RWMutex
	tasks map[string]model.Task
}

// NewMemoryTaskRepo はMemoryTaskRepoを生成する。
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{tasks: make(map[string]model.Task)}
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *MemoryTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListByUserID は指定ユーザーのタスクを作成日時の降順で返す。
func (r *MemoryTaskRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make([]*model.Task, 0)
	for _, t := range r.tasks {
		if t.UserID() == userID {
			cp := t
			tasks = append(tasks, &cp)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt().Equal(tasks[j].CreatedAt()) {
			return tasks[i].CreatedAt().After(tasks[j].CreatedAt())
		}
		return tasks[i].ID() > tasks[j].ID()
	})
	return tasks, nil
}

// Save はタスクを作成または更新する。
func (r *MemoryTaskRepo) Save(ctx context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID()] = *task
	return nil
}

// DeleteByID は指定IDのタスクを削除する。
func (r *MemoryTaskRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

// MemorySessionRepo はインメモリのセッションリポジトリ。
type MemorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]model.Session
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: make(map[string]model.Session)}
}

// Create はセッションを作成する。
func (r *MemorySessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string, now time.Time) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok || s.Expired(now) {
		return nil, nil
	}
	return &s, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *MemorySessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
func (r *MemorySessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// MemoryRevocationRepo はインメモリの失効時刻リポジトリ。
type MemoryRevocationRepo struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewMemoryRevocationRepo はMemoryRevocationRepoを生成する。
func NewMemoryRevocationRepo() *MemoryRevocationRepo {
	return &MemoryRevocationRepo{revoked: make(map[string]time.Time)}
}

// Revoke は指定ユーザーの失効時刻を記録する。
func (r *MemoryRevocationRepo) Revoke(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[userID] = at
	return nil
}

// FindRevokedAt は失効時刻を返す。記録がない場合はnilを返す。
func (r *MemoryRevocationRepo) FindRevokedAt(ctx context.Context, userID string) (*time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.revoked[userID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

// MemoryBootstrapTokenRepo はインメモリのブートストラップトークン使用済み記録。
type MemoryBootstrapTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewMemoryBootstrapTokenRepo はMemoryBootstrapTokenRepoを生成する。
func NewMemoryBootstrapTokenRepo() *MemoryBootstrapTokenRepo {
	return &MemoryBootstrapTokenRepo{tokens: make(map[string]time.Time)}
}

// Consume はトークンを使用済みとして記録する。初回のみtrueを返す。
func (r *MemoryBootstrapTokenRepo) Consume(ctx context.Context, id, userID string, expiresAt, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, used := r.tokens[id]; used {
		return false, nil
	}
	r.tokens[id] = expiresAt
	return true, nil
}

// DeleteExpired は期限切れの記録を削除し、削除件数を返す。
func (r *MemoryBootstrapTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, expiresAt := range r.tokens {
		if !now.Before(expiresAt) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ UserRepository           = (*MemoryUserRepo)(nil)
	_ TaskRepository           = (*MemoryTaskRepo)(nil)
	_ SessionRepository        = (*MemorySessionRepo)(nil)
	_ RevocationRepository     = (*MemoryRevocationRepo)(nil)
	_ BootstrapTokenRepository = (*MemoryBootstrapTokenRepo)(nil)
)
