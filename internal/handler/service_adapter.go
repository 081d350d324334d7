package handler

import (
	"context"
	"time"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/user"
)

// TaskServiceAdapter は task.Service を TaskServiceInterface に適合させるアダプタ。
type TaskServiceAdapter struct {
	svc *task.Service
}

// NewTaskServiceAdapter はTaskServiceAdapterを生成する。
func NewTaskServiceAdapter(svc *task.Service) *TaskServiceAdapter {
	return &TaskServiceAdapter{svc: svc}
}

// AddTask はタスクを作成しhandlerレスポンス型で返す。
func (a *TaskServiceAdapter) AddTask(ctx context.Context, userID, title, description string) (*taskResponse, error) {
	t, err := a.svc.AddTask(ctx, userID, title, description)
	if err != nil {
		return nil, err
	}
	resp := toTaskResponse(t)
	return &resp, nil
}

// ListTasks はユーザーのタスク一覧をhandlerレスポンス型で返す。
func (a *TaskServiceAdapter) ListTasks(ctx context.Context, userID string) ([]taskResponse, error) {
	tasks, err := a.svc.GetTasks(ctx, userID)
	if err != nil {
		return nil, err
	}

	results := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		results[i] = toTaskResponse(t)
	}
	return results, nil
}

// GetTask はタスクを1件handlerレスポンス型で返す。
func (a *TaskServiceAdapter) GetTask(ctx context.Context, userID, taskID string) (*taskResponse, error) {
	t, err := a.svc.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	resp := toTaskResponse(t)
	return &resp, nil
}

// UpdateTask はタスクを部分更新しhandlerレスポンス型で返す。
func (a *TaskServiceAdapter) UpdateTask(ctx context.Context, userID, taskID string, patch task.Patch) (*taskResponse, error) {
	t, err := a.svc.UpdateTask(ctx, userID, taskID, patch)
	if err != nil {
		return nil, err
	}
	resp := toTaskResponse(t)
	return &resp, nil
}

// DeleteTask はタスクを削除する。
func (a *TaskServiceAdapter) DeleteTask(ctx context.Context, userID, taskID string) error {
	return a.svc.DeleteTask(ctx, userID, taskID)
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// CreateUser はユーザーを作成しhandlerレスポンス型で返す。
func (a *UserServiceAdapter) CreateUser(ctx context.Context, subjectID, email string) (*userResponse, error) {
	u, err := a.svc.CreateUser(ctx, subjectID, email)
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(u)
	return &resp, nil
}

// LoginUser は本人情報に対応するユーザーをhandlerレスポンス型で返す。
func (a *UserServiceAdapter) LoginUser(ctx context.Context, claims *model.Claims) (*userResponse, error) {
	u, err := a.svc.LoginUser(ctx, claims)
	if err != nil {
		return nil, err
	}
	resp := toUserResponse(u)
	return &resp, nil
}

// GetUserByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (a *UserServiceAdapter) GetUserByEmail(ctx context.Context, email string) (*userResponse, error) {
	u, err := a.svc.GetUserByEmail(ctx, email)
	if err != nil || u == nil {
		return nil, err
	}
	resp := toUserResponse(u)
	return &resp, nil
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:          t.ID(),
		UserID:      t.UserID(),
		Title:       t.Title(),
		Description: t.Description(),
		CreatedAt:   t.CreatedAt().UTC().Format(time.RFC3339),
		IsCompleted: t.IsCompleted(),
	}
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID(),
		Email:     u.Email(),
		CreatedAt: u.CreatedAt().UTC().Format(time.RFC3339),
	}
}

// compile-time interface check
var (
	_ TaskServiceInterface = (*TaskServiceAdapter)(nil)
	_ UserServiceInterface = (*UserServiceAdapter)(nil)
)
