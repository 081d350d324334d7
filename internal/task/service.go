// Package task はタスク管理のユースケースを提供する。
// すべての操作は呼び出し元サブジェクトによる所有を検証してから実行する。
package task

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// Patch はタスクの部分更新内容。nilのフィールドは変更しない。
type Patch struct {
	Title       *string
	Description *string
	IsCompleted *bool
}

// Empty は更新対象のフィールドが1つもないかどうかを返す。
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.IsCompleted == nil
}

// Service はタスク管理のサービス層。
type Service struct {
	taskRepo repository.TaskRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(taskRepo repository.TaskRepository) *Service {
	return &Service{
		taskRepo: taskRepo,
		now:      time.Now,
	}
}

// AddTask は指定ユーザーの新しいタスクを作成する。
func (s *Service) AddTask(ctx context.Context, userID, title, description string) (*model.Task, error) {
	log := operationLogger("AddTask", slog.String("user_id", userID))
	log.Info("attempting to add task")

	task, err := model.NewTask(userID, title, description, s.now())
	if err != nil {
		log.Warn("invalid task", slog.String("error", err.Error()))
		return nil, err
	}
	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, internalError(log, "Task creation", err)
	}

	log.Info("task added", slog.String("task_id", task.ID()))
	return task, nil
}

// GetTasks は指定ユーザーのタスクを作成日時の新しい順に返す。
func (s *Service) GetTasks(ctx context.Context, userID string) ([]*model.Task, error) {
	log := operationLogger("GetTasks", slog.String("user_id", userID))

	if userID == "" {
		return nil, model.NewValidationError("User ID is required.")
	}
	tasks, err := s.taskRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, internalError(log, "Task retrieval", err)
	}

	log.Debug("tasks retrieved", slog.Int("count", len(tasks)))
	return tasks, nil
}

// GetTask は指定ユーザーが所有するタスクを1件返す。
func (s *Service) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	log := operationLogger("GetTask",
		slog.String("user_id", userID),
		slog.String("task_id", taskID),
	)
	return s.loadOwned(ctx, log, userID, taskID, "view")
}

// UpdateTask はタスクを部分更新する。
// パッチの値が現在の値と同じ場合はストアに書き込まずに現在のタスクを返す。
func (s *Service) UpdateTask(ctx context.Context, userID, taskID string, patch Patch) (*model.Task, error) {
	log := operationLogger("UpdateTask",
		slog.String("user_id", userID),
		slog.String("task_id", taskID),
	)
	log.Info("attempting to update task")

	task, err := s.loadOwned(ctx, log, userID, taskID, "update")
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, model.NewValidationError("At least one field (title, description, or isCompleted) must be provided for update.")
	}

	changed, err := applyPatch(task, patch)
	if err != nil {
		log.Warn("invalid task update", slog.String("error", err.Error()))
		return nil, err
	}
	if !changed {
		log.Info("no changes detected for task update")
		return task, nil
	}

	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, internalError(log, "Task update", err)
	}

	log.Info("task updated")
	return task, nil
}

// DeleteTask は指定ユーザーが所有するタスクを削除する。
func (s *Service) DeleteTask(ctx context.Context, userID, taskID string) error {
	log := operationLogger("DeleteTask",
		slog.String("user_id", userID),
		slog.String("task_id", taskID),
	)
	log.Info("attempting to delete task")

	if _, err := s.loadOwned(ctx, log, userID, taskID, "delete"); err != nil {
		return err
	}
	if err := s.taskRepo.DeleteByID(ctx, taskID); err != nil {
		return internalError(log, "Task deletion", err)
	}

	log.Info("task deleted")
	return nil
}

// loadOwned はタスクを取得し、存在と所有者を検証する。
// verbは権限エラーのメッセージに使用する。
func (s *Service) loadOwned(ctx context.Context, log *slog.Logger, userID, taskID, verb string) (*model.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return nil, internalError(log, "Task retrieval", err)
	}
	if task == nil {
		log.Warn("task not found")
		return nil, model.NewTaskNotFoundError()
	}
	if !task.OwnedBy(userID) {
		log.Warn("user does not own task", slog.String("owner_id", task.UserID()))
		return nil, model.NewTaskForbiddenError(verb)
	}
	return task, nil
}

// applyPatch はパッチをエンティティに適用し、値が実際に変わったかどうかを返す。
// 検証に失敗した場合、タスクは変更されない。
func applyPatch(task *model.Task, patch Patch) (bool, error) {
	title := task.Title()
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
	}
	description := task.Description()
	if patch.Description != nil {
		description = *patch.Description
	}
	detailsChanged := title != task.Title() || description != task.Description()
	completionChanged := patch.IsCompleted != nil && *patch.IsCompleted != task.IsCompleted()

	if detailsChanged {
		if err := task.UpdateDetails(title, description); err != nil {
			return false, err
		}
	}
	if completionChanged {
		if *patch.IsCompleted {
			task.MarkAsCompleted()
		} else {
			task.MarkAsPending()
		}
	}
	return detailsChanged || completionChanged, nil
}

// operationLogger は1回のユースケース実行を識別する属性付きのロガーを返す。
func operationLogger(operation string, attrs ...any) *slog.Logger {
	return slog.With(
		append([]any{
			slog.String("operation_id", uuid.NewString()),
			slog.String("operation", operation),
		}, attrs...)...,
	)
}

// internalError は基盤エラーをログに記録し、汎用の内部エラーに変換する。
// 既に分類済みのエラーはそのまま返す。
func internalError(log *slog.Logger, op string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	log.Error(op+" failed", slog.String("error", err.Error()))
	return model.NewInternalError(op, err)
}
