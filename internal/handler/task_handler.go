package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	AddTask(ctx context.Context, userID, title, description string) (*taskResponse, error)
	ListTasks(ctx context.Context, userID string) ([]taskResponse, error)
	GetTask(ctx context.Context, userID, taskID string) (*taskResponse, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch task.Patch) (*taskResponse, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service        TaskServiceInterface
	exposeInternal bool
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface, exposeInternalErrors bool) *TaskHandler {
	return &TaskHandler{
		service:        service,
		exposeInternal: exposeInternalErrors,
	}
}

type taskResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	IsCompleted bool   `json:"isCompleted"`
}

type createTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsCompleted *bool   `json:"isCompleted"`
}

// CreateTask はタスクを作成する。descriptionを省略した場合は空文字となる。
// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	description := ""
	if req.Description != nil {
		description = *req.Description
	}

	resp, err := h.service.AddTask(r.Context(), userID, req.Title, description)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// ListTasks はログインユーザーのタスク一覧を新しい順に返す。
// GET /api/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

// GetTask はタスクを1件返す。
// GET /api/tasks/{taskId}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.service.GetTask(r.Context(), userID, taskID)
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpdateTask はタスクを部分更新する。
// PUT /api/tasks/{taskId}
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskRequest(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}

	resp, err := h.service.UpdateTask(r.Context(), userID, taskID, task.Patch{
		Title:       req.Title,
		Description: req.Description,
		IsCompleted: req.IsCompleted,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/{taskId}
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := h.taskRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteTask(r.Context(), userID, taskID); err != nil {
		h.fail(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// taskRequest はログインユーザーIDとパスのタスクIDを取り出す。
// 失敗した場合はエラーレスポンスを書き込んでfalseを返す。
func (h *TaskHandler) taskRequest(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return "", "", false
	}

	taskID := chi.URLParam(r, "taskId")
	if _, err := uuid.Parse(taskID); err != nil {
		h.fail(w, model.NewValidationError("Invalid Task ID format (must be UUID)."))
		return "", "", false
	}
	return userID, taskID, true
}

func (h *TaskHandler) fail(w http.ResponseWriter, err error) {
	handleServiceError(w, err, h.exposeInternal)
}
