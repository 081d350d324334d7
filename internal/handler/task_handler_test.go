package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
)

// --- モック定義 ---

type mockTaskService struct {
	addTaskFn    func(ctx context.Context, userID, title, description string) (*taskResponse, error)
	listTasksFn  func(ctx context.Context, userID string) ([]taskResponse, error)
	getTaskFn    func(ctx context.Context, userID, taskID string) (*taskResponse, error)
	updateTaskFn func(ctx context.Context, userID, taskID string, patch task.Patch) (*taskResponse, error)
	deleteTaskFn func(ctx context.Context, userID, taskID string) error
}

func (m *mockTaskService) AddTask(ctx context.Context, userID, title, description string) (*taskResponse, error) {
	if m.addTaskFn != nil {
		return m.addTaskFn(ctx, userID, title, description)
	}
	return nil, nil
}

func (m *mockTaskService) ListTasks(ctx context.Context, userID string) ([]taskResponse, error) {
	if m.listTasksFn != nil {
		return m.listTasksFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockTaskService) GetTask(ctx context.Context, userID, taskID string) (*taskResponse, error) {
	if m.getTaskFn != nil {
		return m.getTaskFn(ctx, userID, taskID)
	}
	return nil, nil
}

func (m *mockTaskService) UpdateTask(ctx context.Context, userID, taskID string, patch task.Patch) (*taskResponse, error) {
	if m.updateTaskFn != nil {
		return m.updateTaskFn(ctx, userID, taskID, patch)
	}
	return nil, nil
}

func (m *mockTaskService) DeleteTask(ctx context.Context, userID, taskID string) error {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, userID, taskID)
	}
	return nil
}

const testTaskID = "3f2b8c1e-9a4d-4e7b-8c1f-2d3e4f5a6b7c"

// withUser はセッションミドルウェア通過後と同じ本人情報をリクエストに設定する。
func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withTaskID はchiのURLパラメータtaskIdを設定する。
func withTaskID(req *http.Request, taskID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("taskId", taskID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// --- CreateTask ---

// TestTaskHandler_CreateTask はタスク作成で201が返り、descriptionの既定値が空文字になることを検証する。
func TestTaskHandler_CreateTask(t *testing.T) {
	var gotDescription *string
	svc := &mockTaskService{
		addTaskFn: func(_ context.Context, userID, title, description string) (*taskResponse, error) {
			gotDescription = &description
			return &taskResponse{ID: testTaskID, UserID: userID, Title: title, Description: description}, nil
		},
	}
	h := NewTaskHandler(svc, false)

	req := withUser(newJSONRequest(http.MethodPost, "/api/tasks", `{"title":"Buy milk"}`), "user-1")
	w := httptest.NewRecorder()
	h.CreateTask(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if gotDescription == nil || *gotDescription != "" {
		t.Errorf("description = %v, want empty string", gotDescription)
	}
	body := decodeBody[taskResponse](t, w)
	if body.UserID != "user-1" || body.Title != "Buy milk" || body.IsCompleted {
		t.Errorf("unexpected body: %+v", body)
	}
}

// TestTaskHandler_CreateTask_Errors はタスク作成失敗時のステータスを検証する。
func TestTaskHandler_CreateTask_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		svcErr     error
		wantStatus int
	}{
		{"タイトルが空", `{"title":""}`, model.NewValidationError("Task title cannot be empty."), http.StatusBadRequest},
		{"不正なJSON", `not json`, nil, http.StatusBadRequest},
		{"型が不正", `{"title":1}`, nil, http.StatusBadRequest},
		{"基盤エラー", `{"title":"a"}`, errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockTaskService{
				addTaskFn: func(context.Context, string, string, string) (*taskResponse, error) {
					return nil, tt.svcErr
				},
			}
			h := NewTaskHandler(svc, false)

			w := httptest.NewRecorder()
			h.CreateTask(w, withUser(newJSONRequest(http.MethodPost, "/api/tasks", tt.body), "user-1"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// TestTaskHandler_Unauthenticated は本人情報のないリクエストが401になることを検証する。
func TestTaskHandler_Unauthenticated(t *testing.T) {
	h := NewTaskHandler(&mockTaskService{}, false)

	w := httptest.NewRecorder()
	h.ListTasks(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- ListTasks / GetTask ---

// TestTaskHandler_ListTasks はログインユーザーのタスク一覧が返ることを検証する。
func TestTaskHandler_ListTasks(t *testing.T) {
	svc := &mockTaskService{
		listTasksFn: func(_ context.Context, userID string) ([]taskResponse, error) {
			return []taskResponse{
				{ID: "t2", UserID: userID, Title: "newer"},
				{ID: "t1", UserID: userID, Title: "older"},
			}, nil
		},
	}
	h := NewTaskHandler(svc, false)

	w := httptest.NewRecorder()
	h.ListTasks(w, withUser(httptest.NewRequest(http.MethodGet, "/api/tasks", nil), "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decodeBody[[]taskResponse](t, w)
	if len(body) != 2 || body[0].ID != "t2" {
		t.Errorf("unexpected body: %+v", body)
	}
}

// TestTaskHandler_GetTask_Forbidden は他ユーザーのタスク取得が403になることを検証する。
func TestTaskHandler_GetTask_Forbidden(t *testing.T) {
	svc := &mockTaskService{
		getTaskFn: func(context.Context, string, string) (*taskResponse, error) {
			return nil, model.NewTaskForbiddenError("view")
		},
	}
	h := NewTaskHandler(svc, false)

	req := withTaskID(httptest.NewRequest(http.MethodGet, "/api/tasks/"+testTaskID, nil), testTaskID)
	w := httptest.NewRecorder()
	h.GetTask(w, withUser(req, "user-2"))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	body := decodeBody[middleware.ErrorResponseBody](t, w)
	if body.Message != "User does not have permission to view this task." {
		t.Errorf("message = %q", body.Message)
	}
}

// --- UpdateTask ---

// TestTaskHandler_UpdateTask はパッチのフィールドがサービスに渡されることを検証する。
func TestTaskHandler_UpdateTask(t *testing.T) {
	var gotPatch task.Patch
	svc := &mockTaskService{
		updateTaskFn: func(_ context.Context, userID, taskID string, patch task.Patch) (*taskResponse, error) {
			gotPatch = patch
			return &taskResponse{ID: taskID, UserID: userID, Title: "t", IsCompleted: true}, nil
		},
	}
	h := NewTaskHandler(svc, false)

	req := withTaskID(newJSONRequest(http.MethodPut, "/api/tasks/"+testTaskID, `{"isCompleted":true}`), testTaskID)
	w := httptest.NewRecorder()
	h.UpdateTask(w, withUser(req, "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotPatch.Title != nil || gotPatch.Description != nil {
		t.Errorf("unexpected patch fields: %+v", gotPatch)
	}
	if gotPatch.IsCompleted == nil || !*gotPatch.IsCompleted {
		t.Errorf("isCompleted = %v, want true", gotPatch.IsCompleted)
	}
	body := decodeBody[taskResponse](t, w)
	if !body.IsCompleted {
		t.Error("expected isCompleted true in response")
	}
}

// TestTaskHandler_UpdateTask_Errors は更新失敗時のステータスを検証する。
func TestTaskHandler_UpdateTask_Errors(t *testing.T) {
	tests := []struct {
		name       string
		taskID     string
		body       string
		svcErr     error
		wantStatus int
	}{
		{"UUIDでないID", "not-a-uuid", `{"title":"a"}`, nil, http.StatusBadRequest},
		{"空のパッチ", testTaskID, `{}`, model.NewValidationError("At least one field (title, description, or isCompleted) must be provided for update."), http.StatusBadRequest},
		{"所有者以外", testTaskID, `{"isCompleted":true}`, model.NewTaskForbiddenError("update"), http.StatusForbidden},
		{"存在しない", testTaskID, `{"isCompleted":true}`, model.NewTaskNotFoundError(), http.StatusNotFound},
		{"isCompletedの型が不正", testTaskID, `{"isCompleted":"yes"}`, nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockTaskService{
				updateTaskFn: func(context.Context, string, string, task.Patch) (*taskResponse, error) {
					called = true
					return nil, tt.svcErr
				},
			}
			h := NewTaskHandler(svc, false)

			req := withTaskID(newJSONRequest(http.MethodPut, "/api/tasks/"+tt.taskID, tt.body), tt.taskID)
			w := httptest.NewRecorder()
			h.UpdateTask(w, withUser(req, "user-1"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.svcErr == nil && called {
				t.Error("service should not be called for malformed request")
			}
		})
	}
}

// --- DeleteTask ---

// TestTaskHandler_DeleteTask は削除成功で204が返ることを検証する。
func TestTaskHandler_DeleteTask(t *testing.T) {
	var deleted string
	svc := &mockTaskService{
		deleteTaskFn: func(_ context.Context, _, taskID string) error {
			deleted = taskID
			return nil
		},
	}
	h := NewTaskHandler(svc, false)

	req := withTaskID(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+testTaskID, nil), testTaskID)
	w := httptest.NewRecorder()
	h.DeleteTask(w, withUser(req, "user-1"))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if deleted != testTaskID {
		t.Errorf("deleted = %q, want %q", deleted, testTaskID)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

// TestTaskHandler_DeleteTask_NotFound は存在しないタスクの削除が404になることを検証する。
func TestTaskHandler_DeleteTask_NotFound(t *testing.T) {
	svc := &mockTaskService{
		deleteTaskFn: func(context.Context, string, string) error {
			return model.NewTaskNotFoundError()
		},
	}
	h := NewTaskHandler(svc, false)

	req := withTaskID(httptest.NewRequest(http.MethodDelete, "/api/tasks/"+testTaskID, nil), testTaskID)
	w := httptest.NewRecorder()
	h.DeleteTask(w, withUser(req, "user-1"))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
