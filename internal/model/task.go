package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// タスクのフィールド長制限
const (
	TaskTitleMaxLength       = 100
	TaskDescriptionMaxLength = 500
)

// Task はユーザーが所有するタスクを表す。
// フィールドの変更は検証付きのメソッド経由でのみ行う。
type Task struct {
	id          string
	userID      string
	title       string
	description string
	createdAt   time.Time
	completed   bool
}

// NewTask は未完了状態の新しいタスクを生成する。タイトルは前後の空白を除去して保持する。
func NewTask(userID, title, description string, now time.Time) (*Task, error) {
	return RestoreTask(uuid.NewString(), userID, title, description, now, false)
}

// RestoreTask は永続化済みのタスクを復元する。
func RestoreTask(id, userID, title, description string, createdAt time.Time, completed bool) (*Task, error) {
	if id == "" {
		return nil, NewValidationError("Task ID is required.")
	}
	if userID == "" {
		return nil, NewValidationError("Task must belong to a user (userId is required).")
	}
	trimmed, err := validateTaskDetails(title, description)
	if err != nil {
		return nil, err
	}
	return &Task{
		id:          id,
		userID:      userID,
		title:       trimmed,
		description: description,
		createdAt:   createdAt,
		completed:   completed,
	}, nil
}

func validateTaskDetails(title, description string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", NewValidationError("Task title cannot be empty.")
	}
	if utf8.RuneCountInString(trimmed) > TaskTitleMaxLength {
		return "", NewValidationError("Task title cannot exceed 100 characters.")
	}
	if utf8.RuneCountInString(description) > TaskDescriptionMaxLength {
		return "", NewValidationError("Task description cannot exceed 500 characters.")
	}
	return trimmed, nil
}

func (t *Task) ID() string           { return t.id }
func (t *Task) UserID() string       { return t.userID }
func (t *Task) Title() string        { return t.title }
func (t *Task) Description() string  { return t.description }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) IsCompleted() bool    { return t.completed }

// OwnedBy はタスクが指定サブジェクトの所有物かどうかを返す。
func (t *Task) OwnedBy(subjectID string) bool {
	return subjectID != "" && t.userID == subjectID
}

// UpdateDetails はタイトルと説明を検証して更新する。
// 検証に失敗した場合は何も変更しない。
func (t *Task) UpdateDetails(title, description string) error {
	trimmed, err := validateTaskDetails(title, description)
	if err != nil {
		return err
	}
	t.title = trimmed
	t.description = description
	return nil
}

// MarkAsCompleted はタスクを完了状態にする。すでに完了なら何もしない。
func (t *Task) MarkAsCompleted() {
	if t.completed {
		return
	}
	t.completed = true
}

// MarkAsPending はタスクを未完了状態にする。すでに未完了なら何もしない。
func (t *Task) MarkAsPending() {
	if !t.completed {
		return
	}
	t.completed = false
}

// ToggleCompletion は完了状態を反転する。
func (t *Task) ToggleCompletion() {
	t.completed = !t.completed
}
