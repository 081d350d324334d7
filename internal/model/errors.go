// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// エラーカテゴリ。トランスポート境界でのみHTTPステータスに変換される。
const (
	CategoryValidation     = "validation"
	CategoryAuthentication = "authentication"
	CategoryAuthorization  = "authorization"
	CategoryNotFound       = "not_found"
	CategoryConflict       = "conflict"
	CategorySystem         = "system"
)

// APIError は統一エラーフォーマットを表す。
// Categoryがエラー種別の判別子となる。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, authentication, authorization, not_found, conflict, system
	Action   string // ユーザー向け対処方法
	Cause    error  // 内部原因（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Cause
}

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidEmail      = "INVALID_EMAIL"
	ErrCodeEmailMismatch     = "EMAIL_MISMATCH"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeInvalidSession    = "INVALID_SESSION"
	ErrCodeInvalidCredential = "INVALID_CREDENTIAL"
	ErrCodeTaskForbidden     = "TASK_FORBIDDEN"
	ErrCodeTaskNotFound      = "TASK_NOT_FOUND"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeUserAlreadyExists = "USER_ALREADY_EXISTS"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: CategoryValidation,
		Action:   "Check the request and try again.",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "Invalid email format.",
		Category: CategoryValidation,
		Action:   "Enter a valid email address.",
	}
}

// NewEmailMismatchError はサインアップのメールアドレスがIdPで確認済みのものと異なる場合のエラー。
func NewEmailMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailMismatch,
		Message:  "Email does not match the signed-in account.",
		Category: CategoryValidation,
		Action:   "Sign up with the email address of your identity provider account.",
	}
}

// NewUnauthenticatedError はセッション未提示エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Unauthorized.",
		Category: CategoryAuthentication,
		Action:   "Please log in.",
	}
}

// NewInvalidSessionError はセッション資格情報が不正・期限切れ・失効済みの場合のエラーを生成する。
func NewInvalidSessionError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSession,
		Message:  "Session is invalid or has expired.",
		Category: CategoryAuthentication,
		Action:   "Please log in again.",
		Cause:    cause,
	}
}

// NewInvalidCredentialError は外部IDトークンやブートストラップトークンが無効な場合のエラーを生成する。
func NewInvalidCredentialError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "Authentication failed.",
		Category: CategoryAuthentication,
		Action:   "Sign in with your identity provider again.",
		Cause:    cause,
	}
}

// NewTaskForbiddenError は所有者以外によるタスク操作のエラーを生成する。
// verbには update, delete, view を指定する。
func NewTaskForbiddenError(verb string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskForbidden,
		Message:  fmt.Sprintf("User does not have permission to %s this task.", verb),
		Category: CategoryAuthorization,
		Action:   "Only the owner can access this task.",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  "Task not found.",
		Category: CategoryNotFound,
		Action:   "Check the task ID.",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found. Please sign up first.",
		Category: CategoryNotFound,
		Action:   "Create an account before logging in.",
	}
}

// NewUserAlreadyExistsError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewUserAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyExists,
		Message:  "User already exists. Please log in.",
		Category: CategoryConflict,
		Action:   "Log in with the existing account.",
	}
}

// NewInternalError はインフラ障害を包む汎用エラーを生成する。
// opには失敗した操作名を指定する。
func NewInternalError(op string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  fmt.Sprintf("%s failed.", op),
		Category: CategorySystem,
		Action:   "Please try again later.",
		Cause:    cause,
	}
}

// CategoryOf はエラーのカテゴリを返す。APIErrorでない場合はsystemとなる。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return CategorySystem
}
