// Package user はユーザー登録・ログイン・検索のユースケースを提供する。
package user

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{
		userRepo: userRepo,
		now:      time.Now,
	}
}

// CreateUser はサインアップ時に新しいユーザーを作成する。
// subjectIDには外部IdPで検証済みのサブジェクトIDを渡し、そのままユーザーIDとする。
// 同じメールアドレスまたは同じサブジェクトのユーザーが既に存在する場合はConflictエラーを返す。
func (s *Service) CreateUser(ctx context.Context, subjectID, email string) (*model.User, error) {
	log := operationLogger("CreateUser",
		slog.String("user_id", subjectID),
		slog.String("email", email),
	)
	log.Info("attempting user creation")

	if subjectID == "" {
		return nil, model.NewValidationError("User ID is required.")
	}
	if err := model.ValidateEmail(email); err != nil {
		log.Warn("invalid email for new user", slog.String("error", err.Error()))
		return nil, err
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError(log, "User creation", err)
	}
	if existing == nil {
		existing, err = s.userRepo.FindByID(ctx, subjectID)
		if err != nil {
			return nil, internalError(log, "User creation", err)
		}
	}
	if existing != nil {
		log.Warn("user already exists", slog.String("existing_user_id", existing.ID()))
		return nil, model.NewUserAlreadyExistsError()
	}

	user, err := model.NewUser(subjectID, email, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		return nil, internalError(log, "User creation", err)
	}

	log.Info("user created")
	return user, nil
}

// LoginUser は検証済みの本人情報に対応する既存ユーザーを返す。
// 未登録の場合はNotFoundエラーを返す。メールアドレスの不一致は警告ログのみ出力し、記録は更新しない。
func (s *Service) LoginUser(ctx context.Context, claims *model.Claims) (*model.User, error) {
	if claims == nil || claims.SubjectID == "" {
		return nil, model.NewValidationError("Authentication details are required.")
	}
	log := operationLogger("LoginUser", slog.String("user_id", claims.SubjectID))
	log.Info("attempting login")

	user, err := s.userRepo.FindByID(ctx, claims.SubjectID)
	if err != nil {
		return nil, internalError(log, "User login", err)
	}
	if user == nil {
		log.Warn("user not found for login")
		return nil, model.NewUserNotFoundError()
	}

	if claims.Email != "" && user.Email() != claims.Email {
		log.Warn("email mismatch between stored user and identity claims")
	}

	log.Info("user logged in")
	return user, nil
}

// GetUserByEmail はメールアドレスでユーザーを検索する。
// 見つからない場合はエラーではなくnilを返す。
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	log := operationLogger("GetUserByEmail", slog.String("email", email))

	if err := model.ValidateEmail(email); err != nil {
		log.Warn("invalid email for lookup", slog.String("error", err.Error()))
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError(log, "User lookup", err)
	}
	if user == nil {
		log.Info("user not found by email")
		return nil, nil
	}
	return user, nil
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
