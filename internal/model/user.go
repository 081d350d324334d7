package model

import (
	"regexp"
	"strings"
	"time"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// User はサービス利用ユーザーを表す。
// id と email は生成後に変更されない。createdAt のみ一度だけ再同期できる。
type User struct {
	id              string
	email           string
	createdAt       time.Time
	createdAtSynced bool
}

// ValidateEmail はメールアドレスが空でなく形式が正しいことを検証する。
func ValidateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return NewValidationError("Email is required.")
	}
	if !emailPattern.MatchString(email) {
		return NewInvalidEmailError()
	}
	return nil
}

// NewUser はサインアップ時に新しいユーザーを生成する。
// IDには外部IdPが割り当てたサブジェクトIDを使用し、ローカルでは採番しない。
func NewUser(subjectID, email string, now time.Time) (*User, error) {
	return RestoreUser(subjectID, email, now)
}

// RestoreUser は永続化済みのユーザーを復元する。
func RestoreUser(id, email string, createdAt time.Time) (*User, error) {
	if id == "" {
		return nil, NewValidationError("User ID is required.")
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	return &User{
		id:        id,
		email:     email,
		createdAt: createdAt,
	}, nil
}

// ID はユーザーのサブジェクトIDを返す。
func (u *User) ID() string { return u.id }

// Email はメールアドレスを返す。
func (u *User) Email() string { return u.email }

// CreatedAt は作成日時を返す。
func (u *User) CreatedAt() time.Time { return u.createdAt }

// SyncCreatedAt はIdP側の作成日時でcreatedAtを一度だけ上書きする。
// 2回目以降は何もせずfalseを返す。
func (u *User) SyncCreatedAt(t time.Time) bool {
	if u.createdAtSynced || t.IsZero() {
		return false
	}
	u.createdAt = t
	u.createdAtSynced = true
	return true
}
