package model

import "time"

// Claims は検証済みの本人情報を表す。
// リクエスト1回分の間だけ保持し、永続化しない。
type Claims struct {
	SubjectID string
	Email     string
	ExpiresAt time.Time
}

// Session はサーバー側で管理するログインセッションを表す。
// IDはセッション資格情報のjtiと一致する。
type Session struct {
	ID        string
	UserID    string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired は指定時刻の時点でセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionCredential はクライアントに渡すセッション資格情報。
type SessionCredential struct {
	Token  string
	Claims Claims
}
