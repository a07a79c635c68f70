// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証サービスに登録されたアカウントを表す。
// クライアントからはリモートサービスのAPI経由でのみ変更される。
type User struct {
	ID                string
	Email             string
	PasswordHash      string // bcryptハッシュ。APIレスポンスには含めない
	EmailConfirmedAt  *time.Time
	ConfirmationToken string // 未確認アカウントのみ保持する
	Metadata          UserMetadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserMetadata はサインアップ時に登録される付加情報。
type UserMetadata struct {
	FullName string
	Role     Role
}

// EmailConfirmed はメールアドレスが確認済みかどうかを返す。
func (u *User) EmailConfirmed() bool {
	return u.EmailConfirmedAt != nil
}

// Session はクライアントに発行される認証セッションを表す。
// AccessTokenの有効期限はExpiresAtで、期限切れ前にRefreshTokenで更新する。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         *User
}

// Expired は指定時刻の時点でアクセストークンが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RefreshToken はサーバー側で保持するリフレッシュトークンを表す。
// 生のトークンは保存せず、SHA-256ハッシュのみを保持する。
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
