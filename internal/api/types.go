// Package api はサーバーとSDKの間で共有するJSONのワイヤー形式を定義する。
package api

import "time"

// UserMetadata はサインアップ時に登録される付加情報のワイヤー形式。
type UserMetadata struct {
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// User はアカウント情報のレスポンス。パスワードハッシュは含めない。
type User struct {
	ID               string       `json:"id"`
	Email            string       `json:"email"`
	EmailConfirmedAt *time.Time   `json:"email_confirmed_at"`
	UserMetadata     UserMetadata `json:"user_metadata"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Session はトークン発行のレスポンス。
// expires_atはUnix秒、expires_inは発行時点からの残り秒数。
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// SignUpRequest はPOST /auth/v1/signupのリクエストボディ。
type SignUpRequest struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	Data     UserMetadata `json:"data"`
}

// SignUpResponse はサインアップのレスポンス。
// メール確認が必要な場合sessionはnull。
type SignUpResponse struct {
	User    *User    `json:"user"`
	Session *Session `json:"session"`
}

// PasswordGrantRequest はgrant_type=passwordのリクエストボディ。
type PasswordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshGrantRequest はgrant_type=refresh_tokenのリクエストボディ。
type RefreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// VerifyRequest はPOST /auth/v1/verifyのリクエストボディ。
type VerifyRequest struct {
	Token string `json:"token"`
}

// Profile はprofilesテーブルの行のワイヤー形式。
type Profile struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	Phone       string    `json:"phone"`
	Role        string    `json:"role"`
	AvatarURL   string    `json:"avatar_url"`
	TotalOrders int       `json:"total_orders"`
	Points      int       `json:"points"`
	Rating      float64   `json:"rating"`
	MemberSince time.Time `json:"member_since"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileUpdate はPATCH /rest/v1/profiles/{id}のリクエストボディ。
// 省略したフィールドは変更しない。
type ProfileUpdate struct {
	FullName    *string  `json:"full_name,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	AvatarURL   *string  `json:"avatar_url,omitempty"`
	TotalOrders *int     `json:"total_orders,omitempty"`
	Points      *int     `json:"points,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
}

// ErrorResponse は統一エラーフォーマットのレスポンス。
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// HealthResponse はGET /healthのレスポンス。
type HealthResponse struct {
	Status string `json:"status"`
}
