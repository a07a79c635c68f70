package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// Messageはリモートサービスの文言をそのまま保持し、クライアントは加工せずに呼び出し元へ返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, profile, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidInput             = "INVALID_INPUT"
	ErrCodeUserAlreadyRegistered    = "USER_ALREADY_REGISTERED"
	ErrCodeInvalidCredentials       = "INVALID_CREDENTIALS"
	ErrCodeEmailNotConfirmed        = "EMAIL_NOT_CONFIRMED"
	ErrCodeRateLimited              = "RATE_LIMITED"
	ErrCodeInvalidRefreshToken      = "INVALID_REFRESH_TOKEN"
	ErrCodeInvalidConfirmationToken = "INVALID_CONFIRMATION_TOKEN"
	ErrCodeUnauthorized             = "UNAUTHORIZED"
	ErrCodeForbidden                = "FORBIDDEN"
	ErrCodeUserNotFound             = "USER_NOT_FOUND"
	ErrCodeNoUser                   = "NO_USER"
	ErrCodeProfileNotFound          = "PROFILE_NOT_FOUND"
	ErrCodeInvalidRole              = "INVALID_ROLE"
	ErrCodeInvalidAvatarURL         = "INVALID_AVATAR_URL"
	ErrCodeInternal                 = "INTERNAL_ERROR"
)

// HasCode はerrがcodeを持つAPIErrorを含むかどうかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidInputError は入力値の検証エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserAlreadyRegisteredError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewUserAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeUserAlreadyRegistered,
		Message:  "User already registered",
		Category: "auth",
		Action:   "ログイン画面からサインインしてください。",
	}
}

// NewInvalidCredentialsError は認証情報の不一致エラーを生成する。
// メールアドレスの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid login credentials",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewEmailNotConfirmedError はメールアドレス未確認エラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "Email not confirmed",
		Category: "auth",
		Action:   "確認メールのリンクを開いてから再度サインインしてください。",
	}
}

// NewRateLimitedError はレート制限エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークンが無効な場合のエラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "Invalid Refresh Token",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewInvalidConfirmationTokenError は確認トークンが無効な場合のエラーを生成する。
func NewInvalidConfirmationTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfirmationToken,
		Message:  "Token has expired or is invalid",
		Category: "auth",
		Action:   "確認メールを再送してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Invalid or missing access token",
		Category: "auth",
		Action:   "サインインしてください。",
	}
}

// NewForbiddenError は他ユーザーのリソースへのアクセスエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Access to this resource is not allowed",
		Category: "auth",
		Action:   "自分のアカウントのデータのみ操作できます。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewNoUserError はサインインしていない状態での操作エラーを生成する。
// リモート呼び出しを行わずにクライアント側で返される。
func NewNoUserError() *APIError {
	return &APIError{
		Code:     ErrCodeNoUser,
		Message:  "No user logged in",
		Category: "auth",
		Action:   "サインインしてから操作してください。",
	}
}

// NewProfileNotFoundError はプロフィールが見つからない場合のエラーを生成する。
func NewProfileNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("Profile not found: %s", userID),
		Category: "profile",
		Action:   "しばらく待ってから再度読み込んでください。",
	}
}

// NewInvalidRoleError は無効なロールのエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("Invalid role: %s", role),
		Category: "validation",
		Action:   "ロールには customer、delivery、vendor のいずれかを指定してください。",
	}
}

// NewInvalidAvatarURLError はアバターURLが無効な場合のエラーを生成する。
func NewInvalidAvatarURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAvatarURL,
		Message:  fmt.Sprintf("Invalid avatar URL: %s", reason),
		Category: "validation",
		Action:   "公開されている画像のURL（http:// または https://）を指定してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
