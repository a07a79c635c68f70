package model

// AuthEvent は認証状態の変化の種別を表す。
type AuthEvent string

const (
	// AuthEventInitialSession は購読開始時に現在のセッションを通知する。
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	// AuthEventSignedIn はサインインの完了を通知する。
	AuthEventSignedIn AuthEvent = "SIGNED_IN"
	// AuthEventSignedOut はサインアウトまたはセッション失効を通知する。
	AuthEventSignedOut AuthEvent = "SIGNED_OUT"
	// AuthEventTokenRefreshed はアクセストークンの更新を通知する。
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	// AuthEventUserUpdated はユーザー情報の更新を通知する。
	AuthEventUserUpdated AuthEvent = "USER_UPDATED"
)

// AuthStateChange は認証状態変化イベントとその時点のセッション。
// サインアウト時のSessionはnil。
type AuthStateChange struct {
	Event   AuthEvent
	Session *Session
}
