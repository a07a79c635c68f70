// Package session はリモートの認証セッションとプロフィールを対応づけ、
// 認証状態の変化に応じたロール別の画面遷移を行うSessionManagerを提供する。
package session

import "github.com/hitoshi/mealdash/internal/model"

// Status は認証状態を表す。
type Status int

const (
	// StatusInitializing は既存セッションの確認中。
	StatusInitializing Status = iota
	// StatusUnauthenticated はセッションがない状態。
	StatusUnauthenticated
	// StatusAuthenticated はセッションがある状態。
	StatusAuthenticated
)

// String はStatusの名前を返す。
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// State はSessionManagerが保持する(Session, User, Profile)の組のスナップショット。
// ポインタの指す値は共有されるため、受け取った側で変更してはならない。
type State struct {
	Status  Status
	Session *model.Session
	User    *model.User
	Profile *model.Profile
}

// Loading は初期化中かどうかを返す。
func (s State) Loading() bool {
	return s.Status == StatusInitializing
}

// ProfileLoaded は現在のユーザーのプロフィールが読み込み済みかどうかを返す。
func (s State) ProfileLoaded() bool {
	return s.Status == StatusAuthenticated && s.User != nil && s.Profile != nil && s.Profile.ID == s.User.ID
}

// Role は遷移先の決定に使うロールを返す。
// プロフィールが未取得の場合はサインアップ時のメタデータを使う。
func (s State) Role() model.Role {
	if s.ProfileLoaded() {
		return s.Profile.Role
	}
	if s.User != nil && s.User.Metadata.Role.Valid() {
		return s.User.Metadata.Role
	}
	return model.RoleCustomer
}
