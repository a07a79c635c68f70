// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mealdash/internal/model"
)

// UserRepository はアカウントデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithProfile はユーザーとプロフィールを同一トランザクションで作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	CreateWithProfile(ctx context.Context, user *model.User, profile *model.Profile) error

	// ConfirmByToken は確認トークンに一致するユーザーのメールアドレスを確認済みにする。
	// 一致するユーザーがいない場合はnilを返す。
	ConfirmByToken(ctx context.Context, token string, confirmedAt time.Time) (*model.User, error)
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
type RefreshTokenRepository interface {
	// Create はリフレッシュトークンを保存する。
	Create(ctx context.Context, token *model.RefreshToken) error
	// FindByHash はトークンハッシュで検索する。期限切れの場合はnilを返す。
	FindByHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	// DeleteByID は指定IDのトークンを削除する。
	// 削除対象が既に存在しない場合はfalseを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
	// DeleteByUserID は指定ユーザーの全トークンを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// InsertIfAbsent はプロフィールが存在しない場合のみ作成し、保存済みの行を返す。
	// 既に存在する場合は既存の行を変更せずに返す（冪等）。
	InsertIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// Update は部分更新を適用しupdated_atを更新する。
	// 対象行が存在しない場合はfalseを返す。
	Update(ctx context.Context, id string, update model.ProfileUpdate, updatedAt time.Time) (bool, error)
}
