package api

import (
	"fmt"
	"time"

	"github.com/hitoshi/mealdash/internal/model"
)

// FromUser はmodel.Userをレスポンス形式に変換する。
func FromUser(u *model.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		UserMetadata: UserMetadata{
			FullName: u.Metadata.FullName,
			Role:     string(u.Metadata.Role),
		},
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ToModel はワイヤー形式のUserをmodel.Userに変換する。
// 未知のロールはエラーとする。
func (u *User) ToModel() (*model.User, error) {
	if u == nil {
		return nil, nil
	}
	role, err := model.ParseRole(u.UserMetadata.Role)
	if err != nil {
		return nil, fmt.Errorf("invalid user metadata: %w", err)
	}
	return &model.User{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		Metadata:         model.UserMetadata{FullName: u.UserMetadata.FullName, Role: role},
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}, nil
}

// FromSession はmodel.Sessionをレスポンス形式に変換する。
// expires_inはnowからの残り秒数で、負にはならない。
func FromSession(s *model.Session, now time.Time) *Session {
	if s == nil {
		return nil
	}
	expiresIn := int64(s.ExpiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &Session{
		AccessToken:  s.AccessToken,
		TokenType:    s.TokenType,
		ExpiresIn:    expiresIn,
		ExpiresAt:    s.ExpiresAt.Unix(),
		RefreshToken: s.RefreshToken,
		User:         FromUser(s.User),
	}
}

// ToModel はワイヤー形式のSessionをmodel.Sessionに変換する。
func (s *Session) ToModel() (*model.Session, error) {
	if s == nil {
		return nil, nil
	}
	user, err := s.User.ToModel()
	if err != nil {
		return nil, err
	}
	return &model.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresAt:    time.Unix(s.ExpiresAt, 0),
		User:         user,
	}, nil
}

// FromProfile はmodel.Profileをレスポンス形式に変換する。
func FromProfile(p *model.Profile) *Profile {
	if p == nil {
		return nil
	}
	return &Profile{
		ID:          p.ID,
		Email:       p.Email,
		FullName:    p.FullName,
		Phone:       p.Phone,
		Role:        string(p.Role),
		AvatarURL:   p.AvatarURL,
		TotalOrders: p.TotalOrders,
		Points:      p.Points,
		Rating:      p.Rating,
		MemberSince: p.MemberSince,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

// ToModel はワイヤー形式のProfileをmodel.Profileに変換する。
// roleが空の場合はそのまま空として扱い、サーバー側で登録済みのロールを使う。
func (p *Profile) ToModel() (*model.Profile, error) {
	if p == nil {
		return nil, nil
	}
	var role model.Role
	if p.Role != "" {
		r, err := model.ParseRole(p.Role)
		if err != nil {
			return nil, model.NewInvalidRoleError(p.Role)
		}
		role = r
	}
	return &model.Profile{
		ID:          p.ID,
		Email:       p.Email,
		FullName:    p.FullName,
		Phone:       p.Phone,
		Role:        role,
		AvatarURL:   p.AvatarURL,
		TotalOrders: p.TotalOrders,
		Points:      p.Points,
		Rating:      p.Rating,
		MemberSince: p.MemberSince,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

// FromProfileUpdate はmodel.ProfileUpdateをリクエスト形式に変換する。
func FromProfileUpdate(u model.ProfileUpdate) ProfileUpdate {
	return ProfileUpdate{
		FullName:    u.FullName,
		Phone:       u.Phone,
		AvatarURL:   u.AvatarURL,
		TotalOrders: u.TotalOrders,
		Points:      u.Points,
		Rating:      u.Rating,
	}
}

// ToModel はリクエスト形式の部分更新をmodel.ProfileUpdateに変換する。
func (u ProfileUpdate) ToModel() model.ProfileUpdate {
	return model.ProfileUpdate{
		FullName:    u.FullName,
		Phone:       u.Phone,
		AvatarURL:   u.AvatarURL,
		TotalOrders: u.TotalOrders,
		Points:      u.Points,
		Rating:      u.Rating,
	}
}

// FromAPIError はmodel.APIErrorをレスポンス形式に変換する。
func FromAPIError(e *model.APIError) ErrorResponse {
	return ErrorResponse{
		Code:     e.Code,
		Message:  e.Message,
		Category: e.Category,
		Action:   e.Action,
	}
}

// ToModel はエラーレスポンスをmodel.APIErrorに変換する。
func (e ErrorResponse) ToModel() *model.APIError {
	return &model.APIError{
		Code:     e.Code,
		Message:  e.Message,
		Category: e.Category,
		Action:   e.Action,
	}
}
