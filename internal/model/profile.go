package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Role はユーザーの役割を表す。サインアップ時に1度だけ設定され、以後変更されない。
type Role string

const (
	// RoleCustomer は注文する一般ユーザー。
	RoleCustomer Role = "customer"
	// RoleDelivery は配達員。
	RoleDelivery Role = "delivery"
	// RoleVendor は飲食店の運営者。
	RoleVendor Role = "vendor"
)

// Roles は有効なRoleの一覧。
var Roles = []Role{RoleCustomer, RoleDelivery, RoleVendor}

// ParseRole は文字列をRoleに変換する。
// 空文字列はRoleCustomerとして扱い、未知の値はエラーを返す。
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RoleCustomer, nil
	}
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// Profile はUser.IDと1対1で紐づくアプリケーション側のユーザー情報。
// クライアントから削除されることはない。
type Profile struct {
	ID          string
	Email       string
	FullName    string
	Phone       string
	Role        Role
	AvatarURL   string
	TotalOrders int
	Points      int
	Rating      float64
	MemberSince time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewProfile はサインアップ直後の初期値を持つProfileを生成する。
// カウンタはすべて0で、member_sinceは現在時刻となる。
func NewProfile(user *User, now time.Time) *Profile {
	return &Profile{
		ID:          user.ID,
		Email:       user.Email,
		FullName:    user.Metadata.FullName,
		Role:        user.Metadata.Role,
		MemberSince: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ProfileUpdate はProfileの部分更新を表す。nilのフィールドは変更しない。
// RoleとEmailは更新対象に含めない。
type ProfileUpdate struct {
	FullName    *string
	Phone       *string
	AvatarURL   *string
	TotalOrders *int
	Points      *int
	Rating      *float64
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil &&
		u.Phone == nil &&
		u.AvatarURL == nil &&
		u.TotalOrders == nil &&
		u.Points == nil &&
		u.Rating == nil
}

// ApplyTo は部分更新をProfileに適用する。
func (u ProfileUpdate) ApplyTo(p *Profile) {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.TotalOrders != nil {
		p.TotalOrders = *u.TotalOrders
	}
	if u.Points != nil {
		p.Points = *u.Points
	}
	if u.Rating != nil {
		p.Rating = *u.Rating
	}
}
