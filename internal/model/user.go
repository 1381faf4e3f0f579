// Package model はドメインモデルを定義する。
package model

import "time"

// Role はマーケットプレイス上の利用者の役割を表す。
// サインアップ時に1回だけ決定され、以後変更されない。
type Role string

const (
	// RoleBuyer は包装資材を購入するバイヤー。
	RoleBuyer Role = "buyer"
	// RoleSupplier は包装資材を出品するサプライヤー。
	RoleSupplier Role = "supplier"
)

// ParseRole は文字列をRoleに変換する。未知の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleBuyer, RoleSupplier:
		return Role(s), true
	default:
		return "", false
	}
}

// Identity は認証基盤側で管理されるアカウントを表す。
// サインアップ時に作成され、以後不変。
type Identity struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Profile はIdentityに1対1で紐づくアプリケーション固有の属性。
type Profile struct {
	ID          string
	Email       string
	Role        Role
	CompanyName string
}

// DisplayName は画面表示用の名前を返す。
// 会社名が未設定の場合はメールアドレスを使用する。
func (p *Profile) DisplayName() string {
	if p.CompanyName != "" {
		return p.CompanyName
	}
	return p.Email
}

// Session はIdentityとProfileの組を表す。
// プロフィールが揃っていないIdentityはSessionとして公開されない。
type Session struct {
	Identity  Identity
	Profile   Profile
	ExpiresAt time.Time
}

// UserID はセッションのユーザーIDを返す。
func (s *Session) UserID() string {
	return s.Identity.ID
}

// Role はセッションのロールを返す。
func (s *Session) Role() Role {
	return s.Profile.Role
}
