// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// ユーザーの作成・更新はユーザー管理側の責務で、認証コアは参照のみ行う。
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	RoleID       string // 未割り当ての場合は空文字
	RoleName     string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRole はユーザーにロールが割り当てられているかを返す。
func (u *User) HasRole() bool {
	return u.RoleID != ""
}

// Role はユーザーに割り当てられるロールを表す。
// ロールはパーミッションキーの集合を持つ。
type Role struct {
	ID   string
	Name string
}

// Principal はリクエストに紐付く認証済みユーザーを表す。
// 認証ミドルウェアがリクエストコンテキストに格納する。
type Principal struct {
	UserID   string
	Email    string
	Username string
	Role     string
}
