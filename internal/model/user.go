// Package model はドメインモデルを定義する。
package model

import "time"

// Account はローカルアカウントを表す。
// UsernameにはDiscordのユーザーIDを格納する。
type Account struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Identity はローカルアカウントとDiscordユーザーとの紐付け情報を表す。
// 1アカウントにつき1件、アカウント作成時に同時に作成される。
type Identity struct {
	ID             string
	AccountID      string
	ExternalUserID string // 初回バインド以降は変更されない
	DisplayName    string
	AvatarHash     string
	TokenID        string // 紐付いているトークンがない場合は空文字
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasToken はトークンが紐付いているかどうかを返す。
func (i *Identity) HasToken() bool {
	return i.TokenID != ""
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
