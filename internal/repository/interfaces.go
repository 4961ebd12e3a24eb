// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/icantchat/internal/model"
)

// AccountRepository はローカルアカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// CreateWithIdentity はアカウントとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, account *model.Account, identity *model.Identity) error
}

// IdentityRepository はDiscordユーザー紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByExternalUserID はDiscordユーザーIDでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByExternalUserID(ctx context.Context, externalUserID string) (*model.Identity, error)

	// FindByAccountID はアカウントIDでidentityを検索する。見つからない場合はnilを返す。
	FindByAccountID(ctx context.Context, accountID string) (*model.Identity, error)

	// FindByTokenID は指定トークンを保持しているidentityを検索する。見つからない場合はnilを返す。
	FindByTokenID(ctx context.Context, tokenID string) (*model.Identity, error)

	// Bind はidentityのトークン参照とプロフィール情報を更新する。
	// staleTokenIDが空でなければ同一トランザクションで該当トークンを削除してから更新する。
	Bind(ctx context.Context, identity *model.Identity, staleTokenID string) error
}

// TokenRepository はOAuth2トークンの永続化インターフェース。
type TokenRepository interface {
	// FindByID は指定IDのトークンを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Token, error)

	// FindByAccessToken はアクセストークン文字列でトークンを検索する。見つからない場合はnilを返す。
	FindByAccessToken(ctx context.Context, accessToken string) (*model.Token, error)

	// FindByExternalUserID はDiscordユーザーIDに紐付いたトークンを取得する。
	// identityが存在しない、またはトークン未紐付けの場合はnilを返す。
	FindByExternalUserID(ctx context.Context, externalUserID string) (*model.Token, error)

	// GetOrCreate はアクセストークンをキーにトークンを取得、なければ作成する。
	// 既存レコードがあった場合はtokenのフィールドを既存の値で上書きし、falseを返す。
	GetOrCreate(ctx context.Context, token *model.Token) (bool, error)

	// UpdateRefreshed はpreviousAccessTokenが現在値と一致する場合に限りトークンを更新する。
	// 一致しなかった場合（他のリフレッシュが先行した場合）はfalseを返す。
	UpdateRefreshed(ctx context.Context, token *model.Token, previousAccessToken string) (bool, error)
}

// UsernameChangeRepository はニックネーム変更履歴の永続化インターフェース。
type UsernameChangeRepository interface {
	// Create は変更履歴を1件追加する。
	Create(ctx context.Context, change *model.UsernameChange) error

	// ListByExternalUserID はDiscordユーザーIDの変更履歴を新しい順に最大limit件返す。
	ListByExternalUserID(ctx context.Context, externalUserID string, limit int) ([]*model.UsernameChange, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}
