// Package identity はDiscordユーザーとローカルアカウントの紐付けを管理する。
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/icantchat/internal/discord"
	"github.com/hitoshi/icantchat/internal/model"
	"github.com/hitoshi/icantchat/internal/repository"
)

// UserFetcher はトークン所有者のDiscordユーザー情報を取得するインターフェース。
type UserFetcher interface {
	GetCurrentUser(ctx context.Context, accessToken string) (*discord.UserPayload, error)
}

// FreshnessGuard はトークンの鮮度を保証するインターフェース。
type FreshnessGuard interface {
	RequireFresh(ctx context.Context, token any) (*model.Token, error)
}

// Binder はトークンの所有者をローカルのidentityに紐付ける。
type Binder struct {
	guard      FreshnessGuard
	client     UserFetcher
	accounts   repository.AccountRepository
	identities repository.IdentityRepository
	tokens     repository.TokenRepository
	logger     *slog.Logger
	now        func() time.Time
}

// NewBinder は新しいBinderを生成する。
func NewBinder(
	guard FreshnessGuard,
	client UserFetcher,
	accounts repository.AccountRepository,
	identities repository.IdentityRepository,
	tokens repository.TokenRepository,
	logger *slog.Logger,
) *Binder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Binder{
		guard:      guard,
		client:     client,
		accounts:   accounts,
		identities: identities,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (b *Binder) SetClock(now func() time.Time) {
	b.now = now
}

// Bind はトークンの所有者を取得し、対応するidentityにトークンとプロフィールを紐付ける。
// 同じDiscordユーザーに対する繰り返しのBindは同一のidentityを更新する。
// 以前のトークンが期限切れであれば、新しいトークンを紐付ける前に削除する。
func (b *Binder) Bind(ctx context.Context, token any) (*model.Identity, error) {
	fresh, err := b.guard.RequireFresh(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := b.client.GetCurrentUser(ctx, fresh.AccessToken)
	if err != nil {
		b.logger.Warn("failed to fetch token owner",
			slog.String("token_id", fresh.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewWorkflowError(model.SummaryUserFetch, err)
	}

	identity, err := b.identities.FindByExternalUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}
	if identity == nil {
		identity, err = b.CreateAccount(ctx, user.ID)
		if err != nil {
			return nil, err
		}
	}

	staleTokenID, err := b.staleTokenID(ctx, identity, fresh)
	if err != nil {
		return nil, err
	}

	bound := *identity
	bound.TokenID = fresh.ID
	bound.DisplayName = user.Username
	bound.AvatarHash = user.Avatar
	bound.UpdatedAt = b.now()

	if err := b.identities.Bind(ctx, &bound, staleTokenID); err != nil {
		return nil, fmt.Errorf("failed to bind identity: %w", err)
	}

	b.logger.Info("identity bound",
		slog.String("identity_id", bound.ID),
		slog.String("external_user_id", bound.ExternalUserID),
		slog.String("token_id", bound.TokenID),
		slog.Bool("stale_token_deleted", staleTokenID != ""),
	)
	return &bound, nil
}

// staleTokenID は削除すべき以前のトークンIDを返す。
// 以前のトークンが存在し、新しいトークンと異なり、かつ期限切れの場合のみ対象とする。
func (b *Binder) staleTokenID(ctx context.Context, identity *model.Identity, fresh *model.Token) (string, error) {
	if !identity.HasToken() || identity.TokenID == fresh.ID {
		return "", nil
	}
	previous, err := b.tokens.FindByID(ctx, identity.TokenID)
	if err != nil {
		return "", fmt.Errorf("failed to load previous token: %w", err)
	}
	if previous == nil || !previous.IsExpired(b.now()) {
		return "", nil
	}
	return previous.ID, nil
}

// CreateAccount はローカルアカウントと、それに対応する唯一のidentityを同時に作成する。
// アカウントのユーザー名にはDiscordユーザーIDを使用する。
func (b *Binder) CreateAccount(ctx context.Context, externalUserID string) (*model.Identity, error) {
	now := b.now()
	account := &model.Account{
		ID:        uuid.New().String(),
		Username:  externalUserID,
		CreatedAt: now,
	}
	identity := &model.Identity{
		ID:             uuid.New().String(),
		AccountID:      account.ID,
		ExternalUserID: externalUserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := b.accounts.CreateWithIdentity(ctx, account, identity); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	b.logger.Info("account created",
		slog.String("account_id", account.ID),
		slog.String("external_user_id", externalUserID),
	)
	return identity, nil
}
