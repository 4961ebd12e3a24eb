package identity

import (
	"context"
	"fmt"

	"github.com/hitoshi/icantchat/internal/discord"
	"github.com/hitoshi/icantchat/internal/model"
	"github.com/hitoshi/icantchat/internal/repository"
)

// Profile はログイン中ユーザーのDiscordプロフィール情報。
type Profile struct {
	AccountID      string
	ExternalUserID string
	DisplayName    string
	AvatarURL      string
	HasToken       bool
}

// Service はidentityの参照系操作を提供する。
type Service struct {
	identities repository.IdentityRepository
}

// NewService は新しいServiceを生成する。
func NewService(identities repository.IdentityRepository) *Service {
	return &Service{identities: identities}
}

// Profile はアカウントIDに紐付いたDiscordプロフィールを返す。
// identityが存在しない場合はIDENTITY_NOT_FOUNDエラーを返す。
func (s *Service) Profile(ctx context.Context, accountID string) (*Profile, error) {
	identity, err := s.identities.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity == nil {
		return nil, model.NewIdentityNotFoundError(accountID)
	}

	return &Profile{
		AccountID:      identity.AccountID,
		ExternalUserID: identity.ExternalUserID,
		DisplayName:    identity.DisplayName,
		AvatarURL:      discord.AvatarURL(identity.ExternalUserID, identity.AvatarHash),
		HasToken:       identity.HasToken(),
	}, nil
}
