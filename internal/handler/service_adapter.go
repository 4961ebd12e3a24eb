package handler

import (
	"context"

	"github.com/hitoshi/icantchat/internal/identity"
	"github.com/hitoshi/icantchat/internal/model"
	"github.com/hitoshi/icantchat/internal/username"
)

// AccountFinder はアカウントの検索に必要なインターフェース。
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
}

// UsernameApplier は username.Workflow の Apply 部分。
type UsernameApplier interface {
	Apply(ctx context.Context, externalUserID, text string) (username.Result, error)
}

// UsernameServiceAdapter は username.Workflow を UsernameServiceInterface に適合させるアダプタ。
// アカウントのUsernameにはDiscordユーザーIDが入っている。
type UsernameServiceAdapter struct {
	accounts AccountFinder
	workflow UsernameApplier
}

// NewUsernameServiceAdapter はUsernameServiceAdapterを生成する。
func NewUsernameServiceAdapter(accounts AccountFinder, workflow UsernameApplier) *UsernameServiceAdapter {
	return &UsernameServiceAdapter{accounts: accounts, workflow: workflow}
}

// ChangeUsername はアカウントのDiscordユーザーIDを解決してニックネーム変更を実行する。
func (a *UsernameServiceAdapter) ChangeUsername(ctx context.Context, accountID, text string) (*apiResponse, error) {
	account, err := a.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}

	result, err := a.workflow.Apply(ctx, account.Username, text)
	if err != nil {
		return nil, err
	}
	return &apiResponse{Status: result.Status, Type: result.Type, Text: result.Text}, nil
}

// ProfileFinder は identity.Service の参照部分。
type ProfileFinder interface {
	Profile(ctx context.Context, accountID string) (*identity.Profile, error)
}

// HistoryFinder は username.Workflow の履歴参照部分。
type HistoryFinder interface {
	History(ctx context.Context, externalUserID string, limit int) ([]*model.UsernameChange, error)
}

// ProfileServiceAdapter はプロフィールと変更履歴を ProfileServiceInterface に適合させるアダプタ。
type ProfileServiceAdapter struct {
	profiles ProfileFinder
	history  HistoryFinder
	limit    int
}

// NewProfileServiceAdapter はProfileServiceAdapterを生成する。
// limitは直近の変更履歴の取得件数。
func NewProfileServiceAdapter(profiles ProfileFinder, history HistoryFinder, limit int) *ProfileServiceAdapter {
	return &ProfileServiceAdapter{profiles: profiles, history: history, limit: limit}
}

// GetProfile はプロフィールと直近の変更履歴をhandlerレスポンス型で返す。
func (a *ProfileServiceAdapter) GetProfile(ctx context.Context, accountID string) (*profileResponse, error) {
	profile, err := a.profiles.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}

	changes, err := a.history.History(ctx, profile.ExternalUserID, a.limit)
	if err != nil {
		return nil, err
	}

	messages := make([]messageResponse, len(changes))
	for i, c := range changes {
		messages[i] = messageResponse{Text: c.Text, SentAt: c.SentAt}
	}

	return &profileResponse{
		AccountID:      profile.AccountID,
		ExternalUserID: profile.ExternalUserID,
		DisplayName:    profile.DisplayName,
		AvatarURL:      profile.AvatarURL,
		HasToken:       profile.HasToken,
		LastMessages:   messages,
	}, nil
}

// --- compile-time interface checks ---

var _ UsernameServiceInterface = (*UsernameServiceAdapter)(nil)
var _ ProfileServiceInterface = (*ProfileServiceAdapter)(nil)
