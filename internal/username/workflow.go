package username

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/icantchat/internal/discord"
	"github.com/hitoshi/icantchat/internal/model"
	"github.com/hitoshi/icantchat/internal/repository"
)

// DefaultHistoryLimit は履歴取得件数のデフォルト値。
const DefaultHistoryLimit = 5

// 変更結果（メトリクスのラベルに使用）
const (
	OutcomeChanged  = "changed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Changer はDiscord上のニックネームを変更するインターフェース。
type Changer interface {
	ChangeUsername(ctx context.Context, accessToken, username string) (*discord.UserPayload, error)
}

// FreshnessGuard はトークンの鮮度を保証するインターフェース。
type FreshnessGuard interface {
	RequireFresh(ctx context.Context, token any) (*model.Token, error)
}

// MetricsRecorder はニックネーム変更の結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordUsernameChange(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordUsernameChange(string) {}

// Workflow はニックネーム変更を検証・実行し、成功した変更のみを履歴として記録する。
type Workflow struct {
	guard      FreshnessGuard
	client     Changer
	tokens     repository.TokenRepository
	identities repository.IdentityRepository
	changes    repository.UsernameChangeRepository
	logger     *slog.Logger
	metrics    MetricsRecorder
	now        func() time.Time
}

// NewWorkflow は新しいWorkflowを生成する。
func NewWorkflow(
	guard FreshnessGuard,
	client Changer,
	tokens repository.TokenRepository,
	identities repository.IdentityRepository,
	changes repository.UsernameChangeRepository,
	logger *slog.Logger,
	metrics MetricsRecorder,
) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Workflow{
		guard:      guard,
		client:     client,
		tokens:     tokens,
		identities: identities,
		changes:    changes,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

// ChangeUsername はトークンの所有者のニックネームをDiscord上で変更し、変更履歴を1件記録する。
// 処理順: トークンの鮮度確認（必要ならリフレッシュ）→ 入力検証 → Discord API呼び出し → 記録。
// 検証エラー・リモートエラーの場合は何も記録しない。
func (w *Workflow) ChangeUsername(ctx context.Context, token any, text string) (*model.UsernameChange, error) {
	fresh, err := w.guard.RequireFresh(ctx, token)
	if err != nil {
		w.metrics.RecordUsernameChange(OutcomeFailed)
		return nil, err
	}

	if err := Validate(text); err != nil {
		w.metrics.RecordUsernameChange(OutcomeRejected)
		return nil, model.NewWorkflowError(model.SummaryUsernameFormat, err)
	}

	if _, err := w.client.ChangeUsername(ctx, fresh.AccessToken, text); err != nil {
		w.metrics.RecordUsernameChange(OutcomeFailed)
		w.logger.Warn("username change rejected by provider",
			slog.String("token_id", fresh.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewWorkflowError(model.SummaryUsernameChange, err)
	}

	identity, err := w.identities.FindByTokenID(ctx, fresh.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token owner: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("token %s is not bound to any identity", fresh.ID)
	}

	change := &model.UsernameChange{
		IdentityID: identity.ID,
		Text:       text,
		SentAt:     w.now(),
	}
	if err := w.changes.Create(ctx, change); err != nil {
		return nil, fmt.Errorf("failed to record username change: %w", err)
	}

	w.metrics.RecordUsernameChange(OutcomeChanged)
	w.logger.Info("username changed",
		slog.String("identity_id", identity.ID),
		slog.String("external_user_id", identity.ExternalUserID),
	)
	return change, nil
}

// Apply はDiscordユーザーIDに紐付いたトークンでニックネームを変更し、結果を返す。
// WorkflowErrorは失敗のResultに変換する。それ以外のエラーはそのまま返す。
func (w *Workflow) Apply(ctx context.Context, externalUserID, text string) (Result, error) {
	token, err := w.tokens.FindByExternalUserID(ctx, externalUserID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to find token: %w", err)
	}
	if token == nil {
		return Failure(model.NewWorkflowError(model.SummaryTokenNotFound,
			fmt.Errorf("ユーザー %s のトークンが見つかりません。", externalUserID))), nil
	}

	change, err := w.ChangeUsername(ctx, token, text)
	if err != nil {
		var wfErr *model.WorkflowError
		if errors.As(err, &wfErr) {
			return Failure(wfErr), nil
		}
		return Result{}, err
	}
	return Success(change), nil
}

// History はDiscordユーザーIDの変更履歴を新しい順に最大limit件返す。
// limitが0以下の場合はDefaultHistoryLimitを使用する。
func (w *Workflow) History(ctx context.Context, externalUserID string, limit int) ([]*model.UsernameChange, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	changes, err := w.changes.ListByExternalUserID(ctx, externalUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load username history: %w", err)
	}
	return changes, nil
}
