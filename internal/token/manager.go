// Package token はDiscord OAuth2トークンのライフサイクル（取得・更新・鮮度確認）を管理する。
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/icantchat/internal/discord"
	"github.com/hitoshi/icantchat/internal/model"
	"github.com/hitoshi/icantchat/internal/repository"
)

// リフレッシュ結果（メトリクスのラベルに使用）
const (
	RefreshOutcomeRefreshed  = "refreshed"
	RefreshOutcomeSuperseded = "superseded"
	RefreshOutcomeFailed     = "failed"
)

// DefaultRefreshTimeout は共有リフレッシュ処理全体の上限時間。
const DefaultRefreshTimeout = 30 * time.Second

// ProviderClient はトークン管理に必要なDiscord API操作のインターフェース。
type ProviderClient interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*discord.TokenPayload, error)
	RefreshToken(ctx context.Context, refreshToken, redirectURI string) (*discord.TokenPayload, error)
}

// MetricsRecorder はトークンリフレッシュの結果を記録するインターフェース。
type MetricsRecorder interface {
	RecordTokenRefresh(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordTokenRefresh(string) {}

// Manager はトークンの作成・リフレッシュ・鮮度確認を行う。
// 同一トークンへの同時リフレッシュはプロセス内ではsingleflightで1回にまとめ、
// プロセス間ではアクセストークンの比較更新で後着側が先着側の結果を読み直す。
type Manager struct {
	client  ProviderClient
	tokens  repository.TokenRepository
	logger  *slog.Logger
	metrics MetricsRecorder
	group   singleflight.Group
	now     func() time.Time

	// RefreshTimeout は共有リフレッシュ処理の上限時間。呼び出し元のctxとは独立に適用される。
	RefreshTimeout time.Duration
}

// NewManager は新しいManagerを生成する。
// metricsがnilの場合は記録しない。
func NewManager(client ProviderClient, tokens repository.TokenRepository, logger *slog.Logger, metrics MetricsRecorder) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Manager{
		client:  client,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,

		RefreshTimeout: DefaultRefreshTimeout,
	}
}

// SetClock はテスト用に現在時刻の取得関数を差し替える。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// IsExpired は現在時刻でトークンが期限切れかどうかを返す。
func (m *Manager) IsExpired(token *model.Token) bool {
	return token.IsExpired(m.now())
}

// Create は認可コードをトークンに交換して保存する。
// 同じアクセストークンが既に保存されている場合は既存レコードを返す。
func (m *Manager) Create(ctx context.Context, code, redirectURI string) (*model.Token, error) {
	payload, err := m.client.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		m.logger.Warn("token exchange failed", slog.String("error", err.Error()))
		return nil, model.NewWorkflowError(model.SummaryTokenExchange, err)
	}

	token := &model.Token{
		AccessToken:  payload.AccessToken,
		TokenType:    payload.TokenType,
		IssuedAt:     m.now(),
		TTL:          payload.ExpiresIn,
		RefreshToken: payload.RefreshToken,
		Scope:        payload.Scope,
		RedirectURI:  redirectURI,
	}

	created, err := m.tokens.GetOrCreate(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	m.logger.Info("token stored",
		slog.String("token_id", token.ID),
		slog.String("access_token", token.MaskedAccessToken()),
		slog.Bool("created", created),
	)
	return token, nil
}

// Refresh は期限切れのトークンをリフレッシュし、tokenを新しい値で上書きする。
// 期限内のトークンに対しては何もしない（リモート呼び出しも行わない）。
// リモート呼び出しに失敗した場合、tokenも保存済みレコードも変更しない。
func (m *Manager) Refresh(ctx context.Context, token *model.Token) error {
	if !token.IsExpired(m.now()) {
		return nil
	}

	// 共有処理は最初の呼び出し元のキャンセルに巻き込まれないよう、独立したctxで実行する。
	// 各呼び出し元は自分のctxが終了した時点で待機をやめる。
	snapshot := *token
	ch := m.group.DoChan(snapshot.ID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.RefreshTimeout)
		defer cancel()
		return m.refresh(rctx, snapshot)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return res.Err
	}

	*token = res.Val.(model.Token)

	if res.Shared {
		m.logger.Debug("token refresh shared", slog.String("token_id", token.ID))
	}
	return nil
}

func (m *Manager) refresh(ctx context.Context, snapshot model.Token) (model.Token, error) {
	payload, err := m.client.RefreshToken(ctx, snapshot.RefreshToken, snapshot.RedirectURI)
	if err != nil {
		m.metrics.RecordTokenRefresh(RefreshOutcomeFailed)
		m.logger.Warn("token refresh failed",
			slog.String("token_id", snapshot.ID),
			slog.String("error", err.Error()),
		)
		return model.Token{}, model.NewWorkflowError(model.SummaryTokenRefresh, err)
	}

	updated := snapshot
	updated.AccessToken = payload.AccessToken
	updated.RefreshToken = payload.RefreshToken
	updated.TTL = payload.ExpiresIn
	updated.IssuedAt = m.now()
	if payload.TokenType != "" {
		updated.TokenType = payload.TokenType
	}
	if payload.Scope != "" {
		updated.Scope = payload.Scope
	}

	ok, err := m.tokens.UpdateRefreshed(ctx, &updated, snapshot.AccessToken)
	if err != nil {
		return model.Token{}, fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	if ok {
		m.metrics.RecordTokenRefresh(RefreshOutcomeRefreshed)
		m.logger.Info("token refreshed",
			slog.String("token_id", updated.ID),
			slog.Time("valid_until", updated.ValidUntil()),
		)
		return updated, nil
	}

	// 別プロセスのリフレッシュが先に保存された。保存済みの値を採用する。
	current, err := m.tokens.FindByID(ctx, snapshot.ID)
	if err != nil {
		return model.Token{}, fmt.Errorf("failed to reload token: %w", err)
	}
	if current == nil {
		return model.Token{}, model.NewWorkflowError(model.SummaryTokenRefresh,
			fmt.Errorf("token %s was removed during refresh", snapshot.ID))
	}
	m.metrics.RecordTokenRefresh(RefreshOutcomeSuperseded)
	m.logger.Info("token refresh superseded", slog.String("token_id", current.ID))
	return *current, nil
}

// RequireFresh はtokenがトークンであり、かつ（必要ならリフレッシュした上で）期限内であることを保証する。
// トークン以外が渡された場合、またはリフレッシュ後も期限切れの場合はWorkflowErrorを返す。
func (m *Manager) RequireFresh(ctx context.Context, token any) (*model.Token, error) {
	t, ok := token.(*model.Token)
	if !ok || t == nil {
		return nil, model.NewWorkflowError(model.SummaryTokenType,
			fmt.Errorf("expected *model.Token, got %T", token))
	}

	if err := m.Refresh(ctx, t); err != nil {
		return nil, err
	}

	if t.IsExpired(m.now()) {
		return nil, model.NewWorkflowError(model.SummaryTokenExpired, &model.StaleTokenError{
			TokenID:    t.ID,
			ValidUntil: t.ValidUntil().Format(time.RFC3339),
		})
	}
	return t, nil
}
