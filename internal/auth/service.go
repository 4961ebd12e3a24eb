// Package auth はDiscord OAuth2によるログインフローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/icantchat/internal/model"
	"github.com/hitoshi/icantchat/internal/repository"
)

// ErrSessionNotFound はセッションが存在しないか期限切れの場合のエラー。
var ErrSessionNotFound = errors.New("session not found or expired")

// LoginURLBuilder はDiscordの認可URLを生成するインターフェース。
type LoginURLBuilder interface {
	AuthorizationURLWithState(redirectURI, state string) string
}

// TokenCreator は認可コードからトークンを作成するインターフェース。
type TokenCreator interface {
	Create(ctx context.Context, code, redirectURI string) (*model.Token, error)
}

// IdentityBinder はトークンの所有者をローカルのidentityに紐付けるインターフェース。
type IdentityBinder interface {
	Bind(ctx context.Context, token any) (*model.Identity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RedirectURL   string // Discordに登録したコールバックURL
	SessionMaxAge int    // セッション有効期間（秒）
}

// CurrentUser はログイン中のアカウントと、紐付いたDiscord identity。
type CurrentUser struct {
	Account  *model.Account
	Identity *model.Identity // 紐付けがない場合はnil
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	login       LoginURLBuilder
	tokens      TokenCreator
	binder      IdentityBinder
	accountRepo repository.AccountRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	login LoginURLBuilder,
	tokens TokenCreator,
	binder IdentityBinder,
	accountRepo repository.AccountRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		login:       login,
		tokens:      tokens,
		binder:      binder,
		accountRepo: accountRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はDiscordの認可URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.login.AuthorizationURLWithState(s.config.RedirectURL, state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 認可コードをトークンに交換し、トークンの所有者をidentityに紐付けてからセッションを作成する。
// 未登録のDiscordユーザーの場合はアカウントとidentityが同時に作成される。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	token, err := s.tokens.Create(ctx, code, s.config.RedirectURL)
	if err != nil {
		return nil, err
	}

	identity, err := s.binder.Bind(ctx, token)
	if err != nil {
		return nil, err
	}

	session, err := s.createSession(ctx, identity.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in",
		slog.String("account_id", identity.AccountID),
		slog.String("external_user_id", identity.ExternalUserID),
	)
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", maskSessionID(sessionID)))
	return nil
}

// GetCurrentUser はセッションから現在のアカウントとidentityを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*CurrentUser, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	account, err := s.accountRepo.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}

	identity, err := s.identRepo.FindByAccountID(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	return &CurrentUser{Account: account, Identity: identity}, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, accountID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		AccountID: accountID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func maskSessionID(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:8] + "***"
}
