// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/icantchat/internal/auth"
	"github.com/hitoshi/icantchat/internal/discord"
	"github.com/hitoshi/icantchat/internal/middleware"
	"github.com/hitoshi/icantchat/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*auth.CurrentUser, error)
}

// StateIssuer はOAuthのstateパラメータを発行・検証する。
type StateIssuer interface {
	Generate() (string, error)
	Verify(state string) bool
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はDiscord OAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	states  StateIssuer
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, states StateIssuer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		states:  states,
		config:  config,
	}
}

// meResponse はGET /auth/me のレスポンス。
type meResponse struct {
	ID       string           `json:"id"`
	Username string           `json:"username"`
	Discord  *discordIdentity `json:"discord"`
}

type discordIdentity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Login はDiscord OAuthフローを開始する。
// GET /auth/discord/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := h.states.Generate()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.setStateCookie(w, state, 600)
	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// Callback はDiscordからのOAuthコールバックを処理する。
// GET /auth/discord/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value != state || !h.states.Verify(state) {
		slog.Warn("oauth state mismatch", slog.String("path", r.URL.Path))
		http.Error(w, "invalid state parameter", http.StatusBadRequest)
		return
	}
	h.setStateCookie(w, "", -1)

	// ユーザーが認可画面で拒否した場合はerrorのみが返る
	if reason := r.URL.Query().Get("error"); reason != "" {
		slog.Info("discord authorization declined", slog.String("reason", reason))
		http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session.ID, h.config.SessionMaxAge)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			// 失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	h.setSessionCookie(w, "", -1)
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me は現在のログインアカウントと紐付いたDiscordユーザーを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if errors.Is(err, auth.ErrSessionNotFound) {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := meResponse{ID: user.Account.ID, Username: user.Account.Username}
	if user.Identity != nil {
		resp.Discord = &discordIdentity{
			UserID:      user.Identity.ExternalUserID,
			DisplayName: user.Identity.DisplayName,
			AvatarURL:   discord.AvatarURL(user.Identity.ExternalUserID, user.Identity.AvatarHash),
		}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
