package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/icantchat/internal/middleware"
	"github.com/hitoshi/icantchat/internal/model"
)

// profileResponse はGET /api/users/me のレスポンス。
type profileResponse struct {
	AccountID      string            `json:"account_id"`
	ExternalUserID string            `json:"external_user_id"`
	DisplayName    string            `json:"display_name"`
	AvatarURL      string            `json:"avatar_url"`
	HasToken       bool              `json:"has_token"`
	LastMessages   []messageResponse `json:"last_messages"`
}

// messageResponse は変更履歴1件分のレスポンス。
type messageResponse struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// ProfileServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	// GetProfile はアカウントのDiscordプロフィールと直近のニックネーム変更履歴を返す。
	GetProfile(ctx context.Context, accountID string) (*profileResponse, error)
}

// UserHandler はログイン中ユーザー情報のHTTPハンドラー。
type UserHandler struct {
	service ProfileServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service ProfileServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// GetProfile はプロフィールと直近のニックネーム変更履歴を返す。
// GET /api/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	profile, err := h.service.GetProfile(r.Context(), accountID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, profile)
}
