package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/icantchat/internal/middleware"
	"github.com/hitoshi/icantchat/internal/model"
)

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var wfErr *model.WorkflowError
	if errors.As(err, &wfErr) {
		slog.Warn("discord workflow failed",
			slog.String("summary", wfErr.Summary),
			slog.String("details", wfErr.Details),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     ErrCodeDiscordFailed,
			Message:  wfErr.Summary,
			Category: "discord",
			Action:   "Discordでログインし直してください。",
		})
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// ErrCodeDiscordFailed はDiscordとのやり取りが失敗した場合のエラーコード。
const ErrCodeDiscordFailed = "DISCORD_FAILED"

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeUserNotFound:
		return http.StatusUnauthorized
	case model.ErrCodeIdentityNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
