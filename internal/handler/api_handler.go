package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/hitoshi/icantchat/internal/middleware"
	"github.com/hitoshi/icantchat/internal/model"
)

// apiDateFormat はエンベロープのdateフィールドの書式。
const apiDateFormat = "2006-01-02 15:04:05"

// maxUsernameBodyBytes はPOST /api/username のリクエストボディ上限。
const maxUsernameBodyBytes = 4 << 10

// apiResponse はAPIメソッドの結果。status/type/textの3要素で表す。
type apiResponse struct {
	Status string
	Type   string
	Text   string
}

// apiEnvelope はAPIメソッドのJSONレスポンス。HTTPステータスは常に200。
type apiEnvelope struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	Text   string `json:"text"`
	Date   string `json:"date"`
}

// 固定のエンベロープ
var (
	respNotImplemented = apiResponse{
		Status: "warning",
		Type:   "Not implemented",
		Text:   "This function has not been implemented yet.",
	}
	respNotAuthenticated = apiResponse{
		Status: "error",
		Type:   "Not Authenticated",
		Text:   "You are not authenticated.",
	}
	respWrongMethod = apiResponse{
		Status: "error",
		Type:   "Wrong method type",
		Text:   "You should use POST method only.",
	}
	respWrongArgs = apiResponse{
		Status: "error",
		Type:   "Wrong arguments.",
		Text:   "Wrong arguments passed to the API method.",
	}
)

// UsernameServiceInterface はニックネーム変更APIが必要とするサービスインターフェース。
type UsernameServiceInterface interface {
	// ChangeUsername はアカウントに紐付いたDiscordユーザーのニックネームを変更する。
	// ワークフローの失敗はerrorではなく、statusがerrorのapiResponseとして返す。
	ChangeUsername(ctx context.Context, accountID, username string) (*apiResponse, error)
}

// APIHandler はJSONエンベロープを返すAPIメソッド群のHTTPハンドラー。
type APIHandler struct {
	usernames UsernameServiceInterface
	now       func() time.Time
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(usernames UsernameServiceInterface) *APIHandler {
	return &APIHandler{usernames: usernames, now: time.Now}
}

// NotImplemented は未実装のAPIメソッドに対する警告を返す。
// /api, /api/dynamic-username
func (h *APIHandler) NotImplemented(w http.ResponseWriter, r *http.Request) {
	h.writeEnvelope(w, respNotImplemented)
}

// ChangeUsername はログイン中ユーザーのDiscordニックネームを変更する。
// POST /api/username (form または JSON の username フィールド)
// 認証、メソッド、引数の順に検査する。
func (h *APIHandler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	accountID, err := middleware.AccountIDFromContext(r.Context())
	if err != nil {
		h.writeEnvelope(w, respNotAuthenticated)
		return
	}

	if r.Method != http.MethodPost {
		h.writeEnvelope(w, respWrongMethod)
		return
	}

	username, ok := readUsernameArg(w, r)
	if !ok {
		h.writeEnvelope(w, respWrongArgs)
		return
	}

	resp, err := h.usernames.ChangeUsername(r.Context(), accountID, username)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound {
			h.writeEnvelope(w, respNotAuthenticated)
			return
		}
		handleServiceError(w, err)
		return
	}

	h.writeEnvelope(w, *resp)
}

// readUsernameArg はリクエストからusernameを読み取る。
// application/json の場合はJSONボディ、それ以外はフォームから読む。
// キー自体が存在しない場合はfalseを返す。空文字列は存在扱いとする。
func readUsernameArg(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUsernameBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			Username *string `json:"username"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == nil {
			return "", false
		}
		return *body.Username, true
	}

	if err := r.ParseForm(); err != nil {
		slog.Debug("failed to parse form", slog.String("error", err.Error()))
		return "", false
	}
	values, ok := r.PostForm["username"]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (h *APIHandler) writeEnvelope(w http.ResponseWriter, resp apiResponse) {
	middleware.WriteJSON(w, http.StatusOK, apiEnvelope{
		Status: resp.Status,
		Type:   resp.Type,
		Text:   resp.Text,
		Date:   h.now().Format(apiDateFormat),
	})
}
