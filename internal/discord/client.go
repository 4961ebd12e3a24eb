// Package discord はDiscordのOAuth2およびユーザーAPIのクライアントを提供する。
// ネットワークI/Oはすべてこのパッケージに閉じる。リトライは行わない。
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultAPIURL はDiscord APIのベースURL。
	DefaultAPIURL = "https://discord.com/api/v6"
	// DefaultUserAgent はDiscord APIへのリクエストに付与するUser-Agent。
	DefaultUserAgent = "ICantChatDiscordApi (i-cant-chat.herokuapp.com, 1)"
	// DefaultTimeout は外部呼び出し1回あたりのタイムアウト。
	DefaultTimeout = 10 * time.Second

	authorizePath   = "/oauth2/authorize"
	tokenPath       = "/oauth2/token"
	currentUserPath = "/users/@me"
	oauthScope      = "identify email"
)

// API呼び出しの種類（メトリクスのラベルに使用）
const (
	OperationExchangeCode   = "exchange_code"
	OperationRefreshToken   = "refresh_token"
	OperationGetCurrentUser = "get_current_user"
	OperationChangeUsername = "change_username"
)

// API呼び出しの結果（メトリクスのラベルに使用）
const (
	OutcomeSuccess        = "success"
	OutcomeRemoteError    = "remote_error"
	OutcomeTransportError = "transport_error"
)

// MetricsRecorder はAPI呼び出しのメトリクスを記録するインターフェース。
type MetricsRecorder interface {
	RecordDiscordCall(operation, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordDiscordCall(string, string, time.Duration) {}

// Config はDiscord APIクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string // テスト用にオーバーライド可能
	UserAgent    string
	Timeout      time.Duration
}

// TokenPayload はトークンエンドポイントのレスポンス。
type TokenPayload struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    time.Duration
	RefreshToken string
	Scope        string
}

// UserPayload は/users/@meのレスポンス。
type UserPayload struct {
	ID       string
	Username string
	Avatar   string // アバター未設定の場合は空文字
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type userResponse struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// Client はDiscord APIのクライアント。
// プロセス起動時に1つ生成し、必要なコンポーネントに注入して共有する。
type Client struct {
	config     Config
	httpClient *http.Client
	headers    *headerCache
	logger     *slog.Logger
	metrics    MetricsRecorder
}

// NewClient はClientを生成する。
// httpClientのタイムアウトが未設定の場合はConfig.Timeoutを設定したコピーを使用する。
func NewClient(config Config, httpClient *http.Client, logger *slog.Logger, metrics MetricsRecorder) *Client {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	} else if httpClient.Timeout == 0 {
		copied := *httpClient
		copied.Timeout = config.Timeout
		httpClient = &copied
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		headers:    newHeaderCache(config.UserAgent),
		logger:     logger,
		metrics:    metrics,
	}
}

// AuthorizationURL はOAuth2認可画面のURLを生成する。I/Oは行わない。
func (c *Client) AuthorizationURL(redirectURI string) string {
	return c.AuthorizationURLWithState(redirectURI, "")
}

// AuthorizationURLWithState はCSRF対策用のstateを含む認可URLを生成する。
// stateが空の場合はパラメータを付与しない。
func (c *Client) AuthorizationURLWithState(redirectURI, state string) string {
	params := url.Values{
		"client_id":     {c.config.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {oauthScope},
	}
	if state != "" {
		params.Set("state", state)
	}
	return c.config.APIURL + authorizePath + "?" + params.Encode()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenPayload, error) {
	return c.requestToken(ctx, OperationExchangeCode, url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"scope":         {oauthScope},
	})
}

// RefreshToken はリフレッシュトークンで新しいアクセストークンを取得する。
func (c *Client) RefreshToken(ctx context.Context, refreshToken, redirectURI string) (*TokenPayload, error) {
	return c.requestToken(ctx, OperationRefreshToken, url.Values{
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"redirect_uri":  {redirectURI},
		"scope":         {oauthScope},
	})
}

// GetCurrentUser はアクセストークンの所有者の情報を取得する。
func (c *Client) GetCurrentUser(ctx context.Context, accessToken string) (*UserPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.APIURL+currentUserPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	return c.doUserRequest(req, OperationGetCurrentUser)
}

// ChangeUsername はアクセストークンの所有者のユーザー名を変更する。
func (c *Client) ChangeUsername(ctx context.Context, accessToken, username string) (*UserPayload, error) {
	body, err := json.Marshal(map[string]string{"username": username})
	if err != nil {
		return nil, fmt.Errorf("failed to encode change username request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.config.APIURL+currentUserPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create change username request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")

	return c.doUserRequest(req, OperationChangeUsername)
}

// requestToken はトークンエンドポイントにフォームエンコードされたリクエストを送る。
func (c *Client) requestToken(ctx context.Context, operation string, data url.Values) (*TokenPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.APIURL+tokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.config.UserAgent)

	var tokenResp tokenResponse
	err = c.do(req, operation, &tokenResp, func() error {
		if tokenResp.AccessToken == "" || tokenResp.ExpiresIn < 0 {
			return errors.New("token response without access_token or with negative expires_in")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TokenPayload{
		AccessToken:  tokenResp.AccessToken,
		TokenType:    tokenResp.TokenType,
		ExpiresIn:    time.Duration(tokenResp.ExpiresIn) * time.Second,
		RefreshToken: tokenResp.RefreshToken,
		Scope:        tokenResp.Scope,
	}, nil
}

// doUserRequest はユーザーAPIを呼び出しUserPayloadに変換する。
func (c *Client) doUserRequest(req *http.Request, operation string) (*UserPayload, error) {
	var userResp userResponse
	err := c.do(req, operation, &userResp, func() error {
		if userResp.ID == "" {
			return errors.New("user response without id")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user := &UserPayload{
		ID:       userResp.ID,
		Username: userResp.Username,
	}
	if userResp.Avatar != nil {
		user.Avatar = *userResp.Avatar
	}
	return user, nil
}

// do はリクエストを送信し、成功時はレスポンスをoutにデコードしてcheckで必須項目を検査する。
// 失敗時は必ず*APIErrorまたは*TransportErrorを返す。
func (c *Client) do(req *http.Request, operation string, out any, check func() error) error {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordDiscordCall(operation, OutcomeTransportError, time.Since(start))
		c.logger.Error("discord api request failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordDiscordCall(operation, OutcomeTransportError, time.Since(start))
		return &TransportError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		c.metrics.RecordDiscordCall(operation, OutcomeTransportError, time.Since(start))
		c.logger.Warn("discord api returned unparseable body",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
		)
		return &TransportError{Body: string(body), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.RecordDiscordCall(operation, OutcomeRemoteError, time.Since(start))
		apiErr := parseAPIError(raw, body)
		apiErr.StatusCode = resp.StatusCode
		c.logger.Warn("discord api returned error",
			slog.String("operation", operation),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("code", apiErr.Code),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.metrics.RecordDiscordCall(operation, OutcomeTransportError, time.Since(start))
		return &TransportError{Body: string(body), Err: err}
	}
	if err := check(); err != nil {
		c.metrics.RecordDiscordCall(operation, OutcomeTransportError, time.Since(start))
		return &TransportError{Body: string(body), Err: err}
	}

	c.metrics.RecordDiscordCall(operation, OutcomeSuccess, time.Since(start))
	return nil
}

// parseAPIError はエラーレスポンスをAPIErrorに変換する。
// Discordの通常のエラー（message/code）とOAuth2のエラー（error/error_description）の両方に対応する。
func parseAPIError(raw map[string]json.RawMessage, body []byte) *APIError {
	apiErr := &APIError{Message: string(body), Code: -1}

	var message string
	if v, ok := raw["message"]; ok && json.Unmarshal(v, &message) == nil {
		apiErr.Message = message
		var code int
		if v, ok := raw["code"]; ok && json.Unmarshal(v, &code) == nil {
			apiErr.Code = code
		}
		return apiErr
	}

	var oauthErr, description string
	if v, ok := raw["error"]; ok && json.Unmarshal(v, &oauthErr) == nil {
		apiErr.Message = oauthErr
		if v, ok := raw["error_description"]; ok && json.Unmarshal(v, &description) == nil && description != "" {
			apiErr.Message = oauthErr + ": " + description
		}
	}
	return apiErr
}

// setAuthHeaders はキャッシュ済みの認証ヘッダーをリクエストに設定する。
func (c *Client) setAuthHeaders(req *http.Request, accessToken string) {
	for k, v := range c.headers.get(accessToken) {
		req.Header[k] = v
	}
}
