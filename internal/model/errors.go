// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, discord, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewIdentityNotFoundError はDiscordアカウントの紐付けが見つからない場合のエラーを生成する。
func NewIdentityNotFoundError(externalUserID string) *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotFound,
		Message:  fmt.Sprintf("Discordアカウントの紐付けが見つかりません: %s", externalUserID),
		Category: "discord",
		Action:   "Discordでログインし直してください。",
	}
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "Discordでログインしてください。",
	}
}

// ワークフローエラーのユーザー向けサマリー。
const (
	SummaryTokenExchange  = "トークンの取得に失敗しました。"
	SummaryTokenRefresh   = "トークンの更新に失敗しました。"
	SummaryTokenType      = "トークンの種類が不正です。"
	SummaryTokenExpired   = "トークンの有効期限が切れています。"
	SummaryUserFetch      = "トークン所有者の情報取得に失敗しました。"
	SummaryUsernameFormat = "ニックネームの形式が不正です。"
	SummaryUsernameChange = "ニックネームの変更に失敗しました。"
	SummaryTokenNotFound  = "トークンが見つかりません。"
)

// WorkflowError はコア層の境界を越える唯一のエラー型。
// ユーザー向けのサマリーと技術的な詳細を保持する。
// Unwrapにより原因エラー（ValidationError、StaleTokenError、Discord APIのエラー等）へ到達できる。
type WorkflowError struct {
	Summary string
	Details string
	Err     error
}

// NewWorkflowError は原因エラーの内容を詳細として持つWorkflowErrorを生成する。
func NewWorkflowError(summary string, err error) *WorkflowError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &WorkflowError{Summary: summary, Details: details, Err: err}
}

// Error はerrorインターフェースを実装する。
func (e *WorkflowError) Error() string {
	if e.Details == "" {
		return e.Summary
	}
	return e.Summary + " " + e.Details
}

// Unwrap は原因エラーを返す。
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// ValidationError はニックネームの入力検証エラー。
// 呼び出し元は再入力を促すことで回復できる。
type ValidationError struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return e.Message
}

// StaleTokenError はリフレッシュを試みた後もトークンが期限切れの場合のエラー。
// 呼び出し元は認可フローをやり直す必要がある。
type StaleTokenError struct {
	TokenID    string
	ValidUntil string
}

// Error はerrorインターフェースを実装する。
func (e *StaleTokenError) Error() string {
	return fmt.Sprintf("期限切れのトークンが使用されました（token_id=%s, valid_until=%s）。", e.TokenID, e.ValidUntil)
}
