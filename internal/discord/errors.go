package discord

import (
	"errors"
	"fmt"
	"net"
)

// APIError はDiscord APIが返した構造化エラーを表す。
// レスポンスボディにmessageが含まれない場合はボディ全体をMessageとし、Codeは-1とする。
type APIError struct {
	Message    string
	Code       int
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("(%d) %s", e.Code, e.Message)
}

// TransportError はDiscord APIのレスポンスを期待した構造として解釈できなかった場合のエラー。
// 通信失敗・タイムアウトもこのエラーとして扱う。Bodyには受信した生のボディを保持する。
type TransportError struct {
	Body string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	if e.Err != nil && e.Body == "" {
		return fmt.Sprintf("(-1) %v", e.Err)
	}
	return fmt.Sprintf("(-1) %s", e.Body)
}

// Unwrap は原因エラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout はタイムアウトによる失敗かどうかを返す。
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
