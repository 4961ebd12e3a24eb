// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/icantchat/internal/model"
)

// SessionCookieName はセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var accountIDContextKey = contextKey("account_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はCookieのセッションを検証し、アカウントIDをコンテキストに注入する。
// 未認証リクエストには401と統一エラーフォーマットを返す。
func NewSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, ok := resolveSession(r, finder)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccountID(r.Context(), accountID)))
		})
	}
}

// NewOptionalSessionMiddleware は有効なセッションがあればアカウントIDを注入し、
// なければそのまま次のハンドラーに渡す。
// 未認証時のレスポンスをハンドラー側で組み立てるエンドポイントで使用する。
func NewOptionalSessionMiddleware(finder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if accountID, ok := resolveSession(r, finder); ok {
				r = r.WithContext(ContextWithAccountID(r.Context(), accountID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveSession はCookieのセッションIDから有効なセッションのユーザーIDを解決する。
func resolveSession(r *http.Request, finder SessionFinder) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	session, err := finder.FindByID(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to find session",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	if session == nil {
		return "", false
	}
	return session.AccountID, true
}

// AccountIDFromContext はリクエストコンテキストからアカウントIDを取得する。
func AccountIDFromContext(ctx context.Context) (string, error) {
	accountID, ok := ctx.Value(accountIDContextKey).(string)
	if !ok || accountID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return accountID, nil
}

// ContextWithAccountID はコンテキストにアカウントIDを注入する。
func ContextWithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDContextKey, accountID)
}
