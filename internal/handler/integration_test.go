package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/icantchat/internal/auth"
	"github.com/hitoshi/icantchat/internal/middleware"
	"github.com/hitoshi/icantchat/internal/model"
)

// --- 統合テスト用のステートフルモック ---

// integrationState は統合テスト用の共有状態を保持する。
type integrationState struct {
	mu         sync.Mutex
	sessions   map[string]*model.Session
	accounts   map[string]*model.Account
	identities map[string]*model.Identity // accountID -> identity
	messages   map[string][]string        // accountID -> 新しい順のニックネーム
}

func newIntegrationState() *integrationState {
	return &integrationState{
		sessions:   make(map[string]*model.Session),
		accounts:   make(map[string]*model.Account),
		identities: make(map[string]*model.Identity),
		messages:   make(map[string][]string),
	}
}

func createIntegrationRouter(state *integrationState) http.Handler {
	authService := &mockAuthService{
		getLoginURLFn: func(s string) string {
			return "https://discord.com/api/v6/oauth2/authorize?state=" + s
		},
		handleCallbackFn: func(_ context.Context, code string) (*model.Session, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			state.accounts["account-1"] = &model.Account{ID: "account-1", Username: "80351110224678912"}
			state.identities["account-1"] = &model.Identity{AccountID: "account-1", ExternalUserID: "80351110224678912", DisplayName: "Nelly", TokenID: "token-1"}
			session := &model.Session{ID: "session-" + code, AccountID: "account-1", ExpiresAt: time.Now().Add(time.Hour)}
			state.sessions[session.ID] = session
			return session, nil
		},
		logoutFn: func(_ context.Context, sessionID string) error {
			state.mu.Lock()
			defer state.mu.Unlock()
			delete(state.sessions, sessionID)
			return nil
		},
		getCurrentUserFn: func(_ context.Context, sessionID string) (*auth.CurrentUser, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			s, ok := state.sessions[sessionID]
			if !ok {
				return nil, auth.ErrSessionNotFound
			}
			return &auth.CurrentUser{Account: state.accounts[s.AccountID], Identity: state.identities[s.AccountID]}, nil
		},
	}

	usernames := &mockUsernameService{
		changeUsernameFn: func(_ context.Context, accountID, name string) (*apiResponse, error) {
			if strings.Contains(strings.ToLower(name), "everyone") {
				return &apiResponse{Status: "error", Type: model.SummaryUsernameFormat, Text: "forbidden"}, nil
			}
			state.mu.Lock()
			defer state.mu.Unlock()
			state.messages[accountID] = append([]string{name}, state.messages[accountID]...)
			return &apiResponse{Status: "success", Type: "changed", Text: name}, nil
		},
	}

	profiles := &mockProfileService{
		getProfileFn: func(_ context.Context, accountID string) (*profileResponse, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			ident, ok := state.identities[accountID]
			if !ok {
				return nil, model.NewIdentityNotFoundError(accountID)
			}
			resp := &profileResponse{
				AccountID:      accountID,
				ExternalUserID: ident.ExternalUserID,
				DisplayName:    ident.DisplayName,
				HasToken:       ident.HasToken(),
				LastMessages:   []messageResponse{},
			}
			for _, m := range state.messages[accountID] {
				resp.LastMessages = append(resp.LastMessages, messageResponse{Text: m})
			}
			return resp, nil
		},
	}

	return NewRouter(&RouterDeps{
		SessionFinder:     &mockSessionFinderForRouter{sessions: state.sessions},
		CORSAllowedOrigin: "http://localhost:3000",
		AuthService:       authService,
		StateIssuer:       auth.NewStateSigner("integration-secret"),
		AuthConfig:        testAuthConfig,
		UsernameService:   usernames,
		ProfileService:    profiles,
	})
}

// --- エンドツーエンド統合テスト ---

// TestIntegration_LoginChangeUsernameLogout はログインからニックネーム変更、ログアウトまでの流れを検証する。
func TestIntegration_LoginChangeUsernameLogout(t *testing.T) {
	state := newIntegrationState()
	router := createIntegrationRouter(state)

	// 1. ログイン: Discordの認可URLへリダイレクトされる
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/discord/login", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("step1: status = %d", w.Code)
	}
	stateCookie := findCookie(w.Result().Cookies(), oauthStateCookie)
	if stateCookie == nil {
		t.Fatal("step1: expected oauth_state cookie")
	}

	// 2. コールバック: セッションが発行される
	req := httptest.NewRequest(http.MethodGet, "/auth/discord/callback?code=abc&state="+url.QueryEscape(stateCookie.Value), nil)
	req.AddCookie(stateCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	sessionCookie := findCookie(w.Result().Cookies(), middleware.SessionCookieName)
	if w.Code != http.StatusTemporaryRedirect || sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatalf("step2: status = %d, session cookie = %+v", w.Code, sessionCookie)
	}

	// 3. /auth/me: Discordユーザーが紐付いている
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(sessionCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var me meResponse
	json.NewDecoder(w.Body).Decode(&me)
	if w.Code != http.StatusOK || me.Discord == nil || me.Discord.DisplayName != "Nelly" {
		t.Fatalf("step3: status = %d, body = %+v", w.Code, me)
	}

	// 4. CSRFトークンを取得してニックネームを変更する
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	var tokenBody map[string]string
	json.NewDecoder(w.Body).Decode(&tokenBody)
	csrf := tokenBody["token"]

	changeUsername := func(name string) apiEnvelope {
		t.Helper()
		form := url.Values{"username": {name}}
		req := httptest.NewRequest(http.MethodPost, "/api/username", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(middleware.CSRFHeaderName, csrf)
		req.AddCookie(sessionCookie)
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: csrf})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return decodeEnvelope(t, w)
	}

	if env := changeUsername("First"); env.Status != "success" {
		t.Fatalf("step4: envelope = %+v", env)
	}
	if env := changeUsername("@everyone"); env.Status != "error" || env.Type != model.SummaryUsernameFormat {
		t.Fatalf("step4: envelope = %+v", env)
	}
	if env := changeUsername("Second"); env.Status != "success" {
		t.Fatalf("step4: envelope = %+v", env)
	}

	// 5. プロフィール: 成功した変更のみが新しい順に並ぶ
	req = httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.AddCookie(sessionCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var profile profileResponse
	json.NewDecoder(w.Body).Decode(&profile)
	got := make([]string, len(profile.LastMessages))
	for i, m := range profile.LastMessages {
		got[i] = m.Text
	}
	if fmt.Sprint(got) != "[Second First]" {
		t.Errorf("step5: last_messages = %v, want [Second First]", got)
	}

	// 6. ログアウト後は未認証になる
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(sessionCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("step6: logout status = %d", w.Code)
	}

	if env := changeUsername("Third"); env.Type != "Not Authenticated" {
		t.Errorf("step6: envelope after logout = %+v", env)
	}
}
