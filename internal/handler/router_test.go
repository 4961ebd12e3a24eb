package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/icantchat/internal/auth"
	"github.com/hitoshi/icantchat/internal/middleware"
	"github.com/hitoshi/icantchat/internal/model"
)

// mockSessionFinderForRouter はセッションをマップで保持するSessionFinder。
type mockSessionFinderForRouter struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func (m *mockSessionFinderForRouter) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, nil
	}
	return s, nil
}

func newTestRouter(sessions map[string]*model.Session, usernames UsernameServiceInterface) http.Handler {
	return NewRouter(&RouterDeps{
		SessionFinder:     &mockSessionFinderForRouter{sessions: sessions},
		CORSAllowedOrigin: "http://localhost:3000",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		AuthService:     &mockAuthService{},
		StateIssuer:     auth.NewStateSigner("router-secret"),
		AuthConfig:      testAuthConfig,
		UsernameService: usernames,
		ProfileService:  &mockProfileService{},
	})
}

func TestSetupAuthRoutes_LoginEndpoint(t *testing.T) {
	svc := &mockAuthService{
		getLoginURLFn: func(state string) string {
			return "https://discord.com/api/v6/oauth2/authorize?state=" + state
		},
	}
	router := SetupAuthRoutes(svc, auth.NewStateSigner("s"), testAuthConfig)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/discord/login", nil))

	if w.Code != http.StatusTemporaryRedirect {
		t.Errorf("GET /auth/discord/login status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
}

func TestNewRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(map[string]*model.Session{}, &mockUsernameService{})

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{http.MethodGet, "/health", http.StatusOK, `"ok"`},
		{http.MethodGet, "/metrics", http.StatusOK, "# metrics"},
		{http.MethodGet, "/api", http.StatusOK, "Not implemented"},
		{http.MethodPost, "/api/dynamic-username", http.StatusOK, "Not implemented"},
		{http.MethodGet, "/api/csrf-token", http.StatusOK, `"token"`},
		{http.MethodGet, "/api/users/me", http.StatusUnauthorized, "UNAUTHORIZED"},
		{http.MethodGet, "/auth/me", http.StatusUnauthorized, "UNAUTHORIZED"},
		{http.MethodGet, "/api/unknown", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestNewRouter_AppliesSecurityHeadersAndRequestID(t *testing.T) {
	router := newTestRouter(map[string]*model.Session{}, &mockUsernameService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestNewRouter_UsernameEndpoint(t *testing.T) {
	sessions := map[string]*model.Session{
		"s1": {ID: "s1", AccountID: "account-1", ExpiresAt: time.Now().Add(time.Hour)},
	}
	var called bool
	router := newTestRouter(sessions, &mockUsernameService{
		changeUsernameFn: func(_ context.Context, accountID, name string) (*apiResponse, error) {
			called = true
			return &apiResponse{Status: "success", Type: "changed", Text: name}, nil
		},
	})

	// GETはCSRF検証を通過し、メソッドエラーのエンベロープになる
	req := httptest.NewRequest(http.MethodGet, "/api/username", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "s1"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if env := decodeEnvelope(t, w); env.Type != "Wrong method type" {
		t.Errorf("GET type = %q", env.Type)
	}

	// CSRFトークンなしのPOSTは拒否される
	req = formRequest(http.MethodPost, "Nelly")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "s1"})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("POST without CSRF status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if called {
		t.Fatal("service should not be called without CSRF token")
	}

	// セッションとCSRFトークン付きのPOSTは成功する
	req = formRequest(http.MethodPost, "Nelly")
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "s1"})
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
	req.Header.Set(middleware.CSRFHeaderName, "tok")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env apiEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if env.Status != "success" || env.Text != "Nelly" {
		t.Errorf("envelope = %+v", env)
	}
}
