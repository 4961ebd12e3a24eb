package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/icantchat/internal/middleware"
)

// SetupAuthRoutes は認証関連のルーティングを設定したchi.Routerを返す。
func SetupAuthRoutes(service AuthServiceInterface, states StateIssuer, config AuthHandlerConfig) http.Handler {
	r := chi.NewRouter()
	mountAuthRoutes(r, NewAuthHandler(service, states, config))
	return r
}

func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/discord/login", h.Login)
		r.Get("/discord/callback", h.Callback)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler // nilの場合は/metricsを公開しない
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig

	// 認証
	AuthService AuthServiceInterface
	StateIssuer StateIssuer
	AuthConfig  AuthHandlerConfig

	// API
	UsernameService UsernameServiceInterface
	ProfileService  ProfileServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → (ルートごとの Session / CSRF)
//
// /api/username は未認証時にもJSONエンベロープを返すため、任意セッションで受ける。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	mountAuthRoutes(r, NewAuthHandler(deps.AuthService, deps.StateIssuer, deps.AuthConfig))

	apiHandler := NewAPIHandler(deps.UsernameService)
	userHandler := NewUserHandler(deps.ProfileService)

	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.HandleFunc("/", apiHandler.NotImplemented)
		r.HandleFunc("/dynamic-username", apiHandler.NotImplemented)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
			r.HandleFunc("/username", apiHandler.ChangeUsername)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
			r.Get("/users/me", userHandler.GetProfile)
		})
	})

	return r
}
