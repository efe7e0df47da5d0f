package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/accounts/internal/metrics"
	"github.com/hitoshi/accounts/internal/middleware"
)

// UsersRoutePrefix はユーザーAPIのバージョン付きパス。
// 同じルートはルート直下（/register など）にもマウントする。
const UsersRoutePrefix = "/api/v1/users"

// HealthCheckFunc はストアへの疎通確認を行う。
type HealthCheckFunc func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	TokenVerifier     middleware.AccessTokenVerifier
	UserFinder        middleware.UserFinder
	CSRF              *middleware.CSRFConfig // nilの場合CSRF検証を行わない
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを決定する。
	// ヘッダーを上書きするリバースプロキシの背後でのみ有効にすること。
	TrustProxyHeaders bool

	// ユーザー
	UserService UserServiceInterface
	UserConfig  UserHandlerConfig

	// 運用
	HealthCheck    HealthCheckFunc
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP（TrustProxyHeaders時のみ） → Logging → Recovery → Metrics → SecurityHeaders → CORS
//
// 登録・ログインにはIP単位のレート制限、要認証ルートにはAuth → RateLimit(General)を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		// クライアントが送ったX-Forwarded-Forをそのまま信用するとIP単位のレート制限を回避できる
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.Get("/health", healthHandler(deps.HealthCheck))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.CSRF != nil {
		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF))
	}

	users := NewUserHandler(deps.UserService, deps.UserConfig)
	mount := func(r chi.Router) {
		mountUserRoutes(r, users, deps)
	}

	r.Group(mount)
	r.Route(UsersRoutePrefix, mount)

	return r
}

// mountUserRoutes はユーザー関連のルートを登録する。
func mountUserRoutes(r chi.Router, users *UserHandler, deps *RouterDeps) {
	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthRouteMiddleware())
		}
		r.Post("/register", users.Register)
		r.Post("/login", users.Login)
	})

	// リフレッシュはアクセストークン期限切れ後に呼ばれるため認証ミドルウェアの外に置く
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.AuthRouteMiddleware())
		}
		if deps.CSRF != nil {
			r.Use(middleware.NewCSRFMiddleware(*deps.CSRF))
		}
		r.Post("/refresh-token", users.RefreshToken)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, deps.UserFinder))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		if deps.CSRF != nil {
			r.Use(middleware.NewCSRFMiddleware(*deps.CSRF))
		}
		r.Post("/logout", users.Logout)
		r.Get("/me", users.Me)
	})
}

// healthHandler はストアの疎通を確認し、{"status":"ok"} を返す。
func healthHandler(check HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, "ok"
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				slog.Warn("health check failed", slog.String("error", err.Error()))
				status, body = http.StatusServiceUnavailable, "unavailable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"status": body})
	}
}
