// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/accounts/internal/model"
	"github.com/hitoshi/accounts/internal/token"
)

// AccessTokenCookieName はアクセストークンを保持するCookieの名前。
const AccessTokenCookieName = "accessToken"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// AccessTokenVerifier はアクセストークンの検証に必要なインターフェース。
type AccessTokenVerifier interface {
	ParseAccessToken(tokenString string) (*token.AccessClaims, error)
}

// UserFinder はユーザーの存在確認に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAuthMiddleware はCookieまたはAuthorizationヘッダーからアクセストークンを読み取り、
// 有効性とユーザーの存在を検証するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
func NewAuthMiddleware(verifier AccessTokenVerifier, users UserFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. アクセストークンを取得
			raw := accessTokenFromRequest(r)
			if raw == "" {
				WriteErrorResponse(w, model.NewUnauthorizedError(model.ErrCodeUnauthorized, "unauthorized request"))
				return
			}

			// 2. 署名と有効期限を検証
			claims, err := verifier.ParseAccessToken(raw)
			if err != nil {
				WriteErrorResponse(w, model.NewUnauthorizedError(model.ErrCodeInvalidAccessToken, "invalid access token"))
				return
			}

			// 3. ユーザーが削除されていないことを確認
			user, err := users.FindByID(r.Context(), claims.UserID)
			if err != nil {
				slog.Error("failed to find user for access token",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, model.NewUnauthorizedError(model.ErrCodeInvalidAccessToken, "invalid access token"))
				return
			}

			// 4. 認証済みユーザーIDをコンテキストに注入
			recordRequestUser(r.Context(), user.ID)
			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// accessTokenFromRequest はCookieを優先し、なければBearerトークンを返す。
func accessTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
