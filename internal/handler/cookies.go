package handler

import (
	"net/http"

	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// RefreshTokenCookieName はリフレッシュトークンを保持するCookieの名前。
const RefreshTokenCookieName = "refreshToken"

// CookieConfig はトークンCookieの属性。
// MaxAgeが0の場合はセッションCookieになる。
type CookieConfig struct {
	Secure        bool
	Domain        string
	AccessMaxAge  int // 秒
	RefreshMaxAge int // 秒
}

func (c CookieConfig) tokenCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// setTokenCookies はアクセストークンとリフレッシュトークンのCookieを設定する。
func (c CookieConfig) setTokenCookies(w http.ResponseWriter, tokens *model.TokenPair) {
	http.SetCookie(w, c.tokenCookie(middleware.AccessTokenCookieName, tokens.AccessToken, c.AccessMaxAge))
	http.SetCookie(w, c.tokenCookie(RefreshTokenCookieName, tokens.RefreshToken, c.RefreshMaxAge))
}

// clearTokenCookies は両方のトークンCookieを削除する。
func (c CookieConfig) clearTokenCookies(w http.ResponseWriter) {
	http.SetCookie(w, c.tokenCookie(middleware.AccessTokenCookieName, "", -1))
	http.SetCookie(w, c.tokenCookie(RefreshTokenCookieName, "", -1))
}
