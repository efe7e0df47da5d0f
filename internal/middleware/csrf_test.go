package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{})

			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(method, "/api/v1/users/me", nil))

			if !handlerCalled {
				t.Fatalf("handler should have been called for %s", method)
			}
		})
	}
}

func TestCSRFMiddleware_POSTRequest_TokenChecks(t *testing.T) {
	tests := []struct {
		name        string
		cookie      string
		header      string
		wantStatus  int
		wantHandler bool
	}{
		{"no cookie", "", "token-abc", http.StatusForbidden, false},
		{"no header", "token-abc", "", http.StatusForbidden, false},
		{"mismatch", "token-abc", "wrong-token", http.StatusForbidden, false},
		{"valid", "valid-token", "valid-token", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewCSRFMiddleware(CSRFConfig{})

			handlerCalled := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/users/logout", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if handlerCalled != tt.wantHandler {
				t.Errorf("handlerCalled = %v, want %v", handlerCalled, tt.wantHandler)
			}
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestCSRFMiddleware_Rejection_UsesErrorEnvelope(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/logout", nil))

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.StatusCode != http.StatusForbidden || body.Success {
		t.Errorf("body = %+v, want 403 failure envelope", body)
	}
	if body.Message != "CSRF token validation failed" {
		t.Errorf("message = %q", body.Message)
	}
}

func TestCSRFMiddleware_BearerRequest_SkipsValidation(t *testing.T) {
	handlerCalled := false
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/refresh-token", nil)
	req.Header.Set("Authorization", "Bearer some.jwt.value")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !handlerCalled {
		t.Fatal("handler should have been called for bearer-authenticated request")
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieDomain: "example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	csrfCookie := findCookie(w.Result().Cookies(), csrfCookieName)
	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set on GET request")
	}
	if csrfCookie.Value == "" {
		t.Error("CSRF cookie value should not be empty")
	}
	if csrfCookie.HttpOnly {
		t.Error("CSRF cookie should NOT be HttpOnly (frontend needs to read it)")
	}
	if csrfCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", csrfCookie.SameSite)
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if findCookie(w.Result().Cookies(), csrfCookieName) != nil {
		t.Error("CSRF cookie should not be re-set when already present")
	}
}

func TestCSRFTokenHandler_IssuesAndReusesToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	// 1回目: 新規発行
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/csrf-token", nil))

	var first struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&first); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if first.Token == "" {
		t.Fatal("expected non-empty token in response")
	}
	cookie := findCookie(w.Result().Cookies(), csrfCookieName)
	if cookie == nil || cookie.Value != first.Token {
		t.Fatalf("cookie = %v, want value %q", cookie, first.Token)
	}

	// 2回目: 既存Cookieのトークンを返す
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var second struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&second); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if second.Token != first.Token {
		t.Errorf("token = %q, want %q", second.Token, first.Token)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
