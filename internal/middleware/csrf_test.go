package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/packmart/internal/model"
)

// csrfRequest は指定したCookie・ヘッダー・Originを持つリクエストを組み立てる。
func csrfRequest(method, cookie, header, origin string) *http.Request {
	req := httptest.NewRequest(method, "http://api.example.com/api/buyer/saved-products/1", nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: cookie})
	}
	if header != "" {
		req.Header.Set(csrfHeaderName, header)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCSRFMiddleware_Verification(t *testing.T) {
	tests := []struct {
		name    string
		config  CSRFConfig
		method  string
		cookie  string
		header  string
		origin  string
		wantErr bool
	}{
		{"GET without token", CSRFConfig{}, http.MethodGet, "", "", "", false},
		{"HEAD without token", CSRFConfig{}, http.MethodHead, "", "", "", false},
		{"OPTIONS without token", CSRFConfig{}, http.MethodOptions, "", "", "", false},
		{"POST matching token", CSRFConfig{}, http.MethodPost, "tok", "tok", "", false},
		{"PUT matching token", CSRFConfig{}, http.MethodPut, "tok", "tok", "", false},
		{"DELETE matching token", CSRFConfig{}, http.MethodDelete, "tok", "tok", "", false},
		{"POST without cookie", CSRFConfig{}, http.MethodPost, "", "tok", "", true},
		{"POST without header", CSRFConfig{}, http.MethodPost, "tok", "", "", true},
		{"POST mismatched token", CSRFConfig{}, http.MethodPost, "tok", "other", "", true},
		{"PATCH without token", CSRFConfig{}, http.MethodPatch, "", "", "", true},
		{"DELETE without token", CSRFConfig{}, http.MethodDelete, "", "", "", true},
		{"same host origin", CSRFConfig{}, http.MethodPost, "tok", "tok", "http://api.example.com", false},
		{"cross host origin", CSRFConfig{}, http.MethodPost, "tok", "tok", "https://evil.example.com", true},
		{"trusted origin", CSRFConfig{TrustedOrigin: "https://app.example.com"}, http.MethodPost, "tok", "tok", "https://app.example.com", false},
		{"untrusted origin", CSRFConfig{TrustedOrigin: "https://app.example.com"}, http.MethodPost, "tok", "tok", "http://api.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, csrfRequest(tt.method, tt.cookie, tt.header, tt.origin))

			if tt.wantErr {
				if called {
					t.Error("handler should not be called")
				}
				if w.Code != http.StatusForbidden {
					t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
				}
				return
			}
			if !called || w.Code != http.StatusOK {
				t.Errorf("called = %v status = %d, want pass through", called, w.Code)
			}
		})
	}
}

func TestCSRFMiddleware_Rejection_UsesErrorFormat(t *testing.T) {
	w := httptest.NewRecorder()
	NewCSRFMiddleware(CSRFConfig{})(okHandler()).ServeHTTP(w, csrfRequest(http.MethodPost, "", "", ""))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeCSRFFailed || body.Category != "auth" {
		t.Errorf("body = %+v, want code %s category auth", body, model.ErrCodeCSRFFailed)
	}
}

func TestCSRFMiddleware_SafeMethodIssuesCookieOnce(t *testing.T) {
	mw := NewCSRFMiddleware(CSRFConfig{CookieSecure: true, CookieDomain: "example.com"})

	w := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	var issued *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			issued = c
		}
	}
	if issued == nil {
		t.Fatal("csrf cookie should be issued on a safe request")
	}
	if len(issued.Value) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(issued.Value))
	}
	if issued.HttpOnly {
		t.Error("csrf cookie must be readable from the SPA")
	}
	if !issued.Secure || issued.Domain != "example.com" || issued.SameSite != http.SameSiteLaxMode || issued.MaxAge != csrfCookieMaxAge {
		t.Errorf("cookie attributes = %+v", issued)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: issued.Value})
	w = httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(w, req)
	if len(w.Result().Cookies()) != 0 {
		t.Error("existing csrf cookie should not be replaced")
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	decode := func(t *testing.T, w *httptest.ResponseRecorder) string {
		t.Helper()
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return body.Token
	}

	t.Run("new token", func(t *testing.T) {
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		token := decode(t, w)
		cookies := w.Result().Cookies()
		if len(cookies) != 1 || cookies[0].Value != token || token == "" {
			t.Errorf("token = %q cookies = %+v, want the cookie to carry the returned token", token, cookies)
		}
	})

	t.Run("existing cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
		w := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(w, req)

		if got := decode(t, w); got != "existing" {
			t.Errorf("token = %q, want existing", got)
		}
		if len(w.Result().Cookies()) != 0 {
			t.Error("existing cookie should be reused")
		}
	})
}
