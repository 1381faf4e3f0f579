package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/packmart/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookie。SPAから読めるようHttpOnlyにしない。
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"

	csrfCookieMaxAge = 24 * 60 * 60
)

var (
	errCSRFOrigin   = errors.New("untrusted origin")
	errCSRFCookie   = errors.New("missing cookie token")
	errCSRFHeader   = errors.New("missing header token")
	errCSRFMismatch = errors.New("token mismatch")
)

// CSRFConfig はCSRFミドルウェアの設定。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
	// TrustedOrigin は状態変更リクエストを許可するOriginヘッダーの値。
	// 空の場合はリクエスト先と同じホストのOriginのみ許可する。
	TrustedOrigin string
}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF対策ミドルウェアを返す。
// GET・HEAD・OPTIONSはトークンCookieを配布するだけで検証しない。
// それ以外のメソッドはOriginとトークンを検証し、失敗すると403 CSRF_FAILEDを返す。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				if _, err := r.Cookie(csrfCookieName); err != nil {
					if _, err := issueCSRFToken(w, config); err != nil {
						slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if err := verifyCSRF(r, config); err != nil {
				slog.Warn("CSRF validation failed",
					slog.String("reason", err.Error()),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFFailedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// verifyCSRF は状態変更リクエストのOriginとトークンを検証する。
func verifyCSRF(r *http.Request, config CSRFConfig) error {
	if origin := r.Header.Get("Origin"); origin != "" && !trustedOrigin(origin, r.Host, config.TrustedOrigin) {
		return errCSRFOrigin
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return errCSRFCookie
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return errCSRFHeader
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return errCSRFMismatch
	}
	return nil
}

// trustedOrigin はOriginが設定済みのオリジン、または未設定時は同一ホストかを判定する。
func trustedOrigin(origin, host, trusted string) bool {
	if trusted != "" {
		return origin == trusted
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == host
}

// NewCSRFTokenHandler はGET /api/csrf-tokenのハンドラーを返す。
// Cookieに既存のトークンがあればそれを、なければ新しいトークンを返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(csrfCookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			var err error
			if token, err = issueCSRFToken(w, config); err != nil {
				slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Token string `json:"token"`
		}{token})
	})
}

// issueCSRFToken は新しいトークンを生成してCookieに設定する。
func issueCSRFToken(w http.ResponseWriter, config CSRFConfig) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   csrfCookieMaxAge,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}
