// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/packmart/internal/guard"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/session"
	"github.com/hitoshi/packmart/internal/validation"
)

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// OnLogout はログアウト後にクライアントIDを受け取って呼ばれる。
	// クライアントが開いているリアルタイム購読の後始末に使う。
	OnLogout func(clientID string)
}

// AuthHandler はログイン・サインアップ・ログアウトのHTTPハンドラー。
// 認証状態はリクエストコンテキストに注入されたセッションStoreが保持する。
type AuthHandler struct {
	config AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{config: config}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	ReturnTo string `json:"return_to"`
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	CompanyName string `json:"company_name"`
	ReturnTo    string `json:"return_to"`
}

type profileRequest struct {
	Role        string `json:"role"`
	CompanyName string `json:"company_name"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := store.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !renewClient(w, r, store) {
		return
	}

	writeJSON(w, http.StatusOK, authResultResponse{
		sessionResponse: toSessionResponse(sess),
		RedirectTo:      guard.LoginDestination(req.ReturnTo),
	})
}

// Signup はアカウントとプロフィールを作成する。
// メール確認が必要な場合は202を返し、セッションは作成しない。
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}

	var req signupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := store.Signup(r.Context(), validation.SignupInput{
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		CompanyName: req.CompanyName,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if res.NeedsVerification {
		writeJSON(w, http.StatusAccepted, authResultResponse{
			sessionResponse:   toSessionResponse(nil),
			NeedsVerification: true,
		})
		return
	}
	if !renewClient(w, r, store) {
		return
	}

	writeJSON(w, http.StatusCreated, authResultResponse{
		sessionResponse: toSessionResponse(res.Session),
		RedirectTo:      guard.SignupDestination(res.Session.Role(), req.ReturnTo),
	})
}

// Logout はセッションを破棄する。未ログインでも成功する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}

	store.Logout(r.Context())
	if h.config.OnLogout != nil {
		h.config.OnLogout(store.ClientID())
	}
	if err := middleware.RenewClient(w, r); err != nil {
		slog.Warn("failed to renew client ID after logout", slog.String("error", err.Error()))
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在の認証状態を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}

	resp := toSessionResponse(store.Current())
	resp.ProfileRequired = store.ProfilePending()
	writeJSON(w, http.StatusOK, resp)
}

// CompleteProfile はプロフィールを持たないアカウントのプロフィールを作成する。
// サインアップ時のプロフィール登録失敗からの修復経路。
// POST /api/auth/profile
func (h *AuthHandler) CompleteProfile(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}

	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := store.CompleteProfile(r.Context(), req.Role, req.CompanyName)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !renewClient(w, r, store) {
		return
	}

	writeJSON(w, http.StatusOK, authResultResponse{
		sessionResponse: toSessionResponse(sess),
		RedirectTo:      guard.SignupDestination(sess.Role(), ""),
	})
}

// renewClient は認証後にクライアントIDを振り直す。
// 振り直せない場合は認証前のIDにセッションを残さないようログアウトし、500を書き込む。
func renewClient(w http.ResponseWriter, r *http.Request, store *session.Store) bool {
	if err := middleware.RenewClient(w, r); err != nil {
		slog.Error("failed to renew client ID", slog.String("error", err.Error()))
		store.Logout(r.Context())
		middleware.WriteInternalServerError(w)
		return false
	}
	return true
}
