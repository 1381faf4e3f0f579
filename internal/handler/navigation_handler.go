package handler

import (
	"net/http"

	"github.com/hitoshi/packmart/internal/guard"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

// Navigate はパスをルート定義に照らして解決し、遷移の可否を返す。
// GET /api/navigate?path=
func Navigate(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	res := guard.Navigate(sess, r.URL.Query().Get("path"))

	resp := navigateResponse{
		Path:       res.Path,
		Allowed:    res.Decision.Allowed,
		RedirectTo: res.Decision.RedirectTo,
		State:      guard.StateOf(sess).String(),
	}
	if res.Route != nil {
		resp.Route = res.Route.Pattern
		resp.RequiredRole = string(res.Route.Access.RequiredRole())
	}
	writeJSON(w, http.StatusOK, resp)
}

// navigateResponse はルート判定のAPIレスポンス。
type navigateResponse struct {
	Path         string `json:"path"`
	Route        string `json:"route,omitempty"`
	RequiredRole string `json:"required_role,omitempty"`
	Allowed      bool   `json:"allowed"`
	RedirectTo   string `json:"redirect_to,omitempty"`
	State        string `json:"state"`
}

// categoriesResponse はカテゴリ一覧のAPIレスポンス。
type categoriesResponse struct {
	Categories []string `json:"categories"`
	All        string   `json:"all"`
}

// Categories は出品可能なカテゴリの一覧を返す。
// GET /api/categories
func Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, categoriesResponse{
		Categories: model.Categories,
		All:        model.CategoryAll,
	})
}
