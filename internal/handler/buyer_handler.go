package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

// BuyerHandler はバイヤーダッシュボードのHTTPハンドラー。
// RequireRole(buyer)の内側に配置する。
type BuyerHandler struct {
	dashboard DashboardService
}

// NewBuyerHandler はBuyerHandlerを生成する。
func NewBuyerHandler(dashboardService DashboardService) *BuyerHandler {
	return &BuyerHandler{dashboard: dashboardService}
}

// Orders はバイヤーの注文一覧を返す。
// GET /api/buyer/orders
func (h *BuyerHandler) Orders(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	orders, err := h.dashboard.BuyerOrders(r.Context(), sess.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// Quotes はバイヤーの見積依頼一覧を返す。
// GET /api/buyer/quotes
func (h *BuyerHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	quotes, err := h.dashboard.BuyerQuotes(r.Context(), sess.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteResponses(quotes))
}

// SavedProducts は保存済み商品の一覧を返す。
// GET /api/buyer/saved-products
func (h *BuyerHandler) SavedProducts(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	saved, err := h.dashboard.SavedProducts(r.Context(), sess.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSavedProductResponses(saved))
}

// SaveProduct は商品を保存する。保存済みの場合も成功とする。
// POST /api/buyer/saved-products/{productId}
func (h *BuyerHandler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	if err := h.dashboard.SaveProduct(r.Context(), sess.UserID(), productID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveSavedProduct は保存済み商品を削除する。
// DELETE /api/buyer/saved-products/{productId}
func (h *BuyerHandler) RemoveSavedProduct(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	if err := h.dashboard.RemoveSavedProduct(r.Context(), sess.UserID(), productID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// productIDParam はURLパラメータproductIdを解析する。不正な場合は404を書き込む。
func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "productId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProductNotFoundError(raw))
		return 0, false
	}
	return id, true
}
