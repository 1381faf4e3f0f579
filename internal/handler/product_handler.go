package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

// CatalogService は商品ハンドラーが必要とするサービスインターフェース。
// catalog.Serviceが実装する。
type CatalogService interface {
	// Browse は絞り込み条件とページ番号で商品一覧を取得する。
	Browse(ctx context.Context, clientID string, filter catalog.Filter, page int) (*catalog.BrowseResult, error)
	// Product は商品詳細を取得する。
	Product(ctx context.Context, id int64) (*model.Product, error)
	// SupplierProducts はサプライヤーの出品一覧を取得する。
	SupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error)
	// AddProduct は商品を出品する。
	AddProduct(ctx context.Context, sess *model.Session, form catalog.ProductForm) (*model.Product, error)
}

// ProductHandler は商品一覧・詳細のHTTPハンドラー。
type ProductHandler struct {
	service CatalogService
}

// NewProductHandler はProductHandlerを生成する。
func NewProductHandler(service CatalogService) *ProductHandler {
	return &ProductHandler{service: service}
}

// Browse は商品一覧を返す。
// 絞り込み条件が前回から変わった場合はpageの指定に関わらず1ページ目を返す。
// GET /api/products?category=&min_price=&max_price=&max_moq=&min_rating=&page=
func (h *ProductHandler) Browse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.ParseFilter(q)
	page := catalog.ParsePage(q.Get("page"))

	res, err := h.service.Browse(r.Context(), middleware.EnsureClient(r.Context()), filter, page)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBrowseResponse(res))
}

// Detail は商品詳細を返す。
// GET /api/products/{id}
func (h *ProductHandler) Detail(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProductNotFoundError(rawID))
		return
	}

	product, err := h.service.Product(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(product))
}
