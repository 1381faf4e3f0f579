package handler

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/dashboard"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

// DashboardService はダッシュボードハンドラーが必要とするサービスインターフェース。
// dashboard.Serviceが実装する。
type DashboardService interface {
	SupplierOrders(ctx context.Context, supplierID string) ([]model.Order, error)
	SupplierAnalytics(ctx context.Context, supplierID string) (*dashboard.Analytics, error)
	BuyerOrders(ctx context.Context, buyerID string) ([]model.Order, error)
	BuyerQuotes(ctx context.Context, buyerID string) ([]model.Quote, error)
	SavedProducts(ctx context.Context, buyerID string) ([]model.SavedProduct, error)
	SaveProduct(ctx context.Context, buyerID string, productID int64) error
	RemoveSavedProduct(ctx context.Context, buyerID string, productID int64) error
}

// multipartMemory はmultipartフォームをメモリに保持する上限。超過分は一時ファイルに書き出される。
const multipartMemory = 8 << 20

// SupplierHandler はサプライヤーダッシュボードのHTTPハンドラー。
// RequireRole(supplier)の内側に配置する。
type SupplierHandler struct {
	catalog      CatalogService
	dashboard    DashboardService
	maxImageSize int64
}

// NewSupplierHandler はSupplierHandlerを生成する。
func NewSupplierHandler(catalogService CatalogService, dashboardService DashboardService, maxImageSize int64) *SupplierHandler {
	if maxImageSize <= 0 {
		maxImageSize = catalog.DefaultMaxImageSize
	}
	return &SupplierHandler{
		catalog:      catalogService,
		dashboard:    dashboardService,
		maxImageSize: maxImageSize,
	}
}

// Products はサプライヤー自身の出品一覧を返す。
// GET /api/supplier/products
func (h *SupplierHandler) Products(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	products, err := h.catalog.SupplierProducts(r.Context(), sess.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponses(products))
}

// AddProduct は商品を出品する。
// 画像はファイル（image）またはURL（image_url）で指定する。
// POST /api/supplier/products (multipart/form-data)
func (h *SupplierHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("フォームの解析に失敗しました"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := catalog.ProductForm{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		Price:       parseFormFloat(r.FormValue("price")),
		Category:    r.FormValue("category"),
		MinOrderQty: parseFormInt(r.FormValue("min_order_qty")),
		ImageURL:    strings.TrimSpace(r.FormValue("image_url")),
	}

	img, err := h.readImage(r)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("画像の読み込みに失敗しました"))
		return
	}
	form.Image = img

	product, err := h.catalog.AddProduct(r.Context(), sess, form)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// readImage はmultipartフォームの画像ファイルを読み込む。未指定の場合はnilを返す。
// 上限を1バイト超えて読み込み、サイズ超過の判定はサービス層に任せる。
func (h *SupplierHandler) readImage(r *http.Request) (*catalog.Image, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImageSize+1))
	if err != nil {
		return nil, err
	}
	return &catalog.Image{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Orders はサプライヤーが受けた注文を返す。
// GET /api/supplier/orders
func (h *SupplierHandler) Orders(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	orders, err := h.dashboard.SupplierOrders(r.Context(), sess.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponses(orders))
}

// Analytics はサプライヤーの売上集計を返す。
// GET /api/supplier/analytics
func (h *SupplierHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	analytics, err := h.dashboard.SupplierAnalytics(r.Context(), sess.UserID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

type companyNameRequest struct {
	CompanyName string `json:"company_name"`
}

// UpdateProfile は会社名を更新する。
// PUT /api/supplier/profile
func (h *SupplierHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}

	var req companyNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sess, err := store.UpdateCompanyName(r.Context(), req.CompanyName)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// parseFormFloat はフォームの数値を解析する。不正な値は0として扱い、検証で弾く。
func parseFormFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func parseFormInt(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}
