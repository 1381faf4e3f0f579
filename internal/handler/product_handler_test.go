package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

// withURLParams はchiのURLパラメータをリクエストに設定する。
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestProductHandler_Browse_PassesFilterPageAndClient(t *testing.T) {
	var gotClient string
	var gotFilter catalog.Filter
	var gotPage int
	svc := &mockCatalogService{
		browseFn: func(_ context.Context, clientID string, filter catalog.Filter, page int) (*catalog.BrowseResult, error) {
			gotClient, gotFilter, gotPage = clientID, filter, page
			return &catalog.BrowseResult{
				Products:   []model.Product{{ID: 7, Name: "Kraft Mailer", Category: "Mailer Boxes"}},
				Filter:     filter,
				Page:       1,
				Pagination: catalog.Pagination{CurrentPage: 1, TotalPages: 1, TotalItems: 1},
			}, nil
		},
	}
	h := NewProductHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/products?category=Mailer+Boxes&min_price=10&page=3", nil)
	req = req.WithContext(middleware.ContextWithStore(req.Context(), testClientID, nil))
	w := httptest.NewRecorder()
	h.Browse(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotClient != testClientID {
		t.Errorf("clientID = %q, want %q", gotClient, testClientID)
	}
	if gotFilter.Category != "Mailer Boxes" || gotFilter.MinPrice != 10 {
		t.Errorf("filter = %+v, want category and min_price from query", gotFilter)
	}
	if gotPage != 3 {
		t.Errorf("page = %d, want 3", gotPage)
	}

	var resp browseResponse
	decodeBody(t, w, &resp)
	if len(resp.Products) != 1 || resp.Products[0].ID != 7 {
		t.Errorf("products = %+v, want one product with ID 7", resp.Products)
	}
	if resp.Page != 1 || resp.Pagination.TotalItems != 1 {
		t.Errorf("page = %d pagination = %+v", resp.Page, resp.Pagination)
	}
}

func TestProductHandler_Browse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"stale response", catalog.ErrStaleResponse, http.StatusConflict, model.ErrCodeStaleResponse},
		{"remote failure", &model.RemoteQueryError{Op: "products.list", Err: errors.New("timeout")}, http.StatusBadGateway, model.ErrCodeRemoteQuery},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCatalogService{
				browseFn: func(context.Context, string, catalog.Filter, int) (*catalog.BrowseResult, error) {
					return nil, tt.err
				},
			}
			w := httptest.NewRecorder()
			NewProductHandler(svc).Browse(w, httptest.NewRequest(http.MethodGet, "/api/products", nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := errorCode(t, w); got != tt.wantErr {
				t.Errorf("code = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestProductHandler_Detail(t *testing.T) {
	svc := &mockCatalogService{
		productFn: func(_ context.Context, id int64) (*model.Product, error) {
			if id == 42 {
				return &model.Product{ID: 42, Name: "Tissue Paper", Rating: 4.5}, nil
			}
			return nil, model.NewProductNotFoundError("99")
		},
	}
	h := NewProductHandler(svc)

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Detail(w, withURLParams(httptest.NewRequest(http.MethodGet, "/api/products/42", nil), "id", "42"))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		var resp productResponse
		decodeBody(t, w, &resp)
		if resp.ID != 42 || resp.Rating != 4.5 {
			t.Errorf("product = %+v, want ID 42 rating 4.5", resp)
		}
	})

	for _, id := range []string{"99", "abc", "-1", "0"} {
		t.Run("not found "+id, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.Detail(w, withURLParams(httptest.NewRequest(http.MethodGet, "/api/products/"+id, nil), "id", id))

			if w.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
			}
			if got := errorCode(t, w); got != model.ErrCodeProductNotFound {
				t.Errorf("code = %q, want %q", got, model.ErrCodeProductNotFound)
			}
		})
	}
}

func TestNavigate(t *testing.T) {
	tests := []struct {
		name         string
		role         model.Role
		path         string
		wantAllowed  bool
		wantRedirect string
		wantRole     string
	}{
		{"public route", "", "/browse", true, "", ""},
		{"root goes to landing", "", "/", false, "/home", ""},
		{"unknown goes to landing", "", "/nowhere", false, "/home", ""},
		{"supplier route signed out", "", "/dashboard", false, "/home", "supplier"},
		{"supplier route as buyer", model.RoleBuyer, "/dashboard/orders", false, "/home", "supplier"},
		{"supplier route as supplier", model.RoleSupplier, "/dashboard/orders", true, "", "supplier"},
		{"messages as buyer", model.RoleBuyer, "/messages", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/navigate?path="+tt.path, nil)
			if tt.role != "" {
				req = withStore(req, newSignedInStore(t, supplierID, tt.role))
			}
			w := httptest.NewRecorder()
			Navigate(w, req)

			var resp navigateResponse
			decodeBody(t, w, &resp)
			if resp.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v", resp.Allowed, tt.wantAllowed)
			}
			if resp.RedirectTo != tt.wantRedirect {
				t.Errorf("redirect_to = %q, want %q", resp.RedirectTo, tt.wantRedirect)
			}
			if resp.RequiredRole != tt.wantRole {
				t.Errorf("required_role = %q, want %q", resp.RequiredRole, tt.wantRole)
			}
		})
	}
}

func TestCategories(t *testing.T) {
	w := httptest.NewRecorder()
	Categories(w, httptest.NewRequest(http.MethodGet, "/api/categories", nil))

	var resp categoriesResponse
	decodeBody(t, w, &resp)
	if len(resp.Categories) != len(model.Categories) {
		t.Errorf("categories = %v, want %v", resp.Categories, model.Categories)
	}
	if resp.All != model.CategoryAll {
		t.Errorf("all = %q, want %q", resp.All, model.CategoryAll)
	}
}
