package catalog

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/repository"
	"github.com/hitoshi/packmart/internal/security"
)

// pngHeader はPNGとして判定される最小限のバイト列。
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// --- モック ---

type mockProductRepo struct {
	searchFn   func(ctx context.Context, q repository.ProductQuery) ([]model.Product, int, error)
	findFn     func(ctx context.Context, id int64) (*model.Product, error)
	listFn     func(ctx context.Context, supplierID string) ([]model.Product, error)
	createFn   func(ctx context.Context, p *model.Product) error
	lastQuery  repository.ProductQuery
	searchHits int
	created    []*model.Product
}

func (m *mockProductRepo) Search(ctx context.Context, q repository.ProductQuery) ([]model.Product, int, error) {
	m.lastQuery = q
	m.searchHits++
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return nil, 0, nil
}

func (m *mockProductRepo) FindByID(ctx context.Context, id int64) (*model.Product, error) {
	if m.findFn != nil {
		return m.findFn(ctx, id)
	}
	return nil, nil
}

func (m *mockProductRepo) ListBySupplier(ctx context.Context, supplierID string) ([]model.Product, error) {
	if m.listFn != nil {
		return m.listFn(ctx, supplierID)
	}
	return nil, nil
}

func (m *mockProductRepo) Create(ctx context.Context, p *model.Product) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, p); err != nil {
			return err
		}
	}
	p.ID = int64(len(m.created) + 1)
	m.created = append(m.created, p)
	return nil
}

type upload struct {
	bucket, path, contentType string
	data                      []byte
}

type mockStorage struct {
	uploads []upload
	err     error
}

func (m *mockStorage) Upload(_ context.Context, bucket, path, contentType string, body io.Reader) error {
	if m.err != nil {
		return m.err
	}
	data, _ := io.ReadAll(body)
	m.uploads = append(m.uploads, upload{bucket, path, contentType, data})
	return nil
}

func (m *mockStorage) PublicURL(bucket, path string) string {
	return "https://cdn.example.com/" + bucket + "/" + path
}

type mockImageSource struct {
	img   *Image
	err   error
	calls int
}

func (m *mockImageSource) Import(_ context.Context, _ string) (*Image, error) {
	m.calls++
	return m.img, m.err
}

func newTestService(repo *mockProductRepo, storage *mockStorage, images *mockImageSource) *Service {
	s := NewService(repo, storage, images, security.NewTextSanitizer(), Options{})
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func supplierSession() *model.Session {
	return &model.Session{
		Identity: model.Identity{ID: "sup-1", Email: "s@example.com"},
		Profile:  model.Profile{ID: "sup-1", Email: "s@example.com", Role: model.RoleSupplier, CompanyName: "Box Co"},
	}
}

func validForm() ProductForm {
	return ProductForm{
		Name:        "Kraft Mailer",
		Description: "Recyclable mailer box",
		Price:       1.25,
		Category:    "Mailer Boxes",
		MinOrderQty: 100,
		Image:       &Image{Filename: "mailer box.png", Data: pngHeader},
	}
}

// --- Browse ---

func TestBrowse_PassesFilterAndPageWindow(t *testing.T) {
	repo := &mockProductRepo{
		searchFn: func(_ context.Context, _ repository.ProductQuery) ([]model.Product, int, error) {
			return []model.Product{{ID: 1}}, 40, nil
		},
	}
	s := newTestService(repo, &mockStorage{}, &mockImageSource{})

	if _, err := s.Browse(context.Background(), "c1", DefaultFilter(), 1); err != nil {
		t.Fatal(err)
	}
	res, err := s.Browse(context.Background(), "c1", DefaultFilter(), 3)
	if err != nil {
		t.Fatalf("Browse error: %v", err)
	}
	if res.Page != 3 {
		t.Errorf("page = %d, want 3", res.Page)
	}
	if repo.lastQuery.Offset != 24 || repo.lastQuery.Limit != PageSize {
		t.Errorf("offset/limit = %d/%d, want 24/%d", repo.lastQuery.Offset, repo.lastQuery.Limit, PageSize)
	}
	if res.Pagination.TotalPages != 4 {
		t.Errorf("total pages = %d, want 4", res.Pagination.TotalPages)
	}
}

func TestBrowse_FilterChangeForcesFirstPage(t *testing.T) {
	repo := &mockProductRepo{}
	s := newTestService(repo, &mockStorage{}, &mockImageSource{})
	ctx := context.Background()

	if _, err := s.Browse(ctx, "c1", DefaultFilter(), 2); err != nil {
		t.Fatal(err)
	}

	f := DefaultFilter()
	f.MaxPrice = 5
	res, err := s.Browse(ctx, "c1", f, 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Page != 1 {
		t.Errorf("page = %d, want 1 after filter change", res.Page)
	}
	if repo.lastQuery.Offset != 0 || repo.lastQuery.MaxPrice != 5 {
		t.Errorf("unexpected query: %+v", repo.lastQuery)
	}
}

func TestBrowse_ClientsAreIndependent(t *testing.T) {
	repo := &mockProductRepo{}
	s := newTestService(repo, &mockStorage{}, &mockImageSource{})
	ctx := context.Background()

	f := DefaultFilter()
	f.Category = "Luxury Boxes"
	s.Browse(ctx, "c1", f, 1)
	s.Browse(ctx, "c2", DefaultFilter(), 2)

	got, page := s.Views().Get("c1").State()
	if got.Category != "Luxury Boxes" || page != 1 {
		t.Errorf("c1 state = %+v page %d", got, page)
	}
}

func TestBrowse_StaleResponseDiscarded(t *testing.T) {
	repo := &mockProductRepo{}
	s := newTestService(repo, &mockStorage{}, &mockImageSource{})
	ctx := context.Background()

	newer := DefaultFilter()
	newer.Category = "Shipping Boxes"

	var nestedErr error
	var nestedRes *BrowseResult
	repo.searchFn = func(_ context.Context, q repository.ProductQuery) ([]model.Product, int, error) {
		if repo.searchHits == 1 {
			// 最初の読み込みが終わる前に条件が変更される
			nestedRes, nestedErr = s.Browse(ctx, "c1", newer, 1)
			return []model.Product{{ID: 1, Category: "All"}}, 1, nil
		}
		return []model.Product{{ID: 2, Category: "Shipping Boxes"}}, 1, nil
	}

	_, err := s.Browse(ctx, "c1", DefaultFilter(), 1)
	if !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse, got %v", err)
	}
	if nestedErr != nil {
		t.Fatalf("newer load failed: %v", nestedErr)
	}
	if len(nestedRes.Products) != 1 || nestedRes.Products[0].ID != 2 {
		t.Errorf("newer load products = %+v", nestedRes.Products)
	}
}

func TestBrowse_RemoteFailure(t *testing.T) {
	repo := &mockProductRepo{
		searchFn: func(_ context.Context, _ repository.ProductQuery) ([]model.Product, int, error) {
			return nil, 0, errors.New("connection refused")
		},
	}
	s := newTestService(repo, &mockStorage{}, &mockImageSource{})

	_, err := s.Browse(context.Background(), "c1", DefaultFilter(), 1)
	var rqe *model.RemoteQueryError
	if !errors.As(err, &rqe) {
		t.Fatalf("expected RemoteQueryError, got %v", err)
	}
	if rqe.Op != "products.search" {
		t.Errorf("Op = %q", rqe.Op)
	}
}

// --- Product ---

func TestProduct_NotFound(t *testing.T) {
	s := newTestService(&mockProductRepo{}, &mockStorage{}, &mockImageSource{})
	_, err := s.Product(context.Background(), 42)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProductNotFound {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestProduct_Found(t *testing.T) {
	repo := &mockProductRepo{
		findFn: func(_ context.Context, id int64) (*model.Product, error) {
			return &model.Product{ID: id, Name: "Tube"}, nil
		},
	}
	s := newTestService(repo, &mockStorage{}, &mockImageSource{})
	p, err := s.Product(context.Background(), 7)
	if err != nil || p.ID != 7 {
		t.Fatalf("Product = %+v, %v", p, err)
	}
}

// --- AddProduct ---

func TestAddProduct_Success(t *testing.T) {
	repo := &mockProductRepo{}
	storage := &mockStorage{}
	s := newTestService(repo, storage, &mockImageSource{})

	p, err := s.AddProduct(context.Background(), supplierSession(), validForm())
	if err != nil {
		t.Fatalf("AddProduct error: %v", err)
	}
	if len(storage.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(storage.uploads))
	}
	up := storage.uploads[0]
	if up.bucket != DefaultBucket {
		t.Errorf("bucket = %q", up.bucket)
	}
	if up.path != "sup-1/1700000000000_mailer_box.png" {
		t.Errorf("path = %q", up.path)
	}
	if up.contentType != "image/png" {
		t.Errorf("content type = %q", up.contentType)
	}
	if p.ImageURL != "https://cdn.example.com/product-images/sup-1/1700000000000_mailer_box.png" {
		t.Errorf("image url = %q", p.ImageURL)
	}
	if p.SupplierID != "sup-1" || p.ID == 0 {
		t.Errorf("unexpected product: %+v", p)
	}
}

func TestAddProduct_ValidationBlocksRemoteCalls(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*ProductForm)
		field string
	}{
		{"empty name", func(f *ProductForm) { f.Name = "  " }, "name"},
		{"zero price", func(f *ProductForm) { f.Price = 0 }, "price"},
		{"zero moq", func(f *ProductForm) { f.MinOrderQty = 0 }, "min_order_qty"},
		{"unknown category", func(f *ProductForm) { f.Category = "Crates" }, "category"},
		{"no image", func(f *ProductForm) { f.Image = nil }, "image"},
		{"markup only description", func(f *ProductForm) { f.Description = "<b></b>" }, "description"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockProductRepo{}
			storage := &mockStorage{}
			images := &mockImageSource{}
			s := newTestService(repo, storage, images)

			form := validForm()
			tt.edit(&form)
			_, err := s.AddProduct(context.Background(), supplierSession(), form)

			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("fields = %v, want key %q", ve.Fields, tt.field)
			}
			if len(storage.uploads) != 0 || len(repo.created) != 0 || images.calls != 0 {
				t.Error("no remote call should be made on validation failure")
			}
		})
	}
}

func TestAddProduct_RejectsNonImage(t *testing.T) {
	storage := &mockStorage{}
	s := newTestService(&mockProductRepo{}, storage, &mockImageSource{})

	form := validForm()
	form.Image = &Image{Filename: "evil.png", Data: []byte("<html><script>alert(1)</script></html>")}
	_, err := s.AddProduct(context.Background(), supplierSession(), form)

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(storage.uploads) != 0 {
		t.Error("non-image content must not be uploaded")
	}
}

func TestAddProduct_ImageTooLarge(t *testing.T) {
	s := NewService(&mockProductRepo{}, &mockStorage{}, &mockImageSource{}, security.NewTextSanitizer(), Options{MaxImageSize: 16})
	_, err := s.AddProduct(context.Background(), supplierSession(), validForm())
	var ve *model.ValidationError
	if !errors.As(err, &ve) || !strings.Contains(ve.Fields["image"], "MB") {
		t.Fatalf("expected size ValidationError, got %v", err)
	}
}

func TestAddProduct_ImportsImageFromURL(t *testing.T) {
	storage := &mockStorage{}
	images := &mockImageSource{img: &Image{Filename: "photo.png", Data: pngHeader}}
	s := newTestService(&mockProductRepo{}, storage, images)

	form := validForm()
	form.Image = nil
	form.ImageURL = "https://example.com/products/1"
	if _, err := s.AddProduct(context.Background(), supplierSession(), form); err != nil {
		t.Fatalf("AddProduct error: %v", err)
	}
	if images.calls != 1 {
		t.Errorf("import calls = %d, want 1", images.calls)
	}
	if len(storage.uploads) != 1 || !strings.HasSuffix(storage.uploads[0].path, "_photo.png") {
		t.Errorf("uploads = %+v", storage.uploads)
	}
}

func TestAddProduct_BuyerForbidden(t *testing.T) {
	s := newTestService(&mockProductRepo{}, &mockStorage{}, &mockImageSource{})
	sess := supplierSession()
	sess.Profile.Role = model.RoleBuyer

	_, err := s.AddProduct(context.Background(), sess, validForm())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbiddenRole {
		t.Fatalf("expected forbidden role, got %v", err)
	}
}

func TestAddProduct_UploadFailure(t *testing.T) {
	repo := &mockProductRepo{}
	s := newTestService(repo, &mockStorage{err: errors.New("bucket missing")}, &mockImageSource{})

	_, err := s.AddProduct(context.Background(), supplierSession(), validForm())
	var rqe *model.RemoteQueryError
	if !errors.As(err, &rqe) || rqe.Op != "storage.upload" {
		t.Fatalf("expected storage RemoteQueryError, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Error("product must not be created when upload fails")
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"box.png", "box.png"},
		{"my box.png", "my_box.png"},
		{"../../etc/passwd", "passwd"},
		{`C:\photos\lid.jpg`, "lid.jpg"},
		{"", "image"},
	}
	for _, tt := range tests {
		if got := objectName(tt.in); got != tt.want {
			t.Errorf("objectName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
