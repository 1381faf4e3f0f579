package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/repository"
	"github.com/hitoshi/packmart/internal/security"
	"github.com/hitoshi/packmart/internal/validation"
)

// DefaultBucket は商品画像を保存するバケット。
const DefaultBucket = "product-images"

// DefaultMaxImageSize は商品画像の最大サイズ（5MB）。
const DefaultMaxImageSize = 5 * 1024 * 1024

// Storage は画像ストレージのインターフェース。
// platform.Clientを抽象化してテスタビリティを向上させる。
type Storage interface {
	Upload(ctx context.Context, bucket, path, contentType string, body io.Reader) error
	PublicURL(bucket, path string) string
}

// ImageSource はURLから商品画像を取り込むインターフェース。
type ImageSource interface {
	Import(ctx context.Context, rawURL string) (*Image, error)
}

// ProductForm は商品登録フォームの入力。
// 画像はファイル（Image）またはURL（ImageURL）のいずれかで指定する。
type ProductForm struct {
	Name        string
	Description string
	Price       float64
	Category    string
	MinOrderQty int
	Image       *Image
	ImageURL    string
}

// Options はServiceの設定。
type Options struct {
	Bucket       string
	MaxImageSize int64
}

// Service は商品カタログのサービス層。
type Service struct {
	products  repository.ProductRepository
	storage   Storage
	images    ImageSource
	sanitizer security.TextSanitizerService
	views     *Views
	opts      Options
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	products repository.ProductRepository,
	storage Storage,
	images ImageSource,
	sanitizer security.TextSanitizerService,
	opts Options,
) *Service {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	if opts.MaxImageSize <= 0 {
		opts.MaxImageSize = DefaultMaxImageSize
	}
	return &Service{
		products:  products,
		storage:   storage,
		images:    images,
		sanitizer: sanitizer,
		views:     NewViews(),
		opts:      opts,
		now:       time.Now,
	}
}

// Views はクライアントごとの一覧ビューを返す。
func (s *Service) Views() *Views {
	return s.views
}

// Browse は絞り込み条件とページ番号で商品一覧を取得する。
// 条件が前回から変わった場合、指定されたページ番号に関わらず1ページ目を返す。
// 取得中に同じクライアントで新しい読み込みが始まった場合はErrStaleResponseを返す。
func (s *Service) Browse(ctx context.Context, clientID string, filter Filter, page int) (*BrowseResult, error) {
	view := s.views.Get(clientID)
	if !view.SetFilter(filter) {
		view.SetPage(page)
	}

	seq, f, p := view.begin()
	products, total, err := s.products.Search(ctx, repository.ProductQuery{
		MinPrice:  f.MinPrice,
		MaxPrice:  f.MaxPrice,
		MaxMOQ:    f.MaxMOQ,
		MinRating: f.MinRating,
		Category:  f.Category,
		Offset:    (p - 1) * PageSize,
		Limit:     PageSize,
	})

	if !view.isLatest(seq) {
		slog.Debug("stale browse response discarded", slog.String("client_id", clientID), slog.Uint64("seq", seq))
		return nil, ErrStaleResponse
	}
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "products.search", Err: err}
	}

	return &BrowseResult{
		Products:   products,
		Filter:     f,
		Page:       p,
		Pagination: NewPagination(p, total, PageSize),
	}, nil
}

// Product は商品詳細を取得する。
func (s *Service) Product(ctx context.Context, id int64) (*model.Product, error) {
	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "products.get", Err: err}
	}
	if p == nil {
		return nil, model.NewProductNotFoundError(strconv.FormatInt(id, 10))
	}
	return p, nil
}

// SupplierProducts はサプライヤー自身の出品商品を取得する。
func (s *Service) SupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error) {
	products, err := s.products.ListBySupplier(ctx, supplierID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "products.list_by_supplier", Err: err}
	}
	return products, nil
}

// AddProduct はサプライヤーの商品を出品する。
// フロー: 入力検証 → 画像取り込み（URL指定時） → 画像検証 → アップロード → 商品登録
func (s *Service) AddProduct(ctx context.Context, sess *model.Session, form ProductForm) (*model.Product, error) {
	if sess == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}
	if sess.Role() != model.RoleSupplier {
		return nil, model.NewForbiddenRoleError(model.RoleSupplier, "")
	}

	form.Name = s.sanitizer.Sanitize(form.Name)
	form.Description = s.sanitizer.Sanitize(form.Description)
	form.ImageURL = strings.TrimSpace(form.ImageURL)

	// 1. 入力検証
	if err := validation.Product(validation.ProductInput{
		Name:        form.Name,
		Description: form.Description,
		Price:       form.Price,
		Category:    form.Category,
		MinOrderQty: form.MinOrderQty,
		HasImage:    form.Image != nil || form.ImageURL != "",
	}); err != nil {
		return nil, err
	}

	// 2. URL指定の場合は画像を取り込む
	img := form.Image
	if img == nil {
		imported, err := s.images.Import(ctx, form.ImageURL)
		if err != nil {
			return nil, err
		}
		img = imported
	}

	// 3. 画像の検証
	contentType, err := s.checkImage(img)
	if err != nil {
		return nil, err
	}

	// 4. アップロード
	objectPath := fmt.Sprintf("%s/%d_%s", sess.UserID(), s.now().UnixMilli(), objectName(img.Filename))
	if err := s.storage.Upload(ctx, s.opts.Bucket, objectPath, contentType, bytes.NewReader(img.Data)); err != nil {
		return nil, &model.RemoteQueryError{Op: "storage.upload", Err: err}
	}

	// 5. 商品登録
	product := &model.Product{
		SupplierID:   sess.UserID(),
		Name:         form.Name,
		Description:  form.Description,
		Price:        form.Price,
		Category:     form.Category,
		MinOrderQty:  form.MinOrderQty,
		ImageURL:     s.storage.PublicURL(s.opts.Bucket, objectPath),
		SupplierName: sess.Profile.CompanyName,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, &model.RemoteQueryError{Op: "products.insert", Err: err}
	}

	slog.Info("product created",
		slog.Int64("product_id", product.ID),
		slog.String("supplier_id", product.SupplierID),
		slog.String("category", product.Category),
	)
	return product, nil
}

// checkImage は画像のサイズと実際のファイル形式を検証し、保存時のContent-Typeを返す。
// 申告されたContent-Typeは信用せず、内容から判定する。
func (s *Service) checkImage(img *Image) (string, error) {
	if len(img.Data) == 0 {
		return "", model.NewValidationError("image", "商品画像を指定してください。")
	}
	if int64(len(img.Data)) > s.opts.MaxImageSize {
		return "", model.NewValidationError("image",
			fmt.Sprintf("画像サイズは%dMB以下にしてください。", s.opts.MaxImageSize/(1024*1024)))
	}
	detected := mimetype.Detect(img.Data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", model.NewValidationError("image", "画像ファイルを指定してください。")
	}
	return detected.String(), nil
}

// objectName はストレージのオブジェクト名に使うファイル名を整える。
// ディレクトリ部分を除き、空白は"_"に置き換える。
func objectName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "image"
	}
	return strings.Join(strings.Fields(name), "_")
}
