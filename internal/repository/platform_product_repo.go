package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
)

// productColumns は商品取得時のカラム指定。出品者の会社名を埋め込みで取得する。
const productColumns = "*, profiles(company_name)"

// productRow はproductsテーブルの行表現。
type productRow struct {
	ID          int64     `json:"id,omitempty"`
	SupplierID  string    `json:"supplier_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	ImageURL    *string   `json:"image_url"`
	MinOrderQty int       `json:"min_order_qty"`
	Rating      float64   `json:"rating,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
	Profiles    *struct {
		CompanyName *string `json:"company_name"`
	} `json:"profiles,omitempty"`
}

func (r *productRow) toModel() model.Product {
	p := model.Product{
		ID:          r.ID,
		SupplierID:  r.SupplierID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Category:    r.Category,
		MinOrderQty: r.MinOrderQty,
		Rating:      r.Rating,
		CreatedAt:   r.CreatedAt,
	}
	if r.ImageURL != nil {
		p.ImageURL = *r.ImageURL
	}
	if r.Profiles != nil && r.Profiles.CompanyName != nil {
		p.SupplierName = *r.Profiles.CompanyName
	}
	return p
}

func toProducts(rows []productRow) []model.Product {
	products := make([]model.Product, 0, len(rows))
	for i := range rows {
		products = append(products, rows[i].toModel())
	}
	return products
}

// PlatformProductRepo はデータAPIを使用した商品リポジトリ。
type PlatformProductRepo struct {
	client *platform.Client
}

// NewPlatformProductRepo はPlatformProductRepoを生成する。
func NewPlatformProductRepo(client *platform.Client) *PlatformProductRepo {
	return &PlatformProductRepo{client: client}
}

// Search は条件に一致する商品を作成日時の降順で取得し、総件数と共に返す。
// MinRatingが0の場合は評価で絞り込まない。Categoryが空または"All"の場合はカテゴリで絞り込まない。
func (r *PlatformProductRepo) Search(ctx context.Context, q ProductQuery) ([]model.Product, int, error) {
	query := r.client.From("products").
		Select(productColumns).
		Gte("price", q.MinPrice).
		Lte("price", q.MaxPrice).
		Lte("min_order_qty", q.MaxMOQ)

	if q.MinRating > 0 {
		query = query.Gte("rating", q.MinRating)
	}
	if q.Category != "" && q.Category != model.CategoryAll {
		query = query.Eq("category", q.Category)
	}

	query = query.Order("created_at", false).CountExact()
	if q.Limit > 0 {
		query = query.Range(q.Offset, q.Offset+q.Limit-1)
	}

	var rows []productRow
	total, err := query.Execute(ctx, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search products: %w", err)
	}
	if total < 0 {
		total = len(rows)
	}
	return toProducts(rows), total, nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PlatformProductRepo) FindByID(ctx context.Context, id int64) (*model.Product, error) {
	var row productRow
	_, err := r.client.From("products").
		Select(productColumns).
		Eq("id", id).
		Single().
		Execute(ctx, &row)
	if platform.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}
	p := row.toModel()
	return &p, nil
}

// ListBySupplier はサプライヤーの商品を作成日時の降順で取得する。
func (r *PlatformProductRepo) ListBySupplier(ctx context.Context, supplierID string) ([]model.Product, error) {
	var rows []productRow
	_, err := r.client.From("products").
		Select(productColumns).
		Eq("supplier_id", supplierID).
		Order("created_at", false).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list products by supplier: %w", err)
	}
	return toProducts(rows), nil
}

// Create は商品を作成する。採番されたIDと作成日時をproductに設定する。
func (r *PlatformProductRepo) Create(ctx context.Context, product *model.Product) error {
	row := productRow{
		SupplierID:  product.SupplierID,
		Name:        product.Name,
		Description: product.Description,
		Price:       product.Price,
		Category:    product.Category,
		MinOrderQty: product.MinOrderQty,
	}
	if product.ImageURL != "" {
		row.ImageURL = &product.ImageURL
	}

	var created productRow
	_, err := r.client.From("products").Insert(row).Single().Execute(ctx, &created)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	product.ID = created.ID
	product.CreatedAt = created.CreatedAt
	product.Rating = created.Rating
	return nil
}
