package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
)

// savedProductRow はsaved_productsテーブルの行表現。
type savedProductRow struct {
	BuyerID   string      `json:"buyer_id"`
	ProductID int64       `json:"product_id"`
	CreatedAt time.Time   `json:"created_at,omitzero"`
	Products  *productRow `json:"products,omitempty"`
}

// PlatformSavedProductRepo はデータAPIを使用した保存済み商品リポジトリ。
type PlatformSavedProductRepo struct {
	client *platform.Client
}

// NewPlatformSavedProductRepo はPlatformSavedProductRepoを生成する。
func NewPlatformSavedProductRepo(client *platform.Client) *PlatformSavedProductRepo {
	return &PlatformSavedProductRepo{client: client}
}

// List はバイヤーが保存した商品を保存日時の降順で返す。
// 商品が削除済みの行は除外する。
func (r *PlatformSavedProductRepo) List(ctx context.Context, buyerID string) ([]model.SavedProduct, error) {
	var rows []savedProductRow
	_, err := r.client.From("saved_products").
		Select("buyer_id, product_id, created_at, products(*, profiles(company_name))").
		Eq("buyer_id", buyerID).
		Order("created_at", false).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved products: %w", err)
	}

	saved := make([]model.SavedProduct, 0, len(rows))
	for _, row := range rows {
		if row.Products == nil {
			continue
		}
		saved = append(saved, model.SavedProduct{
			BuyerID:   row.BuyerID,
			Product:   row.Products.toModel(),
			CreatedAt: row.CreatedAt,
		})
	}
	return saved, nil
}

// Save は商品を保存する。既に保存済みの場合は何もしない。
func (r *PlatformSavedProductRepo) Save(ctx context.Context, buyerID string, productID int64) error {
	row := savedProductRow{BuyerID: buyerID, ProductID: productID}
	_, err := r.client.From("saved_products").
		Insert(row).
		IgnoreDuplicates("buyer_id,product_id").
		Execute(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// Remove は保存を解除する。
func (r *PlatformSavedProductRepo) Remove(ctx context.Context, buyerID string, productID int64) error {
	_, err := r.client.From("saved_products").
		Delete().
		Eq("buyer_id", buyerID).
		Eq("product_id", productID).
		Execute(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to remove saved product: %w", err)
	}
	return nil
}
