package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
)

// productNameEmbed は注文・見積に埋め込まれる商品名。
type productNameEmbed struct {
	Name string `json:"name"`
}

// orderRow はordersテーブルの行表現。
type orderRow struct {
	ID         int64             `json:"id"`
	BuyerID    string            `json:"buyer_id"`
	SupplierID string            `json:"supplier_id"`
	ProductID  int64             `json:"product_id"`
	Total      float64           `json:"total"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	Products   *productNameEmbed `json:"products"`
}

func (r *orderRow) toModel() model.Order {
	o := model.Order{
		ID:         r.ID,
		BuyerID:    r.BuyerID,
		SupplierID: r.SupplierID,
		ProductID:  r.ProductID,
		Total:      r.Total,
		Status:     model.OrderStatus(r.Status),
		CreatedAt:  r.CreatedAt,
	}
	if r.Products != nil {
		o.ProductName = r.Products.Name
	}
	return o
}

// PlatformOrderRepo はデータAPIを使用した注文リポジトリ。
type PlatformOrderRepo struct {
	client *platform.Client
}

// NewPlatformOrderRepo はPlatformOrderRepoを生成する。
func NewPlatformOrderRepo(client *platform.Client) *PlatformOrderRepo {
	return &PlatformOrderRepo{client: client}
}

// ListByBuyer はバイヤーの注文を新しい順に返す。
func (r *PlatformOrderRepo) ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error) {
	return r.list(ctx, "buyer_id", buyerID)
}

// ListBySupplier はサプライヤーが受けた注文を新しい順に返す。
func (r *PlatformOrderRepo) ListBySupplier(ctx context.Context, supplierID string) ([]model.Order, error) {
	return r.list(ctx, "supplier_id", supplierID)
}

func (r *PlatformOrderRepo) list(ctx context.Context, column, id string) ([]model.Order, error) {
	var rows []orderRow
	_, err := r.client.From("orders").
		Select("*, products(name)").
		Eq(column, id).
		Order("created_at", false).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by %s: %w", column, err)
	}

	orders := make([]model.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toModel())
	}
	return orders, nil
}

// quoteRow はquotesテーブルの行表現。
type quoteRow struct {
	ID         int64             `json:"id"`
	BuyerID    string            `json:"buyer_id"`
	SupplierID string            `json:"supplier_id"`
	ProductID  int64             `json:"product_id"`
	Status     string            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	Products   *productNameEmbed `json:"products"`
}

// PlatformQuoteRepo はデータAPIを使用した見積依頼リポジトリ。
type PlatformQuoteRepo struct {
	client *platform.Client
}

// NewPlatformQuoteRepo はPlatformQuoteRepoを生成する。
func NewPlatformQuoteRepo(client *platform.Client) *PlatformQuoteRepo {
	return &PlatformQuoteRepo{client: client}
}

// ListByBuyer はバイヤーの見積依頼を新しい順に返す。
func (r *PlatformQuoteRepo) ListByBuyer(ctx context.Context, buyerID string) ([]model.Quote, error) {
	var rows []quoteRow
	_, err := r.client.From("quotes").
		Select("*, products(name)").
		Eq("buyer_id", buyerID).
		Order("created_at", false).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}

	quotes := make([]model.Quote, 0, len(rows))
	for _, row := range rows {
		q := model.Quote{
			ID:         row.ID,
			BuyerID:    row.BuyerID,
			SupplierID: row.SupplierID,
			ProductID:  row.ProductID,
			Status:     model.QuoteStatus(row.Status),
			CreatedAt:  row.CreatedAt,
		}
		if row.Products != nil {
			q.ProductName = row.Products.Name
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}
