// Package dashboard はサプライヤーとバイヤーのダッシュボードを提供する。
package dashboard

import (
	"context"
	"strconv"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/repository"
)

// Service はダッシュボードのサービス層。
// 呼び出し元でロールの確認が済んでいることを前提とする。
type Service struct {
	products repository.ProductRepository
	orders   repository.OrderRepository
	quotes   repository.QuoteRepository
	saved    repository.SavedProductRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	products repository.ProductRepository,
	orders repository.OrderRepository,
	quotes repository.QuoteRepository,
	saved repository.SavedProductRepository,
) *Service {
	return &Service{
		products: products,
		orders:   orders,
		quotes:   quotes,
		saved:    saved,
	}
}

// SupplierOrders はサプライヤーが受けた注文を取得する。
func (s *Service) SupplierOrders(ctx context.Context, supplierID string) ([]model.Order, error) {
	orders, err := s.orders.ListBySupplier(ctx, supplierID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "orders.list_by_supplier", Err: err}
	}
	return orders, nil
}

// SupplierAnalytics はサプライヤーの注文と出品から集計値を求める。
func (s *Service) SupplierAnalytics(ctx context.Context, supplierID string) (*Analytics, error) {
	orders, err := s.orders.ListBySupplier(ctx, supplierID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "orders.list_by_supplier", Err: err}
	}
	products, err := s.products.ListBySupplier(ctx, supplierID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "products.list_by_supplier", Err: err}
	}
	a := Summarize(orders, nowFunc())
	a.ProductCount = len(products)
	return a, nil
}

// BuyerOrders はバイヤーの注文を取得する。
func (s *Service) BuyerOrders(ctx context.Context, buyerID string) ([]model.Order, error) {
	orders, err := s.orders.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "orders.list_by_buyer", Err: err}
	}
	return orders, nil
}

// BuyerQuotes はバイヤーの見積依頼を取得する。
func (s *Service) BuyerQuotes(ctx context.Context, buyerID string) ([]model.Quote, error) {
	quotes, err := s.quotes.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "quotes.list_by_buyer", Err: err}
	}
	return quotes, nil
}

// SavedProducts はバイヤーが保存した商品を取得する。
func (s *Service) SavedProducts(ctx context.Context, buyerID string) ([]model.SavedProduct, error) {
	saved, err := s.saved.List(ctx, buyerID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "saved_products.list", Err: err}
	}
	return saved, nil
}

// SaveProduct は商品を保存する。既に保存済みの場合は何もしない。
// 存在しない商品はPRODUCT_NOT_FOUNDを返す。
func (s *Service) SaveProduct(ctx context.Context, buyerID string, productID int64) error {
	p, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return &model.RemoteQueryError{Op: "products.get", Err: err}
	}
	if p == nil {
		return model.NewProductNotFoundError(strconv.FormatInt(productID, 10))
	}
	if err := s.saved.Save(ctx, buyerID, productID); err != nil {
		return &model.RemoteQueryError{Op: "saved_products.insert", Err: err}
	}
	return nil
}

// RemoveSavedProduct は保存した商品を解除する。保存していない場合も成功とする。
func (s *Service) RemoveSavedProduct(ctx context.Context, buyerID string, productID int64) error {
	if err := s.saved.Remove(ctx, buyerID, productID); err != nil {
		return &model.RemoteQueryError{Op: "saved_products.delete", Err: err}
	}
	return nil
}
