// Package repository はプラットフォームのデータAPIに対する永続化インターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/packmart/internal/model"
)

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Create はプロフィールを作成する。IDはIdentityのIDと一致させる。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdateCompanyName は会社名を更新し、更新後のプロフィールを返す。
	UpdateCompanyName(ctx context.Context, id, companyName string) (*model.Profile, error)
}

// ProductQuery は商品検索の条件を表す。
// Offset/Limitは0始まりの取得範囲で、Limitが0の場合は範囲を指定しない。
type ProductQuery struct {
	MinPrice  float64
	MaxPrice  float64
	MaxMOQ    int
	MinRating float64
	Category  string
	Offset    int
	Limit     int
}

// ProductRepository は商品データの永続化インターフェース。
type ProductRepository interface {
	// Search は条件に一致する商品を作成日時の降順で取得し、総件数と共に返す。
	Search(ctx context.Context, q ProductQuery) ([]model.Product, int, error)

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Product, error)

	// ListBySupplier はサプライヤーの商品を作成日時の降順で取得する。
	ListBySupplier(ctx context.Context, supplierID string) ([]model.Product, error)

	// Create は商品を作成する。採番されたIDと作成日時をproductに設定する。
	Create(ctx context.Context, product *model.Product) error
}

// MessageRepository はメッセージデータの永続化インターフェース。
type MessageRepository interface {
	// ListConversations はユーザーが参加する会話の一覧を最終メッセージの新しい順に返す。
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)

	// ListBetween は2者間のメッセージを作成日時の昇順で返す。
	ListBetween(ctx context.Context, a, b string) ([]model.Message, error)

	// Create はメッセージを作成する。採番されたIDと作成日時をmsgに設定する。
	Create(ctx context.Context, msg *model.Message) error
}

// OrderRepository は注文データの参照インターフェース。
type OrderRepository interface {
	// ListByBuyer はバイヤーの注文を新しい順に返す。
	ListByBuyer(ctx context.Context, buyerID string) ([]model.Order, error)

	// ListBySupplier はサプライヤーが受けた注文を新しい順に返す。
	ListBySupplier(ctx context.Context, supplierID string) ([]model.Order, error)
}

// QuoteRepository は見積依頼データの参照インターフェース。
type QuoteRepository interface {
	// ListByBuyer はバイヤーの見積依頼を新しい順に返す。
	ListByBuyer(ctx context.Context, buyerID string) ([]model.Quote, error)
}

// SavedProductRepository は保存済み商品の永続化インターフェース。
type SavedProductRepository interface {
	// List はバイヤーが保存した商品を保存日時の降順で返す。
	List(ctx context.Context, buyerID string) ([]model.SavedProduct, error)

	// Save は商品を保存する。既に保存済みの場合は何もしない。
	Save(ctx context.Context, buyerID string, productID int64) error

	// Remove は保存を解除する。
	Remove(ctx context.Context, buyerID string, productID int64) error
}
