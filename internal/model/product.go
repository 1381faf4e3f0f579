package model

import "time"

// Product はサプライヤーが出品する包装資材を表す。
type Product struct {
	ID          int64
	SupplierID  string
	Name        string
	Description string
	Price       float64
	Category    string
	ImageURL    string
	MinOrderQty int
	Rating      float64
	CreatedAt   time.Time

	// SupplierName は profiles.company_name を結合した値。一覧取得時のみ設定される。
	SupplierName string
}

// Categories は出品可能な商品カテゴリの一覧。
var Categories = []string{
	"Mailer Boxes",
	"Shipping Boxes",
	"Product Packaging",
	"Flexible Packaging",
	"Luxury Boxes",
}

// CategoryAll はカテゴリで絞り込まないことを示す値。
const CategoryAll = "All"

// IsValidCategory は出品可能なカテゴリかどうかを判定する。
func IsValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// SavedProduct はバイヤーが保存した商品を表す。
type SavedProduct struct {
	BuyerID   string
	Product   Product
	CreatedAt time.Time
}
