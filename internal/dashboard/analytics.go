package dashboard

import (
	"cmp"
	"slices"
	"time"

	"github.com/hitoshi/packmart/internal/model"
)

// topProductsLimit は売上上位として返す商品数。
const topProductsLimit = 5

// salesWindowDays は日別売上を集計する日数。
const salesWindowDays = 30

var nowFunc = time.Now

// ProductSales は商品ごとの注文数と売上。
type ProductSales struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	Orders      int     `json:"orders"`
	Revenue     float64 `json:"revenue"`
}

// DailySales は1日分の注文数と売上。
type DailySales struct {
	Date    string  `json:"date"` // YYYY-MM-DD (UTC)
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

// Analytics はサプライヤーの集計値。
// 売上と日別・商品別の集計はキャンセルされた注文を含まない。
type Analytics struct {
	TotalOrders       int                       `json:"total_orders"`
	Revenue           float64                   `json:"revenue"`
	AverageOrderValue float64                   `json:"average_order_value"`
	StatusCounts      map[model.OrderStatus]int `json:"status_counts"`
	TopProducts       []ProductSales            `json:"top_products"`
	Daily             []DailySales              `json:"daily"`
	ProductCount      int                       `json:"product_count"`
}

// Summarize は注文一覧から集計値を求める。
// 日別売上はnowを含む直近30日分を古い順に返す。
func Summarize(orders []model.Order, now time.Time) *Analytics {
	a := &Analytics{
		TotalOrders:  len(orders),
		StatusCounts: make(map[model.OrderStatus]int),
		TopProducts:  []ProductSales{},
	}

	today := now.UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(salesWindowDays - 1))
	a.Daily = make([]DailySales, salesWindowDays)
	for i := range a.Daily {
		a.Daily[i].Date = start.AddDate(0, 0, i).Format(time.DateOnly)
	}

	byProduct := make(map[int64]*ProductSales)
	counted := 0
	for _, o := range orders {
		a.StatusCounts[o.Status]++
		if o.Status == model.OrderStatusCancelled {
			continue
		}
		counted++
		a.Revenue += o.Total

		ps, ok := byProduct[o.ProductID]
		if !ok {
			ps = &ProductSales{ProductID: o.ProductID, ProductName: o.ProductName}
			byProduct[o.ProductID] = ps
		}
		ps.Orders++
		ps.Revenue += o.Total

		day := o.CreatedAt.UTC().Truncate(24 * time.Hour)
		if idx := int(day.Sub(start) / (24 * time.Hour)); !day.Before(start) && idx < salesWindowDays {
			a.Daily[idx].Orders++
			a.Daily[idx].Revenue += o.Total
		}
	}

	if counted > 0 {
		a.AverageOrderValue = a.Revenue / float64(counted)
	}

	for _, ps := range byProduct {
		a.TopProducts = append(a.TopProducts, *ps)
	}
	slices.SortFunc(a.TopProducts, func(x, y ProductSales) int {
		if c := cmp.Compare(y.Revenue, x.Revenue); c != 0 {
			return c
		}
		if c := cmp.Compare(y.Orders, x.Orders); c != 0 {
			return c
		}
		return cmp.Compare(x.ProductID, y.ProductID)
	})
	if len(a.TopProducts) > topProductsLimit {
		a.TopProducts = a.TopProducts[:topProductsLimit]
	}
	return a
}
