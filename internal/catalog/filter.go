// Package catalog は商品一覧の絞り込み・ページング、商品詳細、出品を提供する。
package catalog

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/packmart/internal/model"
)

// PageSize は1ページあたりの商品数。
const PageSize = 12

// 絞り込み条件のデフォルト値
const (
	DefaultMinPrice  = 0.0
	DefaultMaxPrice  = 10.0
	DefaultMaxMOQ    = 1000
	DefaultMinRating = 0.0
	MaxRating        = 5.0
)

// Filter は商品一覧の絞り込み条件。
type Filter struct {
	Category  string  `json:"category"`
	MinPrice  float64 `json:"min_price"`
	MaxPrice  float64 `json:"max_price"`
	MaxMOQ    int     `json:"max_moq"`
	MinRating float64 `json:"min_rating"`
}

// DefaultFilter は初期表示の絞り込み条件を返す。
func DefaultFilter() Filter {
	return Filter{
		Category:  model.CategoryAll,
		MinPrice:  DefaultMinPrice,
		MaxPrice:  DefaultMaxPrice,
		MaxMOQ:    DefaultMaxMOQ,
		MinRating: DefaultMinRating,
	}
}

// Normalize は範囲外や不正な値をデフォルトに補正した条件を返す。
// 最大MOQが0以下の場合はデフォルト値を使う。評価は0〜5に丸める。
func (f Filter) Normalize() Filter {
	if f.Category == "" || (f.Category != model.CategoryAll && !model.IsValidCategory(f.Category)) {
		f.Category = model.CategoryAll
	}
	if f.MinPrice < 0 {
		f.MinPrice = DefaultMinPrice
	}
	if f.MaxPrice < 0 {
		f.MaxPrice = DefaultMaxPrice
	}
	if f.MaxMOQ <= 0 {
		f.MaxMOQ = DefaultMaxMOQ
	}
	if f.MinRating < 0 {
		f.MinRating = 0
	}
	if f.MinRating > MaxRating {
		f.MinRating = MaxRating
	}
	return f
}

// ParseFilter はクエリパラメータから絞り込み条件を生成する。
// 未指定や解析できない値はデフォルトを使う。
func ParseFilter(q url.Values) Filter {
	f := DefaultFilter()
	if v := strings.TrimSpace(q.Get("category")); v != "" {
		f.Category = v
	}
	f.MinPrice = parseFloat(q.Get("min_price"), DefaultMinPrice)
	f.MaxPrice = parseFloat(q.Get("max_price"), DefaultMaxPrice)
	f.MaxMOQ = parseInt(q.Get("max_moq"), DefaultMaxMOQ)
	f.MinRating = parseFloat(q.Get("min_rating"), DefaultMinRating)
	return f.Normalize()
}

// ParsePage はクエリパラメータのページ番号を解析する。1未満や不正な値は1を返す。
func ParsePage(raw string) int {
	p, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || p < 1 {
		return 1
	}
	return p
}

func parseFloat(raw string, def float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func parseInt(raw string, def int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
