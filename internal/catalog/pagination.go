package catalog

// pagesToShow はページ番号として並べる最大数。
const pagesToShow = 5

// Pagination はページ送りの表示情報。
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	TotalPages  int   `json:"total_pages"`
	TotalItems  int   `json:"total_items"`
	Pages       []int `json:"pages"`

	// From/To は表示中の商品の通し番号（1始まり）。
	From int `json:"from"`
	To   int `json:"to"`

	ShowFirst        bool `json:"show_first"`
	LeadingEllipsis  bool `json:"leading_ellipsis"`
	ShowLast         bool `json:"show_last"`
	TrailingEllipsis bool `json:"trailing_ellipsis"`
	HasPrev          bool `json:"has_prev"`
	HasNext          bool `json:"has_next"`

	// Hidden は総ページ数が1以下でページ送りを表示しないことを示す。
	Hidden bool `json:"hidden"`
}

// TotalPages は総件数から総ページ数を返す。
func TotalPages(totalItems, perPage int) int {
	if totalItems <= 0 || perPage <= 0 {
		return 0
	}
	return (totalItems + perPage - 1) / perPage
}

// NewPagination は現在ページを中心に最大5ページ分の番号を並べたページ送り情報を返す。
func NewPagination(currentPage, totalItems, perPage int) Pagination {
	totalPages := TotalPages(totalItems, perPage)
	p := Pagination{
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		TotalItems:  totalItems,
		Pages:       []int{},
	}
	if totalItems > 0 {
		p.From = (currentPage-1)*perPage + 1
		p.To = min(currentPage*perPage, totalItems)
	}
	if totalPages <= 1 {
		p.Hidden = true
		return p
	}

	start := max(1, currentPage-pagesToShow/2)
	end := min(totalPages, start+pagesToShow-1)
	if end-start+1 < pagesToShow {
		start = max(1, end-pagesToShow+1)
	}
	for i := start; i <= end; i++ {
		p.Pages = append(p.Pages, i)
	}

	p.ShowFirst = start > 1
	p.LeadingEllipsis = start > 2
	p.ShowLast = end < totalPages
	p.TrailingEllipsis = end < totalPages-1
	p.HasPrev = currentPage > 1
	p.HasNext = currentPage < totalPages
	return p
}
