package catalog

import (
	"errors"
	"sync"

	"github.com/hitoshi/packmart/internal/model"
)

// ErrStaleResponse は同じビューでより新しい読み込みが開始されたため、結果を破棄したことを示す。
var ErrStaleResponse = errors.New("stale browse response")

// BrowseView は1クライアント分の商品一覧ビューの状態。
// 絞り込み条件が変わると常に1ページ目に戻る。
// 読み込みごとに連番を振り、最新でない読み込みの結果は破棄する。
type BrowseView struct {
	mu     sync.Mutex
	filter Filter
	page   int
	seq    uint64
}

// NewBrowseView は初期状態のBrowseViewを生成する。
func NewBrowseView() *BrowseView {
	return &BrowseView{filter: DefaultFilter(), page: 1}
}

// State は現在の絞り込み条件とページ番号を返す。
func (v *BrowseView) State() (Filter, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter, v.page
}

// SetFilter は絞り込み条件を変更する。条件が変わった場合は1ページ目に戻し、trueを返す。
func (v *BrowseView) SetFilter(f Filter) bool {
	f = f.Normalize()
	v.mu.Lock()
	defer v.mu.Unlock()
	if f == v.filter {
		return false
	}
	v.filter = f
	v.page = 1
	return true
}

// SetPage はページ番号を変更する。1未満は1として扱う。
func (v *BrowseView) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	v.mu.Lock()
	v.page = page
	v.mu.Unlock()
}

// begin は新しい読み込みを開始し、その連番と読み込み対象の条件を返す。
func (v *BrowseView) begin() (uint64, Filter, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	return v.seq, v.filter, v.page
}

// isLatest は連番が最新の読み込みのものかを判定する。
func (v *BrowseView) isLatest(seq uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return seq == v.seq
}

// BrowseResult は商品一覧の読み込み結果。
type BrowseResult struct {
	Products   []model.Product `json:"products"`
	Filter     Filter          `json:"filter"`
	Page       int             `json:"page"`
	Pagination Pagination      `json:"pagination"`
}

// Views はクライアントごとのBrowseViewを保持する。
type Views struct {
	mu    sync.Mutex
	views map[string]*BrowseView
}

// NewViews はViewsを生成する。
func NewViews() *Views {
	return &Views{views: make(map[string]*BrowseView)}
}

// Get はクライアントのBrowseViewを返す。存在しない場合は生成する。
func (r *Views) Get(clientID string) *BrowseView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[clientID]
	if !ok {
		v = NewBrowseView()
		r.views[clientID] = v
	}
	return v
}

// Forget はクライアントのBrowseViewを破棄する。
func (r *Views) Forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, clientID)
}

// Len は保持しているビューの数を返す。
func (r *Views) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}
