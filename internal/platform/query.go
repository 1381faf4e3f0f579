package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Query はデータAPIへのクエリビルダー。
// From()で生成し、フィルタ・並び順・範囲を指定してExecuteで実行する。
// アクセストークンはコンテキストから取得する。
type Query struct {
	client  *Client
	table   string
	method  string
	params  url.Values
	orders  []string
	headers map[string]string
	prefer  []string
	body    any
	single  bool
	count   bool
}

// From はテーブルに対するクエリビルダーを生成する。
func (c *Client) From(table string) *Query {
	return &Query{
		client:  c,
		table:   table,
		method:  http.MethodGet,
		params:  url.Values{},
		headers: map[string]string{},
	}
}

// Select は取得するカラムを指定する。埋め込みリソースも指定できる（例: "*, profiles(company_name)"）。
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Insert は行の挿入を指定する。挿入された行を返すよう要求する。
func (q *Query) Insert(row any) *Query {
	q.method = http.MethodPost
	q.body = row
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// Update は条件に一致する行の更新を指定する。更新後の行を返すよう要求する。
func (q *Query) Update(values any) *Query {
	q.method = http.MethodPatch
	q.body = values
	q.prefer = append(q.prefer, "return=representation")
	return q
}

// IgnoreDuplicates はInsert時に一意制約に衝突した行を無視する。
func (q *Query) IgnoreDuplicates(conflictColumns string) *Query {
	q.params.Set("on_conflict", conflictColumns)
	q.prefer = append(q.prefer, "resolution=ignore-duplicates")
	return q
}

// Delete は条件に一致する行の削除を指定する。
func (q *Query) Delete() *Query {
	q.method = http.MethodDelete
	return q
}

// Eq は等価条件を追加する。
func (q *Query) Eq(column string, value any) *Query {
	return q.filter(column, "eq", value)
}

// Gte は以上条件を追加する。
func (q *Query) Gte(column string, value any) *Query {
	return q.filter(column, "gte", value)
}

// Lte は以下条件を追加する。
func (q *Query) Lte(column string, value any) *Query {
	return q.filter(column, "lte", value)
}

// Or はOR条件グループを追加する（例: "and(a.eq.1,b.eq.2),and(a.eq.2,b.eq.1)"）。
func (q *Query) Or(conditions string) *Query {
	q.params.Add("or", "("+conditions+")")
	return q
}

// Order は並び順を追加する。
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Range は取得範囲を0始まりの閉区間で指定する。
func (q *Query) Range(from, to int) *Query {
	q.headers["Range-Unit"] = "items"
	q.headers["Range"] = fmt.Sprintf("%d-%d", from, to)
	return q
}

// Single は1行のみを取得する。行が存在しない場合はIsNotFoundで判定できるエラーを返す。
func (q *Query) Single() *Query {
	q.single = true
	q.headers["Accept"] = "application/vnd.pgrst.object+json"
	return q
}

// CountExact は同じリクエストで条件に一致する総件数を取得する。
func (q *Query) CountExact() *Query {
	q.count = true
	q.prefer = append(q.prefer, "count=exact")
	return q
}

// Execute はクエリを実行し、結果をdestにデコードする。destがnilの場合はデコードしない。
// CountExact指定時は総件数を、それ以外は-1を返す。
func (q *Query) Execute(ctx context.Context, dest any) (int, error) {
	op := "db." + strings.ToLower(q.method) + "." + q.table

	headers := make(map[string]string, len(q.headers)+1)
	for k, v := range q.headers {
		headers[k] = v
	}
	if len(q.prefer) > 0 {
		headers["Prefer"] = strings.Join(q.prefer, ",")
	}

	resp, err := q.client.doJSON(ctx, op, q.method, q.URL(), q.body, headers, AccessTokenFromContext(ctx))
	if err != nil {
		return 0, err
	}

	total := -1
	if q.count {
		total = parseContentRangeTotal(resp.Header.Get("Content-Range"))
	}

	if dest != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, dest); err != nil {
			return 0, fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return total, nil
}

// URL はクエリのリクエストURLを返す。
func (q *Query) URL() string {
	params := url.Values{}
	for k, vs := range q.params {
		params[k] = append([]string(nil), vs...)
	}
	if len(q.orders) > 0 {
		params.Set("order", strings.Join(q.orders, ","))
	}

	u := q.client.restURL + "/" + url.PathEscape(q.table)
	if encoded := params.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (q *Query) filter(column, op string, value any) *Query {
	q.params.Add(column, op+"."+formatValue(value))
	return q
}

// formatValue はフィルタ値を文字列化する。浮動小数点は最短表現にする。
func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// parseContentRangeTotal はContent-Rangeヘッダー（"0-11/45", "*/0"）から総件数を取り出す。
// 取り出せない場合は-1を返す。
func parseContentRangeTotal(h string) int {
	idx := strings.LastIndex(h, "/")
	if idx < 0 {
		return -1
	}
	total, err := strconv.Atoi(h[idx+1:])
	if err != nil {
		return -1
	}
	return total
}

// RPC はデータベース関数を呼び出し、結果をdestにデコードする。
func (c *Client) RPC(ctx context.Context, fn string, params any, dest any) error {
	op := "rpc." + fn
	resp, err := c.doJSON(ctx, op, http.MethodPost, c.restURL+"/rpc/"+url.PathEscape(fn), params, nil, AccessTokenFromContext(ctx))
	if err != nil {
		return err
	}
	if dest != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, dest); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}
