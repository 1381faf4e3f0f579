// Package guard はセッションとロールに基づく画面遷移の可否を判定する。
package guard

import (
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/packmart/internal/model"
)

// DefaultLanding は拒否時および未知のパスの遷移先。
const DefaultLanding = "/home"

// Decision はルートガードの判定結果。
type Decision struct {
	Allowed    bool
	RedirectTo string
}

// Evaluate はセッションが遷移先を表示できるかを判定する。
// requiredRoleが空の場合はセッションの有無のみ、指定時はロールの完全一致を要求する。
// 拒否時はDefaultLandingへのリダイレクトを返す。
func Evaluate(sess *model.Session, requiredRole model.Role) Decision {
	if sess == nil {
		return Decision{RedirectTo: DefaultLanding}
	}
	if requiredRole != "" && sess.Role() != requiredRole {
		return Decision{RedirectTo: DefaultLanding}
	}
	return Decision{Allowed: true}
}

// State はセッションの認証状態を表す。
type State struct {
	Authenticated bool
	Role          model.Role
}

// StateOf はセッションの認証状態を返す。
func StateOf(sess *model.Session) State {
	if sess == nil {
		return State{}
	}
	return State{Authenticated: true, Role: sess.Role()}
}

// String は状態を表示用の文字列で返す。
func (s State) String() string {
	if !s.Authenticated {
		return "unauthenticated"
	}
	return "authenticated(" + string(s.Role) + ")"
}

// Access はルートの表示条件。
type Access int

const (
	// Public は誰でも表示できる。
	Public Access = iota
	// SessionRequired はログインしていれば表示できる。
	SessionRequired
	// SupplierOnly はサプライヤーのみ表示できる。
	SupplierOnly
	// BuyerOnly はバイヤーのみ表示できる。
	BuyerOnly
)

// RequiredRole はアクセス条件に対応するロールを返す。ロール不問の場合は空文字。
func (a Access) RequiredRole() model.Role {
	switch a {
	case SupplierOnly:
		return model.RoleSupplier
	case BuyerOnly:
		return model.RoleBuyer
	default:
		return ""
	}
}

// Route はクライアントのルート定義。
type Route struct {
	Pattern string
	Access  Access
}

// Routes はクライアントが表示できるルートの一覧。
var Routes = []Route{
	{"/home", Public},
	{"/browse", Public},
	{"/browse/{productId}", Public},
	{"/suppliers", Public},
	{"/about", Public},
	{"/contact", Public},
	{"/messages", SessionRequired},
	{"/dashboard", SupplierOnly},
	{"/dashboard/profile", SupplierOnly},
	{"/dashboard/products", SupplierOnly},
	{"/dashboard/orders", SupplierOnly},
	{"/dashboard/analytics", SupplierOnly},
	{"/buyer-dashboard", BuyerOnly},
	{"/buyer-dashboard/orders", BuyerOnly},
	{"/buyer-dashboard/quotes", BuyerOnly},
	{"/buyer-dashboard/saved-products", BuyerOnly},
}

// Resolution はパスの解決結果。
type Resolution struct {
	Path     string
	Route    *Route
	Decision Decision
}

// Navigate はパスをルート定義に照らして解決し、遷移の可否を判定する。
// ルートパスと未知のパスはDefaultLandingへ転送する。
func Navigate(sess *model.Session, rawPath string) Resolution {
	p := cleanPath(rawPath)
	route := Match(p)
	if route == nil {
		return Resolution{Path: p, Decision: Decision{RedirectTo: DefaultLanding}}
	}
	if route.Access == Public {
		return Resolution{Path: p, Route: route, Decision: Decision{Allowed: true}}
	}
	return Resolution{Path: p, Route: route, Decision: Evaluate(sess, route.Access.RequiredRole())}
}

// Match はパスに一致するルート定義を返す。一致しない場合はnilを返す。
func Match(p string) *Route {
	segs := splitPath(p)
	for i := range Routes {
		if matchSegments(splitPath(Routes[i].Pattern), segs) {
			return &Routes[i]
		}
	}
	return nil
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, ps := range pattern {
		if strings.HasPrefix(ps, "{") && strings.HasSuffix(ps, "}") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if ps != segs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// SanitizeReturnTo はログイン後の戻り先を同一オリジンの相対パスに制限する。
// 外部URLやスキーム付きの値、プロトコル相対URLは空文字を返す。
func SanitizeReturnTo(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}

	p := cleanPath(u.Path)
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// LoginDestination はログイン成功後の遷移先を返す。
func LoginDestination(returnTo string) string {
	if p := SanitizeReturnTo(returnTo); p != "" {
		return p
	}
	return "/browse"
}

// SignupDestination はサインアップ成功後の遷移先を返す。
// 戻り先の指定がない場合、サプライヤーはダッシュボード、バイヤーは商品一覧へ遷移する。
func SignupDestination(role model.Role, returnTo string) string {
	if p := SanitizeReturnTo(returnTo); p != "" {
		return p
	}
	if role == model.RoleSupplier {
		return "/dashboard"
	}
	return "/browse"
}
