// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/session"
)

// ClientCookieName はブラウザクライアントを識別するCookieの名前。
const ClientCookieName = "packmart_client"

// clientIDLength はクライアントIDの文字数（32バイトの16進表現）。
const clientIDLength = 64

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var clientContextKey = contextKey("client")

// StoreProvider はクライアントIDに対応するセッションStoreを返す。
// session.Managerが実装する。
type StoreProvider interface {
	Get(ctx context.Context, clientID string) *session.Store
	// Known はサーバーが発行済みのクライアントIDかどうかを返す。
	Known(ctx context.Context, clientID string) bool
	// Rotate はクライアントIDを振り直し、Storeと保存済みトークンを新しいIDへ移す。
	Rotate(ctx context.Context, clientID string) (string, error)
}

// ClientConfig はクライアント識別Cookieの設定。
type ClientConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       time.Duration
}

// clientBinding はリクエストとクライアントの対応を保持する。
// 新規クライアントのStoreとCookieは、Storeが初めて必要になった時点で作る。
type clientBinding struct {
	w        http.ResponseWriter
	provider StoreProvider
	config   ClientConfig

	mu       sync.Mutex
	clientID string
	store    *session.Store
	fresh    bool
}

func (b *clientBinding) id() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clientID
}

// issued はこのリクエストで発行したばかりのIDかどうかを返す。
func (b *clientBinding) issued() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fresh
}

// peek はStoreを生成せずに返す。
func (b *clientBinding) peek() *session.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store
}

func (b *clientBinding) materialize(ctx context.Context) *session.Store {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store != nil || b.provider == nil {
		return b.store
	}
	b.store = b.provider.Get(ctx, b.clientID)
	if b.fresh && b.w != nil {
		setClientCookie(b.w, b.clientID, b.config)
	}
	return b.store
}

// NewClientMiddleware はCookieからブラウザクライアントを識別し、
// そのクライアントのセッションStoreをリクエストコンテキストに注入するミドルウェアを返す。
// サーバーが発行していないIDのCookieは採用せず、新しいクライアントIDを割り当てる。
// 新しいクライアントのStoreとCookieはStoreFromContextが呼ばれるまで作らない。
// ログイン中の場合はアクセストークンもコンテキストに格納される。
func NewClientMiddleware(provider StoreProvider, config ClientConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := &clientBinding{w: w, provider: provider, config: config}

			// 1. Cookieのうち発行済みのIDだけを採用する
			if cookie, err := r.Cookie(ClientCookieName); err == nil && validClientID(cookie.Value) && provider.Known(r.Context(), cookie.Value) {
				b.clientID = cookie.Value
				b.store = provider.Get(r.Context(), cookie.Value)
			}

			// 2. なければ発行する
			if b.clientID == "" {
				id, err := session.NewClientID()
				if err != nil {
					slog.Error("failed to generate client ID", slog.String("error", err.Error()))
					WriteInternalServerError(w)
					return
				}
				b.clientID = id
				b.fresh = true
			}

			// 3. コンテキストに注入
			noteClient(r.Context(), b)
			ctx := context.WithValue(r.Context(), clientContextKey, b)
			if b.store != nil {
				ctx = b.store.Context(ctx)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RenewClient はクライアントIDを振り直し、新しいIDのCookieを設定する。
// 認証状態が変わるたびに呼び、認証前に知られたIDを使い続けさせない。
// Storeがまだないクライアントでは何もしない。
func RenewClient(w http.ResponseWriter, r *http.Request) error {
	b := bindingFromContext(r.Context())
	if b == nil || b.provider == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.store == nil {
		return nil
	}
	id, err := b.provider.Rotate(r.Context(), b.clientID)
	if err != nil {
		return err
	}
	b.clientID = id
	b.fresh = false
	setClientCookie(w, id, b.config)
	return nil
}

// ContextWithStore はコンテキストにクライアントIDとStoreを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithStore(ctx context.Context, clientID string, store *session.Store) context.Context {
	return context.WithValue(ctx, clientContextKey, &clientBinding{clientID: clientID, store: store})
}

func bindingFromContext(ctx context.Context) *clientBinding {
	b, _ := ctx.Value(clientContextKey).(*clientBinding)
	return b
}

// ClientIDFromContext はリクエストコンテキストからクライアントIDを取得する。
func ClientIDFromContext(ctx context.Context) string {
	if b := bindingFromContext(ctx); b != nil {
		return b.id()
	}
	return ""
}

// EnsureClient はクライアントのStoreとCookieを確定させ、クライアントIDを返す。
// クライアント単位の状態を持つ処理の前に呼ぶ。
func EnsureClient(ctx context.Context) string {
	b := bindingFromContext(ctx)
	if b == nil {
		return ""
	}
	b.materialize(ctx)
	return b.id()
}

// StoreFromContext はリクエストコンテキストからセッションStoreを取得する。
// 新しいクライアントの場合はここでStoreを生成し、Cookieを発行する。
// クライアントミドルウェアを通過したリクエストでのみ有効。
func StoreFromContext(ctx context.Context) *session.Store {
	if b := bindingFromContext(ctx); b != nil {
		return b.materialize(ctx)
	}
	return nil
}

// SessionFromContext は現在のセッションを返す。未ログインの場合はnilを返す。
// Storeを生成しない。
func SessionFromContext(ctx context.Context) *model.Session {
	b := bindingFromContext(ctx)
	if b == nil {
		return nil
	}
	store := b.peek()
	if store == nil {
		return nil
	}
	return store.Current()
}

// validClientID はクライアントIDの形式を検証する。
func validClientID(id string) bool {
	if len(id) != clientIDLength {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// setClientCookie はクライアント識別Cookieを設定する。
func setClientCookie(w http.ResponseWriter, clientID string, config ClientConfig) {
	maxAge := config.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    clientID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
