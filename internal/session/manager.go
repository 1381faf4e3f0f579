package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EvictHook はクライアントのStoreが破棄される際に呼ばれる。
// クライアントが開いているビューの後始末に使う。
type EvictHook func(clientID string)

// Manager はブラウザクライアントごとのStoreを保持する。
// Storeは初回アクセス時に生成され、保存済みトークンから復元される。
type Manager struct {
	deps        Deps
	idleTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	stores map[string]*Store
	hooks  []EvictHook
}

// NewManager はManagerを生成する。
func NewManager(deps Deps, idleTimeout time.Duration) *Manager {
	if deps.Vault == nil {
		deps.Vault = NewMemoryVault()
	}
	return &Manager{
		deps:        deps,
		idleTimeout: idleTimeout,
		now:         time.Now,
		stores:      make(map[string]*Store),
	}
}

// Get はクライアントのStoreを返す。存在しない場合は生成してセッションの復元を試みる。
func (m *Manager) Get(ctx context.Context, clientID string) *Store {
	m.mu.Lock()
	store, ok := m.stores[clientID]
	if !ok {
		store = NewStore(clientID, m.deps)
		store.now = m.now
		m.stores[clientID] = store
	}
	m.mu.Unlock()

	store.Touch()
	store.Restore(ctx)
	return store
}

// Lookup は既存のStoreを返す。存在しない場合はnilを返す。
func (m *Manager) Lookup(clientID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[clientID]
}

// Known はclientIDがこのサーバーの発行したクライアントかどうかを返す。
// Storeを保持しているか、Vaultにリフレッシュトークンが残っている場合に発行済みとみなす。
func (m *Manager) Known(ctx context.Context, clientID string) bool {
	if m.Lookup(clientID) != nil {
		return true
	}
	token, err := m.deps.Vault.RefreshToken(ctx, clientID)
	if err != nil {
		slog.Warn("failed to read refresh token",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return token != ""
}

// Rotate はクライアントIDを振り直して新しいIDを返す。
// StoreとVaultのリフレッシュトークンは新しいIDへ移り、古いIDは使えなくなる。
// 古いIDに紐づくビューは破棄フックで閉じる。
func (m *Manager) Rotate(ctx context.Context, clientID string) (string, error) {
	newID, err := NewClientID()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	store, ok := m.stores[clientID]
	if ok {
		delete(m.stores, clientID)
		store.rebind(newID)
		m.stores[newID] = store
	}
	hooks := append([]EvictHook(nil), m.hooks...)
	m.mu.Unlock()

	token, err := m.deps.Vault.RefreshToken(ctx, clientID)
	if err != nil {
		slog.Warn("failed to read refresh token",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}
	if token != "" {
		if err := m.deps.Vault.SaveRefreshToken(ctx, newID, token, m.refreshTokenTTL()); err != nil {
			return "", fmt.Errorf("failed to move refresh token: %w", err)
		}
	}
	if err := m.deps.Vault.DeleteRefreshToken(ctx, clientID); err != nil {
		slog.Warn("failed to delete refresh token",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}

	for _, hook := range hooks {
		hook(clientID)
	}
	return newID, nil
}

func (m *Manager) refreshTokenTTL() time.Duration {
	if m.deps.RefreshTokenTTL > 0 {
		return m.deps.RefreshTokenTTL
	}
	return defaultRefreshTokenTTL
}

// OnEvict はStore破棄時のフックを登録する。
func (m *Manager) OnEvict(hook EvictHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Len は保持しているStoreの数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// Sweep は一定時間アクセスのないクライアントのStoreを破棄し、破棄した数を返す。
// リフレッシュトークンはVaultに残るため、同じクライアントが戻ればセッションは復元される。
func (m *Manager) Sweep() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	var evicted []string
	for id, store := range m.stores {
		if store.LastSeen().Before(cutoff) {
			delete(m.stores, id)
			evicted = append(evicted, id)
		}
	}
	hooks := append([]EvictHook(nil), m.hooks...)
	m.mu.Unlock()

	for _, id := range evicted {
		for _, hook := range hooks {
			hook(id)
		}
	}

	if len(evicted) > 0 {
		slog.Info("idle clients evicted", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// DueForRefresh はアクセストークンの期限がwindow以内に迫っているStoreを返す。
func (m *Manager) DueForRefresh(window time.Duration) []*Store {
	now := m.now()

	m.mu.Lock()
	stores := make([]*Store, 0, len(m.stores))
	for _, store := range m.stores {
		stores = append(stores, store)
	}
	m.mu.Unlock()

	due := make([]*Store, 0)
	for _, store := range stores {
		if store.NeedsRefresh(now, window) {
			due = append(due, store)
		}
	}
	return due
}

// NewClientID は暗号的に安全なクライアントIDを生成する。
func NewClientID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
