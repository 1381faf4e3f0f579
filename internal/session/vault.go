package session

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/packmart/internal/model"
)

// ProfileDraft はプロフィール登録に失敗したサインアップの入力内容。
// 次回ログイン時にこの内容でプロフィールを補完する。
type ProfileDraft struct {
	Email       string     `json:"email"`
	Role        model.Role `json:"role"`
	CompanyName string     `json:"company_name"`
}

// Vault はリフレッシュトークンとプロフィール下書きの保管先。
// クライアント単位のリフレッシュトークンはアプリ起動時のセッション復元に使う。
type Vault interface {
	// SaveRefreshToken はクライアントのリフレッシュトークンを保存する。
	SaveRefreshToken(ctx context.Context, clientID, token string, ttl time.Duration) error
	// RefreshToken はクライアントのリフレッシュトークンを返す。存在しない場合は空文字を返す。
	RefreshToken(ctx context.Context, clientID string) (string, error)
	// DeleteRefreshToken はクライアントのリフレッシュトークンを削除する。
	DeleteRefreshToken(ctx context.Context, clientID string) error

	// SaveDraft はIdentityに対するプロフィール下書きを保存する。
	SaveDraft(ctx context.Context, identityID string, draft ProfileDraft, ttl time.Duration) error
	// TakeDraft はプロフィール下書きを取り出して削除する。存在しない場合はnilを返す。
	TakeDraft(ctx context.Context, identityID string) (*ProfileDraft, error)
}

type vaultEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e vaultEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryVault はプロセス内メモリのVault実装。
// プロセス再起動でトークンは失われ、ユーザーは再ログインが必要になる。
type MemoryVault struct {
	mu     sync.Mutex
	tokens map[string]vaultEntry[string]
	drafts map[string]vaultEntry[ProfileDraft]
	now    func() time.Time
}

// NewMemoryVault はMemoryVaultを生成する。
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{
		tokens: make(map[string]vaultEntry[string]),
		drafts: make(map[string]vaultEntry[ProfileDraft]),
		now:    time.Now,
	}
}

func (v *MemoryVault) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return v.now().Add(ttl)
}

// SaveRefreshToken はクライアントのリフレッシュトークンを保存する。
func (v *MemoryVault) SaveRefreshToken(_ context.Context, clientID, token string, ttl time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[clientID] = vaultEntry[string]{value: token, expiresAt: v.expiry(ttl)}
	return nil
}

// RefreshToken はクライアントのリフレッシュトークンを返す。
func (v *MemoryVault) RefreshToken(_ context.Context, clientID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.tokens[clientID]
	if !ok {
		return "", nil
	}
	if e.expired(v.now()) {
		delete(v.tokens, clientID)
		return "", nil
	}
	return e.value, nil
}

// DeleteRefreshToken はクライアントのリフレッシュトークンを削除する。
func (v *MemoryVault) DeleteRefreshToken(_ context.Context, clientID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, clientID)
	return nil
}

// SaveDraft はプロフィール下書きを保存する。
func (v *MemoryVault) SaveDraft(_ context.Context, identityID string, draft ProfileDraft, ttl time.Duration) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drafts[identityID] = vaultEntry[ProfileDraft]{value: draft, expiresAt: v.expiry(ttl)}
	return nil
}

// TakeDraft はプロフィール下書きを取り出して削除する。
func (v *MemoryVault) TakeDraft(_ context.Context, identityID string) (*ProfileDraft, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.drafts[identityID]
	if !ok {
		return nil, nil
	}
	delete(v.drafts, identityID)
	if e.expired(v.now()) {
		return nil, nil
	}
	d := e.value
	return &d, nil
}

// Purge は期限切れのトークンと下書きを削除し、削除した件数を返す。
// 読み出されないまま期限切れになったエントリの掃除に使う。
func (v *MemoryVault) Purge() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	n := 0
	for k, e := range v.tokens {
		if e.expired(now) {
			delete(v.tokens, k)
			n++
		}
	}
	for k, e := range v.drafts {
		if e.expired(now) {
			delete(v.drafts, k)
			n++
		}
	}
	return n
}
