package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
	"github.com/hitoshi/packmart/internal/session"
)

// --- テスト用のセッションStore ---

type stubAuth struct{}

func (stubAuth) SignUp(context.Context, string, string) (*platform.AuthUser, *platform.AuthSession, error) {
	return nil, nil, errors.New("not implemented")
}

func (stubAuth) SignInWithPassword(context.Context, string, string) (*platform.AuthSession, error) {
	return nil, errors.New("not implemented")
}

func (stubAuth) RefreshSession(context.Context, string) (*platform.AuthSession, error) {
	return nil, errors.New("not implemented")
}

func (stubAuth) SignOut(context.Context, string) error { return nil }

type stubProfiles struct {
	profile *model.Profile
}

func (s stubProfiles) FindByID(context.Context, string) (*model.Profile, error) {
	if s.profile == nil {
		return nil, nil
	}
	p := *s.profile
	return &p, nil
}

func (stubProfiles) Create(context.Context, *model.Profile) error { return nil }

func (stubProfiles) UpdateCompanyName(context.Context, string, string) (*model.Profile, error) {
	return nil, errors.New("not implemented")
}

const testClientID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// newTestStore は未ログインのStoreを生成する。
func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	return session.NewStore(testClientID, session.Deps{
		Auth:     stubAuth{},
		Profiles: stubProfiles{},
		Vault:    session.NewMemoryVault(),
	})
}

// newSignedInStore は指定ロールでログイン済みのStoreを生成する。
func newSignedInStore(t *testing.T, userID string, role model.Role) *session.Store {
	t.Helper()
	store := session.NewStore(testClientID, session.Deps{
		Auth:     stubAuth{},
		Profiles: stubProfiles{profile: &model.Profile{ID: userID, Email: userID + "@example.com", Role: role}},
		Vault:    session.NewMemoryVault(),
	})
	_, err := store.HandleAuthEvent(context.Background(), session.EventSignedIn, &platform.AuthSession{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         platform.AuthUser{ID: userID, Email: userID + "@example.com"},
	})
	if err != nil {
		t.Fatalf("failed to sign in test store: %v", err)
	}
	return store
}

// withStore はリクエストにStoreを注入する。
func withStore(ctx context.Context, store *session.Store) context.Context {
	return store.Context(ContextWithStore(ctx, store.ClientID(), store))
}

// fakeProvider はテスト用のStoreProvider。storesにあるIDを発行済みとみなす。
type fakeProvider struct {
	stores map[string]*session.Store
	gets   []string
}

func (p *fakeProvider) Known(_ context.Context, clientID string) bool {
	_, ok := p.stores[clientID]
	return ok
}

func (p *fakeProvider) Rotate(_ context.Context, clientID string) (string, error) {
	id, err := session.NewClientID()
	if err != nil {
		return "", err
	}
	if s, ok := p.stores[clientID]; ok {
		delete(p.stores, clientID)
		p.stores[id] = s
	}
	return id, nil
}

func (p *fakeProvider) Get(_ context.Context, clientID string) *session.Store {
	p.gets = append(p.gets, clientID)
	if s, ok := p.stores[clientID]; ok {
		return s
	}
	s := session.NewStore(clientID, session.Deps{Auth: stubAuth{}, Profiles: stubProfiles{}})
	if p.stores == nil {
		p.stores = make(map[string]*session.Store)
	}
	p.stores[clientID] = s
	return s
}

// clientCookie はレスポンスのクライアントCookieの値を返す。設定されていなければ空文字。
func clientCookie(w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == ClientCookieName {
			return c.Value
		}
	}
	return ""
}
