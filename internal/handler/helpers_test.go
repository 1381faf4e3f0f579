package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/packmart/internal/catalog"
	"github.com/hitoshi/packmart/internal/dashboard"
	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
	"github.com/hitoshi/packmart/internal/session"
)

// --- 認証基盤とプロフィールのモック ---

type mockAuth struct {
	signUpFn func(ctx context.Context, email, password string) (*platform.AuthUser, *platform.AuthSession, error)
	signInFn func(ctx context.Context, email, password string) (*platform.AuthSession, error)

	mu       sync.Mutex
	signOuts []string
}

func (m *mockAuth) SignUp(ctx context.Context, email, password string) (*platform.AuthUser, *platform.AuthSession, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, email, password)
	}
	return nil, nil, errors.New("not implemented")
}

func (m *mockAuth) SignInWithPassword(ctx context.Context, email, password string) (*platform.AuthSession, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuth) RefreshSession(context.Context, string) (*platform.AuthSession, error) {
	return nil, platform.ErrInvalidRefreshToken
}

func (m *mockAuth) SignOut(_ context.Context, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOuts = append(m.signOuts, accessToken)
	return nil
}

type mockProfiles struct {
	mu        sync.Mutex
	profiles  map[string]model.Profile
	createErr error
}

func newMockProfiles(profiles ...model.Profile) *mockProfiles {
	m := &mockProfiles{profiles: make(map[string]model.Profile)}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

func (m *mockProfiles) FindByID(_ context.Context, id string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockProfiles) Create(_ context.Context, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.profiles[p.ID] = *p
	return nil
}

func (m *mockProfiles) UpdateCompanyName(_ context.Context, id, companyName string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, errors.New("profile not found")
	}
	p.CompanyName = companyName
	m.profiles[id] = p
	return &p, nil
}

const testClientID = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

const (
	supplierID    = "11111111-1111-4111-8111-111111111111"
	buyerID       = "22222222-2222-4222-8222-222222222222"
	participantID = "33333333-3333-4333-8333-333333333333"
)

func tokensFor(userID string) *platform.AuthSession {
	return &platform.AuthSession{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         platform.AuthUser{ID: userID, Email: userID + "@example.com"},
	}
}

// newTestStore は指定の依存でStoreを生成する。
func newTestStore(auth *mockAuth, profiles *mockProfiles) *session.Store {
	return session.NewStore(testClientID, session.Deps{
		Auth:     auth,
		Profiles: profiles,
		Vault:    session.NewMemoryVault(),
	})
}

// newSignedInStore は指定ロールでログイン済みのStoreを生成する。
func newSignedInStore(t *testing.T, userID string, role model.Role) *session.Store {
	t.Helper()
	profiles := newMockProfiles(model.Profile{
		ID:          userID,
		Email:       userID + "@example.com",
		Role:        role,
		CompanyName: "Acme Packaging",
	})
	store := newTestStore(&mockAuth{}, profiles)
	if _, err := store.HandleAuthEvent(context.Background(), session.EventSignedIn, tokensFor(userID)); err != nil {
		t.Fatalf("failed to sign in test store: %v", err)
	}
	return store
}

// withStore はリクエストにStoreを注入する。
func withStore(r *http.Request, store *session.Store) *http.Request {
	ctx := middleware.ContextWithStore(r.Context(), store.ClientID(), store)
	return r.WithContext(store.Context(ctx))
}

// decodeBody はレスポンスボディをvにデコードする。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
}

// errorCode はエラーレスポンスのcodeを返す。
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body.Code
}

// --- サービスのモック ---

type mockCatalogService struct {
	browseFn           func(ctx context.Context, clientID string, filter catalog.Filter, page int) (*catalog.BrowseResult, error)
	productFn          func(ctx context.Context, id int64) (*model.Product, error)
	supplierProductsFn func(ctx context.Context, supplierID string) ([]model.Product, error)
	addProductFn       func(ctx context.Context, sess *model.Session, form catalog.ProductForm) (*model.Product, error)
}

func (m *mockCatalogService) Browse(ctx context.Context, clientID string, filter catalog.Filter, page int) (*catalog.BrowseResult, error) {
	if m.browseFn != nil {
		return m.browseFn(ctx, clientID, filter, page)
	}
	return &catalog.BrowseResult{Filter: filter, Page: page}, nil
}

func (m *mockCatalogService) Product(ctx context.Context, id int64) (*model.Product, error) {
	if m.productFn != nil {
		return m.productFn(ctx, id)
	}
	return nil, model.NewProductNotFoundError("")
}

func (m *mockCatalogService) SupplierProducts(ctx context.Context, supplierID string) ([]model.Product, error) {
	if m.supplierProductsFn != nil {
		return m.supplierProductsFn(ctx, supplierID)
	}
	return nil, nil
}

func (m *mockCatalogService) AddProduct(ctx context.Context, sess *model.Session, form catalog.ProductForm) (*model.Product, error) {
	if m.addProductFn != nil {
		return m.addProductFn(ctx, sess, form)
	}
	return &model.Product{ID: 1, SupplierID: sess.UserID(), Name: form.Name}, nil
}

type mockDashboardService struct {
	supplierOrdersFn func(ctx context.Context, supplierID string) ([]model.Order, error)
	analyticsFn      func(ctx context.Context, supplierID string) (*dashboard.Analytics, error)
	buyerOrdersFn    func(ctx context.Context, buyerID string) ([]model.Order, error)
	buyerQuotesFn    func(ctx context.Context, buyerID string) ([]model.Quote, error)
	savedProductsFn  func(ctx context.Context, buyerID string) ([]model.SavedProduct, error)
	saveProductFn    func(ctx context.Context, buyerID string, productID int64) error
	removeSavedFn    func(ctx context.Context, buyerID string, productID int64) error
}

func (m *mockDashboardService) SupplierOrders(ctx context.Context, supplierID string) ([]model.Order, error) {
	if m.supplierOrdersFn != nil {
		return m.supplierOrdersFn(ctx, supplierID)
	}
	return nil, nil
}

func (m *mockDashboardService) SupplierAnalytics(ctx context.Context, supplierID string) (*dashboard.Analytics, error) {
	if m.analyticsFn != nil {
		return m.analyticsFn(ctx, supplierID)
	}
	return &dashboard.Analytics{}, nil
}

func (m *mockDashboardService) BuyerOrders(ctx context.Context, buyerID string) ([]model.Order, error) {
	if m.buyerOrdersFn != nil {
		return m.buyerOrdersFn(ctx, buyerID)
	}
	return nil, nil
}

func (m *mockDashboardService) BuyerQuotes(ctx context.Context, buyerID string) ([]model.Quote, error) {
	if m.buyerQuotesFn != nil {
		return m.buyerQuotesFn(ctx, buyerID)
	}
	return nil, nil
}

func (m *mockDashboardService) SavedProducts(ctx context.Context, buyerID string) ([]model.SavedProduct, error) {
	if m.savedProductsFn != nil {
		return m.savedProductsFn(ctx, buyerID)
	}
	return nil, nil
}

func (m *mockDashboardService) SaveProduct(ctx context.Context, buyerID string, productID int64) error {
	if m.saveProductFn != nil {
		return m.saveProductFn(ctx, buyerID, productID)
	}
	return nil
}

func (m *mockDashboardService) RemoveSavedProduct(ctx context.Context, buyerID string, productID int64) error {
	if m.removeSavedFn != nil {
		return m.removeSavedFn(ctx, buyerID, productID)
	}
	return nil
}

type mockMessagingService struct {
	conversationsFn func(ctx context.Context, sess *model.Session) ([]model.Conversation, error)
	historyFn       func(ctx context.Context, sess *model.Session, participantID string) ([]model.Message, error)
	sendFn          func(ctx context.Context, clientID string, sess *model.Session, participantID, content string) (*model.Message, error)
	openFn          func(ctx context.Context, clientID string, sess *model.Session, participantID string) (ConversationStream, error)
}

func (m *mockMessagingService) Conversations(ctx context.Context, sess *model.Session) ([]model.Conversation, error) {
	if m.conversationsFn != nil {
		return m.conversationsFn(ctx, sess)
	}
	return nil, nil
}

func (m *mockMessagingService) History(ctx context.Context, sess *model.Session, participantID string) ([]model.Message, error) {
	if m.historyFn != nil {
		return m.historyFn(ctx, sess, participantID)
	}
	return nil, nil
}

func (m *mockMessagingService) Send(ctx context.Context, clientID string, sess *model.Session, participantID, content string) (*model.Message, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, clientID, sess, participantID, content)
	}
	return nil, nil
}

func (m *mockMessagingService) Open(ctx context.Context, clientID string, sess *model.Session, participantID string) (ConversationStream, error) {
	if m.openFn != nil {
		return m.openFn(ctx, clientID, sess, participantID)
	}
	return nil, errors.New("not implemented")
}

// fakeStream はテスト用のConversationStream。
type fakeStream struct {
	history []model.Message
	events  chan model.Message
	done    chan struct{}
	once    sync.Once
}

func newFakeStream(history ...model.Message) *fakeStream {
	return &fakeStream{
		history: history,
		events:  make(chan model.Message, 8),
		done:    make(chan struct{}),
	}
}

func (s *fakeStream) Events() <-chan model.Message { return s.events }
func (s *fakeStream) Done() <-chan struct{}        { return s.done }
func (s *fakeStream) Messages() []model.Message    { return s.history }

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
