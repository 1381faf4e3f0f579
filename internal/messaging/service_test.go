package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
	"github.com/hitoshi/packmart/internal/security"
)

const (
	me    = "11111111-1111-1111-1111-111111111111"
	alice = "22222222-2222-2222-2222-222222222222"
	bob   = "33333333-3333-3333-3333-333333333333"
)

// --- モック ---

type mockMessageRepo struct {
	mu          sync.Mutex
	history     []model.Message
	historyErr  error
	createErr   error
	createCalls int
	nextID      int64
	convs       []model.Conversation
}

func (m *mockMessageRepo) ListConversations(_ context.Context, _ string) ([]model.Conversation, error) {
	return m.convs, nil
}

func (m *mockMessageRepo) ListBetween(_ context.Context, _, _ string) ([]model.Message, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	out := make([]model.Message, len(m.history))
	copy(out, m.history)
	return out, nil
}

func (m *mockMessageRepo) Create(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	msg.ID = 1000 + m.nextID
	msg.CreatedAt = time.Now()
	return nil
}

type mockSubscription struct {
	once   sync.Once
	done   chan struct{}
	closes int

	mu     sync.Mutex
	tokens []string
}

func newMockSubscription() *mockSubscription {
	return &mockSubscription{done: make(chan struct{})}
}

func (s *mockSubscription) Close() error {
	s.closes++
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *mockSubscription) Done() <-chan struct{} { return s.done }

func (s *mockSubscription) UpdateAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	return nil
}

type mockRealtime struct {
	filter  platform.ChangeFilter
	token   string
	handler platform.ChangeHandler
	sub     *mockSubscription
	err     error
}

func (m *mockRealtime) Subscribe(_ context.Context, filter platform.ChangeFilter, token string, handler platform.ChangeHandler) (Subscription, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.filter = filter
	m.token = token
	m.handler = handler
	m.sub = newMockSubscription()
	return m.sub, nil
}

func (m *mockRealtime) push(t *testing.T, id int64, sender, receiver, content string) {
	t.Helper()
	rec, err := json.Marshal(map[string]any{
		"id": id, "sender_id": sender, "receiver_id": receiver, "content": content,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatal(err)
	}
	m.handler(platform.Change{Type: "INSERT", Schema: "public", Table: "messages", Record: rec})
}

func session() *model.Session {
	return &model.Session{
		Identity: model.Identity{ID: me, Email: "me@example.com"},
		Profile:  model.Profile{ID: me, Role: model.RoleBuyer},
	}
}

func newTestService(repo *mockMessageRepo, rt *mockRealtime) *Service {
	return NewService(repo, rt, security.NewTextSanitizer())
}

func receive(t *testing.T, v *ConversationView) model.Message {
	t.Helper()
	select {
	case m := <-v.Events():
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.Message{}
	}
}

func assertNoEvent(t *testing.T, v *ConversationView) {
	t.Helper()
	select {
	case m := <-v.Events():
		t.Fatalf("unexpected event: %+v", m)
	default:
	}
}

// --- Send ---

func TestSend_WhitespaceIsNoOp(t *testing.T) {
	repo := &mockMessageRepo{}
	s := newTestService(repo, &mockRealtime{})

	for _, content := range []string{"", "   ", "\n\t"} {
		msg, err := s.Send(context.Background(), "c1", session(), alice, content)
		if err != nil || msg != nil {
			t.Errorf("Send(%q) = %v, %v; want nil, nil", content, msg, err)
		}
	}
	if repo.createCalls != 0 {
		t.Errorf("create calls = %d, want 0", repo.createCalls)
	}
}

func TestSend_SanitizesContent(t *testing.T) {
	repo := &mockMessageRepo{}
	s := newTestService(repo, &mockRealtime{})

	msg, err := s.Send(context.Background(), "c1", session(), alice, "<b>Need 500 units</b>")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "Need 500 units" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.SenderID != me || msg.ReceiverID != alice {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestSend_InvalidParticipant(t *testing.T) {
	repo := &mockMessageRepo{}
	s := newTestService(repo, &mockRealtime{})

	_, err := s.Send(context.Background(), "c1", session(), "not-a-uuid", "hi")
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if repo.createCalls != 0 {
		t.Error("no remote call expected")
	}
}

func TestSend_RemoteFailure(t *testing.T) {
	repo := &mockMessageRepo{createErr: errors.New("rls violation")}
	s := newTestService(repo, &mockRealtime{})

	_, err := s.Send(context.Background(), "c1", session(), alice, "hello")
	var rqe *model.RemoteQueryError
	if !errors.As(err, &rqe) || rqe.Op != "messages.insert" {
		t.Fatalf("expected RemoteQueryError, got %v", err)
	}
}

func TestSend_NoSession(t *testing.T) {
	s := newTestService(&mockMessageRepo{}, &mockRealtime{})
	_, err := s.Send(context.Background(), "c1", nil, alice, "hello")
	var authErr *model.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

// --- Open / ConversationView ---

func TestOpen_SubscribesToOwnInbox(t *testing.T) {
	rt := &mockRealtime{}
	repo := &mockMessageRepo{history: []model.Message{{ID: 1, SenderID: alice, ReceiverID: me, Content: "hi"}}}
	s := newTestService(repo, rt)

	ctx := platform.ContextWithAccessToken(context.Background(), "token-1")
	v, err := s.Open(ctx, "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	if rt.filter.Table != "messages" || rt.filter.Event != "INSERT" || rt.filter.Filter != "receiver_id=eq."+me {
		t.Errorf("filter = %+v", rt.filter)
	}
	if rt.token != "token-1" {
		t.Errorf("token = %q", rt.token)
	}
	if got := v.Messages(); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("history = %+v", got)
	}
}

func TestConversationView_DeliversOnlyOpenParticipant(t *testing.T) {
	rt := &mockRealtime{}
	s := newTestService(&mockMessageRepo{}, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	rt.push(t, 10, bob, me, "from bob")
	assertNoEvent(t, v)

	rt.push(t, 11, alice, me, "from alice")
	if m := receive(t, v); m.ID != 11 || m.Content != "from alice" {
		t.Errorf("event = %+v", m)
	}

	if got := v.Messages(); len(got) != 1 {
		t.Errorf("messages = %+v, want only alice's", got)
	}
}

func TestConversationView_DuplicateIgnored(t *testing.T) {
	rt := &mockRealtime{}
	repo := &mockMessageRepo{history: []model.Message{{ID: 5, SenderID: alice, ReceiverID: me}}}
	s := newTestService(repo, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	rt.push(t, 5, alice, me, "again")
	assertNoEvent(t, v)
	if len(v.Messages()) != 1 {
		t.Errorf("messages = %d, want 1", len(v.Messages()))
	}
}

func TestSend_AppendsToOpenViewAfterAck(t *testing.T) {
	rt := &mockRealtime{}
	repo := &mockMessageRepo{}
	s := newTestService(repo, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	other, err := s.Open(context.Background(), "c2", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	msg, err := s.Send(context.Background(), "c1", session(), alice, "quote please")
	if err != nil {
		t.Fatal(err)
	}
	if m := receive(t, v); m.ID != msg.ID {
		t.Errorf("event = %+v, want %d", m, msg.ID)
	}
	assertNoEvent(t, other)
}

func TestSend_FailureDoesNotAppend(t *testing.T) {
	rt := &mockRealtime{}
	repo := &mockMessageRepo{createErr: errors.New("down")}
	s := newTestService(repo, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	s.Send(context.Background(), "c1", session(), alice, "hello")
	assertNoEvent(t, v)
	if len(v.Messages()) != 0 {
		t.Error("failed send must not be appended")
	}
}

func TestConversationView_CloseIsIdempotent(t *testing.T) {
	rt := &mockRealtime{}
	s := newTestService(&mockMessageRepo{}, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}

	if rt.sub.closes != 1 {
		t.Errorf("subscription closes = %d, want 1", rt.sub.closes)
	}
	if _, ok := <-v.Events(); ok {
		t.Error("events channel should be closed")
	}
	if s.Views().Len() != 0 {
		t.Errorf("views = %d, want 0", s.Views().Len())
	}

	// 閉じた後の受信は無視される
	rt.push(t, 20, alice, me, "late")
	if len(v.Messages()) != 0 {
		t.Error("messages must not change after Close")
	}
}

func TestConversationView_ClosesWhenSubscriptionEnds(t *testing.T) {
	rt := &mockRealtime{}
	s := newTestService(&mockMessageRepo{}, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatal(err)
	}

	rt.sub.once.Do(func() { close(rt.sub.done) })

	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatal("view should close when the subscription ends")
	}
}

func TestViews_CloseClient(t *testing.T) {
	rt := &mockRealtime{}
	s := newTestService(&mockMessageRepo{}, rt)

	a, _ := s.Open(context.Background(), "c1", session(), alice)
	b, _ := s.Open(context.Background(), "c1", session(), bob)
	keep, _ := s.Open(context.Background(), "c2", session(), alice)
	defer keep.Close()

	s.Views().CloseClient("c1")

	for _, v := range []*ConversationView{a, b} {
		select {
		case <-v.Done():
		default:
			t.Error("view of c1 should be closed")
		}
	}
	if s.Views().Len() != 1 {
		t.Errorf("views = %d, want 1", s.Views().Len())
	}
}

func TestViews_CloseAll(t *testing.T) {
	s := newTestService(&mockMessageRepo{}, &mockRealtime{})

	a, _ := s.Open(context.Background(), "c1", session(), alice)
	b, _ := s.Open(context.Background(), "c2", session(), bob)

	s.Views().CloseAll()

	for _, v := range []*ConversationView{a, b} {
		select {
		case <-v.Done():
		default:
			t.Error("all views should be closed")
		}
	}
	if s.Views().Len() != 0 {
		t.Errorf("views = %d, want 0", s.Views().Len())
	}
}

func TestOpen_HistoryFailureClosesSubscription(t *testing.T) {
	rt := &mockRealtime{}
	repo := &mockMessageRepo{historyErr: errors.New("timeout")}
	s := newTestService(repo, rt)

	_, err := s.Open(context.Background(), "c1", session(), alice)
	var rqe *model.RemoteQueryError
	if !errors.As(err, &rqe) {
		t.Fatalf("expected RemoteQueryError, got %v", err)
	}
	if rt.sub.closes != 1 {
		t.Error("subscription should be closed on failure")
	}
	if s.Views().Len() != 0 {
		t.Error("failed view must not be registered")
	}
}

func TestOpen_SubscribeFailure(t *testing.T) {
	s := newTestService(&mockMessageRepo{}, &mockRealtime{err: errors.New("refused")})
	_, err := s.Open(context.Background(), "c1", session(), alice)
	var rqe *model.RemoteQueryError
	if !errors.As(err, &rqe) || rqe.Op != "messages.subscribe" {
		t.Fatalf("expected subscribe RemoteQueryError, got %v", err)
	}
}

func TestViews_UpdateToken(t *testing.T) {
	rt := &mockRealtime{}
	s := newTestService(&mockMessageRepo{}, rt)

	v, err := s.Open(context.Background(), "c1", session(), alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer v.Close()
	sub := rt.sub

	if n := s.Views().UpdateToken("c1", "fresh-token"); n != 1 {
		t.Errorf("updated = %d, want 1", n)
	}
	if n := s.Views().UpdateToken("other", "fresh-token"); n != 0 {
		t.Errorf("updated for unknown client = %d, want 0", n)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.tokens) != 1 || sub.tokens[0] != "fresh-token" {
		t.Errorf("tokens = %v, want [fresh-token]", sub.tokens)
	}
}
