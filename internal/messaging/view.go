package messaging

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
)

// eventBuffer は受信イベントのバッファ数。満杯の場合は新しいイベントを破棄する。
const eventBuffer = 64

// messageRecord はリアルタイムで受信するmessagesテーブルの行。
type messageRecord struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversationView は開いている1件の会話。
// 相手から自分宛てのメッセージのみを受け取り、それ以外の受信は破棄する。
type ConversationView struct {
	clientID    string
	me          string
	participant string

	mu       sync.Mutex
	messages []model.Message
	seen     map[int64]struct{}
	closed   bool
	events   chan model.Message

	sub       Subscription
	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*ConversationView)
}

func newConversationView(clientID, me, participant string) *ConversationView {
	return &ConversationView{
		clientID:    clientID,
		me:          me,
		participant: participant,
		seen:        make(map[int64]struct{}),
		events:      make(chan model.Message, eventBuffer),
		done:        make(chan struct{}),
	}
}

// ClientID はビューを開いたクライアントのIDを返す。
func (v *ConversationView) ClientID() string { return v.clientID }

// Participant は会話の相手のIDを返す。
func (v *ConversationView) Participant() string { return v.participant }

// Events は会話に追加されたメッセージを受け取るチャネルを返す。
// ビューが閉じられるとチャネルも閉じられる。
func (v *ConversationView) Events() <-chan model.Message { return v.events }

// Done はビューが閉じられたときに閉じられるチャネルを返す。
func (v *ConversationView) Done() <-chan struct{} { return v.done }

// Messages は会話のメッセージを作成日時の昇順で返す。
func (v *ConversationView) Messages() []model.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]model.Message, len(v.messages))
	copy(out, v.messages)
	return out
}

// load は履歴を設定する。購読開始後に受信済みのメッセージとは重複しないようにする。
func (v *ConversationView) load(history []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	received := v.messages
	v.messages = make([]model.Message, 0, len(history)+len(received))
	v.seen = make(map[int64]struct{}, len(history)+len(received))
	for _, m := range append(history, received...) {
		if _, dup := v.seen[m.ID]; dup {
			continue
		}
		v.seen[m.ID] = struct{}{}
		v.messages = append(v.messages, m)
	}
}

// append はメッセージを会話に追加し、イベントとして通知する。
// 閉じられたビューや重複したメッセージは無視する。
func (v *ConversationView) append(m model.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	if _, dup := v.seen[m.ID]; dup {
		return false
	}
	v.seen[m.ID] = struct{}{}
	v.messages = append(v.messages, m)

	select {
	case v.events <- m:
	default:
		slog.Warn("conversation event dropped: buffer full",
			slog.String("client_id", v.clientID),
			slog.Int64("message_id", m.ID),
		)
	}
	return true
}

// handleChange はリアルタイムの受信を処理する。受信ループから同期的に呼ばれる。
func (v *ConversationView) handleChange(ch platform.Change) {
	if ch.Type != "INSERT" {
		return
	}
	var rec messageRecord
	if err := json.Unmarshal(ch.Record, &rec); err != nil {
		slog.Warn("failed to decode realtime message", slog.String("error", err.Error()))
		return
	}
	// 開いている相手からのメッセージ以外は破棄する
	if rec.SenderID != v.participant || rec.ReceiverID != v.me {
		return
	}
	v.append(model.Message{
		ID:         rec.ID,
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Content:    rec.Content,
		CreatedAt:  rec.CreatedAt,
	})
}

// watch は購読が切断された場合にビューを閉じる。
func (v *ConversationView) watch() {
	select {
	case <-v.sub.Done():
		v.Close()
	case <-v.done:
	}
}

// Close は購読を解除してビューを閉じる。複数回呼んでも安全。
// 戻った後にメッセージが追加されることはない。
func (v *ConversationView) Close() error {
	var err error
	v.closeOnce.Do(func() {
		if v.sub != nil {
			err = v.sub.Close()
		}

		v.mu.Lock()
		v.closed = true
		close(v.events)
		v.mu.Unlock()

		close(v.done)
		if v.onClose != nil {
			v.onClose(v)
		}
	})
	return err
}

// Views はクライアントごとに開いている会話ビューを保持する。
type Views struct {
	mu    sync.Mutex
	views map[string]map[*ConversationView]struct{}
}

// NewViews はViewsを生成する。
func NewViews() *Views {
	return &Views{views: make(map[string]map[*ConversationView]struct{})}
}

func (r *Views) add(v *ConversationView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.views[v.clientID]
	if !ok {
		set = make(map[*ConversationView]struct{})
		r.views[v.clientID] = set
	}
	set[v] = struct{}{}
}

func (r *Views) remove(v *ConversationView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.views[v.clientID]
	delete(set, v)
	if len(set) == 0 {
		delete(r.views, v.clientID)
	}
}

// Find はクライアントが開いている、指定の相手との会話ビューを返す。
func (r *Views) Find(clientID, participant string) []*ConversationView {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ConversationView
	for v := range r.views[clientID] {
		if v.participant == participant {
			out = append(out, v)
		}
	}
	return out
}

// CloseClient はクライアントが開いている全ての会話ビューを閉じる。
// ログアウトやクライアントの破棄時に呼ばれる。
func (r *Views) CloseClient(clientID string) {
	r.mu.Lock()
	views := make([]*ConversationView, 0, len(r.views[clientID]))
	for v := range r.views[clientID] {
		views = append(views, v)
	}
	r.mu.Unlock()

	for _, v := range views {
		if err := v.Close(); err != nil {
			slog.Warn("failed to close conversation view",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// UpdateToken はクライアントが開いている会話の購読に更新後のアクセストークンを渡す。
// 更新できた購読の数を返す。
func (r *Views) UpdateToken(clientID, accessToken string) int {
	r.mu.Lock()
	views := make([]*ConversationView, 0, len(r.views[clientID]))
	for v := range r.views[clientID] {
		views = append(views, v)
	}
	r.mu.Unlock()

	updated := 0
	for _, v := range views {
		if v.sub == nil {
			continue
		}
		if err := v.sub.UpdateAccessToken(accessToken); err != nil {
			slog.Warn("failed to update realtime token",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updated++
	}
	return updated
}

// Len は開いている会話ビューの総数を返す。
func (r *Views) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.views {
		n += len(set)
	}
	return n
}

// CloseAll は全クライアントの会話ビューを閉じる。シャットダウン時に使う。
func (r *Views) CloseAll() {
	r.mu.Lock()
	clients := make([]string, 0, len(r.views))
	for id := range r.views {
		clients = append(clients, id)
	}
	r.mu.Unlock()

	for _, id := range clients {
		r.CloseClient(id)
	}
}
