package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	joinTimeout              = 10 * time.Second
	writeTimeout             = 10 * time.Second
)

// ErrRealtimeClosed はリアルタイム接続が切断されたことを示す。
var ErrRealtimeClosed = errors.New("realtime connection closed")

// ChangeFilter はデータ変更購読の条件。
type ChangeFilter struct {
	Event  string // INSERT, UPDATE, DELETE, *
	Schema string
	Table  string
	Filter string // 例: "receiver_id=eq.<uuid>"
}

// Change は購読条件に一致したデータ変更を表す。
type Change struct {
	Type   string
	Schema string
	Table  string
	Record json.RawMessage
}

// ChangeHandler はデータ変更を受け取る関数。
// 受信ループから同期的に呼ばれるため、ブロックしてはならない。
type ChangeHandler func(Change)

// phxMessage はPhoenixチャネルプロトコルのメッセージ。
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

// Realtime はリアルタイムサーバーへのWebSocket接続を管理する。
// 1本の接続上で複数の購読（チャネル）を多重化し、最後の購読が閉じられると切断する。
type Realtime struct {
	url               string
	dialer            *websocket.Dialer
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	stop    chan struct{}
	subs    map[string]*Subscription
	pending map[string]chan phxReply
	ref     int

	writeMu sync.Mutex
}

type phxReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Realtime はクライアントに紐づくRealtimeを返す。初回呼び出し時に生成する。
func (c *Client) Realtime() *Realtime {
	c.realtimeOnce.Do(func() {
		c.realtime = NewRealtime(c.baseURL, c.anonKey, c.logger)
	})
	return c.realtime
}

// NewRealtime はRealtimeを生成する。接続は最初の購読時に確立する。
func NewRealtime(baseURL, apiKey string, logger *slog.Logger) *Realtime {
	wsURL := baseURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	if logger == nil {
		logger = slog.Default()
	}
	return &Realtime{
		url:               wsURL,
		dialer:            &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		heartbeatInterval: defaultHeartbeatInterval,
		logger:            logger,
		subs:              make(map[string]*Subscription),
		pending:           make(map[string]chan phxReply),
	}
}

// Subscription はキャンセル可能な購読ハンドル。
// Closeは冪等で、呼び出し後にハンドラーが呼ばれることはない。
type Subscription struct {
	rt      *Realtime
	topic   string
	joinRef string
	handler ChangeHandler

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Topic は購読のチャネル名を返す。
func (s *Subscription) Topic() string { return s.topic }

// Done は購読が終了（Closeまたは接続断）したときに閉じられるチャネルを返す。
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close は購読を解除する。最後の購読の場合は接続も閉じる。
func (s *Subscription) Close() error {
	if !s.markClosed() {
		return nil
	}
	return s.rt.leave(s)
}

// UpdateAccessToken は参加中のチャネルに新しいアクセストークンを送る。
// 送らないと参加時のトークンの期限切れでサーバーがチャネルを閉じる。
func (s *Subscription) UpdateAccessToken(token string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrRealtimeClosed
	}
	return s.rt.pushToken(s, token)
}

// markClosed は購読を終了状態にする。既に終了済みの場合はfalseを返す。
func (s *Subscription) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

// deliver はロックを保持したままハンドラーを呼ぶ。
// これによりCloseが戻った後にハンドラーが呼ばれないことを保証する。
// ハンドラー内からCloseを呼んではならない。
func (s *Subscription) deliver(ch Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.handler(ch)
	}
}

// Subscribe はデータ変更の購読を開始する。
// accessTokenは行レベルセキュリティの評価に使われる。
// サーバーから参加の応答があるまでブロックする。
func (r *Realtime) Subscribe(ctx context.Context, filter ChangeFilter, accessToken string, handler ChangeHandler) (*Subscription, error) {
	if filter.Schema == "" {
		filter.Schema = "public"
	}
	if filter.Event == "" {
		filter.Event = "*"
	}

	if err := r.connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.ref++
	ref := strconv.Itoa(r.ref)
	sub := &Subscription{
		rt:      r,
		topic:   "realtime:" + filter.Table + "-" + uuid.NewString(),
		joinRef: ref,
		handler: handler,
		done:    make(chan struct{}),
	}
	r.subs[sub.topic] = sub
	replyCh := make(chan phxReply, 1)
	r.pending[ref] = replyCh
	r.mu.Unlock()

	change := map[string]string{
		"event":  filter.Event,
		"schema": filter.Schema,
		"table":  filter.Table,
	}
	if filter.Filter != "" {
		change["filter"] = filter.Filter
	}
	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []map[string]string{change},
		},
		"access_token": accessToken,
	}

	if err := r.send(sub.topic, "phx_join", payload, ref, ref); err != nil {
		r.forget(sub, ref)
		return nil, fmt.Errorf("send join: %w", err)
	}

	timer := time.NewTimer(joinTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-replyCh:
		if !ok {
			r.forget(sub, ref)
			return nil, ErrRealtimeClosed
		}
		if reply.Status != "ok" {
			r.forget(sub, ref)
			return nil, fmt.Errorf("join %s rejected: %s %s", filter.Table, reply.Status, string(reply.Response))
		}
	case <-ctx.Done():
		r.forget(sub, ref)
		return nil, ctx.Err()
	case <-timer.C:
		r.forget(sub, ref)
		return nil, fmt.Errorf("join %s: timed out", filter.Table)
	}

	r.logger.Debug("realtime subscription joined", slog.String("topic", sub.topic))
	return sub, nil
}

// connect は未接続の場合にWebSocket接続を確立し、受信ループとハートビートを開始する。
func (r *Realtime) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	conn, _, err := r.dialer.DialContext(ctx, r.url, http.Header{})
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}

	r.conn = conn
	r.stop = make(chan struct{})
	go r.readLoop(conn)
	go r.heartbeat(conn, r.stop)
	return nil
}

// leave はチャネルから離脱し、購読がなくなれば接続を閉じる。
func (r *Realtime) leave(sub *Subscription) error {
	r.mu.Lock()
	if _, ok := r.subs[sub.topic]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.subs, sub.topic)
	r.ref++
	ref := strconv.Itoa(r.ref)
	last := len(r.subs) == 0
	r.mu.Unlock()

	err := r.send(sub.topic, "phx_leave", map[string]any{}, ref, sub.joinRef)

	if last {
		r.disconnect()
	}
	return err
}

func (r *Realtime) pushToken(sub *Subscription, token string) error {
	r.mu.Lock()
	if _, ok := r.subs[sub.topic]; !ok {
		r.mu.Unlock()
		return ErrRealtimeClosed
	}
	r.ref++
	ref := strconv.Itoa(r.ref)
	r.mu.Unlock()

	return r.send(sub.topic, "access_token", map[string]string{"access_token": token}, ref, sub.joinRef)
}

// forget は参加に失敗した購読を登録から除去する。
func (r *Realtime) forget(sub *Subscription, ref string) {
	sub.markClosed()
	r.mu.Lock()
	delete(r.subs, sub.topic)
	delete(r.pending, ref)
	last := len(r.subs) == 0
	r.mu.Unlock()
	if last {
		r.disconnect()
	}
}

// disconnect は接続を正常終了する。
func (r *Realtime) disconnect() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	r.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()

	r.teardown(conn)
}

// teardown は接続を破棄し、残っている購読をすべて終了させる。
// 同じ接続に対して複数回呼ばれても安全。
func (r *Realtime) teardown(conn *websocket.Conn) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	close(r.stop)
	subs := r.subs
	r.subs = make(map[string]*Subscription)
	pending := r.pending
	r.pending = make(map[string]chan phxReply)
	r.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	for _, sub := range subs {
		sub.markClosed()
	}
}

// send はメッセージを書き込む。gorilla/websocketは同時書き込み不可のため直列化する。
func (r *Realtime) send(topic, event string, payload any, ref, joinRef string) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrRealtimeClosed
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := phxMessage{Topic: topic, Event: event, Payload: b, Ref: &ref}
	if joinRef != "" {
		msg.JoinRef = &joinRef
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

func (r *Realtime) readLoop(conn *websocket.Conn) {
	defer r.teardown(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.logger.Debug("realtime read loop ended", slog.String("error", err.Error()))
			}
			return
		}

		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		r.dispatch(msg)
	}
}

func (r *Realtime) dispatch(msg phxMessage) {
	switch msg.Event {
	case "phx_reply":
		if msg.Ref == nil {
			return
		}
		r.mu.Lock()
		ch, ok := r.pending[*msg.Ref]
		delete(r.pending, *msg.Ref)
		r.mu.Unlock()
		if ok {
			var reply phxReply
			_ = json.Unmarshal(msg.Payload, &reply)
			ch <- reply
		}

	case "phx_error", "phx_close":
		r.mu.Lock()
		sub, ok := r.subs[msg.Topic]
		delete(r.subs, msg.Topic)
		r.mu.Unlock()
		if ok {
			sub.markClosed()
		}

	default:
		change, ok := decodeChange(msg)
		if !ok {
			return
		}
		r.mu.Lock()
		sub := r.subs[msg.Topic]
		r.mu.Unlock()
		if sub != nil {
			sub.deliver(change)
		}
	}
}

// decodeChange はpostgres_changesイベント（および旧形式のINSERT等）を解析する。
func decodeChange(msg phxMessage) (Change, bool) {
	switch msg.Event {
	case "postgres_changes":
		var p struct {
			Data struct {
				Type   string          `json:"type"`
				Schema string          `json:"schema"`
				Table  string          `json:"table"`
				Record json.RawMessage `json:"record"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Change{}, false
		}
		return Change{Type: p.Data.Type, Schema: p.Data.Schema, Table: p.Data.Table, Record: p.Data.Record}, true

	case "INSERT", "UPDATE", "DELETE":
		var p struct {
			Type   string          `json:"type"`
			Schema string          `json:"schema"`
			Table  string          `json:"table"`
			Record json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return Change{}, false
		}
		if p.Type == "" {
			p.Type = msg.Event
		}
		return Change{Type: p.Type, Schema: p.Schema, Table: p.Table, Record: p.Record}, true
	}
	return Change{}, false
}

func (r *Realtime) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			r.ref++
			ref := strconv.Itoa(r.ref)
			r.mu.Unlock()
			if err := r.send("phoenix", "heartbeat", map[string]any{}, ref, ""); err != nil {
				r.logger.Warn("realtime heartbeat failed", slog.String("error", err.Error()))
				r.teardown(conn)
				return
			}
		}
	}
}

// ActiveSubscriptions は現在有効な購読数を返す。
func (r *Realtime) ActiveSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
