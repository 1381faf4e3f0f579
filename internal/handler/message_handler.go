package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/packmart/internal/middleware"
	"github.com/hitoshi/packmart/internal/model"
)

const (
	// streamWriteWait はWebSocketへの1回の書き込みに許す時間。
	streamWriteWait = 10 * time.Second
	// streamPongWait はpongを待つ時間。これを過ぎると接続を切断する。
	streamPongWait = 60 * time.Second
	// streamPingPeriod はpingの送信間隔。streamPongWaitより短くする。
	streamPingPeriod = streamPongWait * 9 / 10
	// streamReadLimit はクライアントから受け付けるフレームの上限。
	streamReadLimit = 512
)

// ConversationStream は開いている会話ビュー。
// messaging.ConversationViewが実装する。
type ConversationStream interface {
	Events() <-chan model.Message
	Done() <-chan struct{}
	Messages() []model.Message
	Close() error
}

// MessagingService はメッセージハンドラーが必要とするサービスインターフェース。
type MessagingService interface {
	Conversations(ctx context.Context, sess *model.Session) ([]model.Conversation, error)
	History(ctx context.Context, sess *model.Session, participantID string) ([]model.Message, error)
	Send(ctx context.Context, clientID string, sess *model.Session, participantID, content string) (*model.Message, error)
	Open(ctx context.Context, clientID string, sess *model.Session, participantID string) (ConversationStream, error)
}

// MessageHandlerConfig はメッセージハンドラーの設定。
type MessageHandlerConfig struct {
	// AllowedOrigin はWebSocket接続を許可するOrigin。空の場合は同一ホストのみ許可する。
	AllowedOrigin string
}

// MessageHandler はメッセージ機能のHTTPハンドラー。
type MessageHandler struct {
	service  MessagingService
	upgrader websocket.Upgrader
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessagingService, config MessageHandlerConfig) *MessageHandler {
	return &MessageHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(config.AllowedOrigin),
		},
	}
}

// originChecker はOriginヘッダーを検証する関数を返す。
// Originがないリクエストはブラウザ以外からの接続として許可する。
func originChecker(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed != "" {
			return origin == allowed
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// List は会話一覧を最新メッセージの降順で返す。
// GET /api/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	convs, err := h.service.Conversations(r.Context(), sess)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationResponses(convs))
}

// History は相手とのメッセージ履歴を返す。
// GET /api/messages/{participantId}
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	msgs, err := h.service.History(r.Context(), sess, chi.URLParam(r, "participantId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

// Send はメッセージを送信する。
// 空白のみの本文は送信せず204を返す。
// POST /api/messages/{participantId}
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	clientID := middleware.ClientIDFromContext(r.Context())
	msg, err := h.service.Send(r.Context(), clientID, sess, chi.URLParam(r, "participantId"), req.Content)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(*msg))
}

// streamFrame はWebSocketで送信するフレーム。
type streamFrame struct {
	Type     string            `json:"type"`
	Messages []messageResponse `json:"messages,omitempty"`
	Message  *messageResponse  `json:"message,omitempty"`
}

// Stream は会話をWebSocketで配信する。
// 接続直後に履歴を1フレームで送り、以降は相手からの受信と自分の送信を1件ずつ送る。
// ソケットが閉じられる、ビューが閉じられる、ログアウトする、のいずれかで終了する。
// GET /api/messages/{participantId}/stream
func (h *MessageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	store := requireStore(w, r)
	if store == nil {
		return
	}
	sess := requireSession(w, r)
	if sess == nil {
		return
	}

	// ビューは接続が続く限り生きるため、リクエストのキャンセルとは切り離す
	ctx := store.Context(context.WithoutCancel(r.Context()))
	view, err := h.service.Open(ctx, store.ClientID(), sess, chi.URLParam(r, "participantId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	defer closeStream(view)

	userID := sess.UserID()
	unsubscribe := store.Subscribe(func(next *model.Session) {
		if next == nil || next.UserID() != userID {
			closeStream(view)
		}
	})
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeが失敗した場合はレスポンスが書き込み済み
		slog.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed)

	if err := writeFrame(conn, streamFrame{Type: "history", Messages: toMessageResponses(view.Messages())}); err != nil {
		return
	}

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-view.Events():
			if !ok {
				writeClose(conn, websocket.CloseNormalClosure, "conversation closed")
				return
			}
			resp := toMessageResponse(msg)
			if err := writeFrame(conn, streamFrame{Type: "message", Message: &resp}); err != nil {
				return
			}
		case <-view.Done():
			writeClose(conn, websocket.CloseNormalClosure, "conversation closed")
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump はクライアントからのフレームを読み捨て、切断を検知するとclosedを閉じる。
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(frame)
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(streamWriteWait))
}

func closeStream(view ConversationStream) {
	if err := view.Close(); err != nil {
		slog.Warn("failed to close conversation stream", slog.String("error", err.Error()))
	}
}
