// Package messaging はバイヤーとサプライヤー間のメッセージ機能を提供する。
// 会話一覧、履歴、送信と、開いている会話へのリアルタイム配信を扱う。
package messaging

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
	"github.com/hitoshi/packmart/internal/repository"
	"github.com/hitoshi/packmart/internal/security"
	"github.com/hitoshi/packmart/internal/validation"
)

// Service はメッセージ機能のサービス層。
type Service struct {
	messages  repository.MessageRepository
	realtime  Realtime
	sanitizer security.TextSanitizerService
	views     *Views
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(messages repository.MessageRepository, realtime Realtime, sanitizer security.TextSanitizerService) *Service {
	return &Service{
		messages:  messages,
		realtime:  realtime,
		sanitizer: sanitizer,
		views:     NewViews(),
	}
}

// Views は開いている会話ビューを返す。
func (s *Service) Views() *Views {
	return s.views
}

// Conversations は会話一覧を取得する。
func (s *Service) Conversations(ctx context.Context, sess *model.Session) ([]model.Conversation, error) {
	if sess == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}
	convs, err := s.messages.ListConversations(ctx, sess.UserID())
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "messages.conversations", Err: err}
	}
	return convs, nil
}

// History は相手とのメッセージ履歴を作成日時の昇順で取得する。
func (s *Service) History(ctx context.Context, sess *model.Session, participantID string) ([]model.Message, error) {
	if sess == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}
	if err := validation.Message(validation.MessageInput{ParticipantID: participantID}); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListBetween(ctx, sess.UserID(), participantID)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "messages.history", Err: err}
	}
	return msgs, nil
}

// Send はメッセージを送信する。
// 空白のみの本文は何もせずnilを返す。送信が確定したメッセージは
// クライアントが開いている同じ相手との会話ビューに追加される。
func (s *Service) Send(ctx context.Context, clientID string, sess *model.Session, participantID, content string) (*model.Message, error) {
	if sess == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	content = s.sanitizer.Sanitize(content)
	if content == "" {
		return nil, nil
	}
	if err := validation.Message(validation.MessageInput{ParticipantID: participantID, Content: content}); err != nil {
		return nil, err
	}

	msg := &model.Message{
		SenderID:   sess.UserID(),
		ReceiverID: participantID,
		Content:    content,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, &model.RemoteQueryError{Op: "messages.insert", Err: err}
	}

	for _, v := range s.views.Find(clientID, participantID) {
		v.append(*msg)
	}
	return msg, nil
}

// Open は相手との会話ビューを開く。
// 自分宛てのINSERTを購読してから履歴を読み込むため、その間に届いたメッセージも失われない。
// アクセストークンはctxから取得する。
func (s *Service) Open(ctx context.Context, clientID string, sess *model.Session, participantID string) (*ConversationView, error) {
	if sess == nil {
		return nil, &model.AuthError{Reason: model.AuthReasonNotAuthenticated}
	}
	if err := validation.Message(validation.MessageInput{ParticipantID: participantID}); err != nil {
		return nil, err
	}

	v := newConversationView(clientID, sess.UserID(), participantID)
	sub, err := s.realtime.Subscribe(ctx, platform.ChangeFilter{
		Event:  "INSERT",
		Schema: "public",
		Table:  "messages",
		Filter: "receiver_id=eq." + sess.UserID(),
	}, platform.AccessTokenFromContext(ctx), v.handleChange)
	if err != nil {
		return nil, &model.RemoteQueryError{Op: "messages.subscribe", Err: err}
	}
	v.sub = sub

	history, err := s.messages.ListBetween(ctx, sess.UserID(), participantID)
	if err != nil {
		if cerr := sub.Close(); cerr != nil {
			slog.Warn("failed to close subscription", slog.String("error", cerr.Error()))
		}
		return nil, &model.RemoteQueryError{Op: "messages.history", Err: err}
	}
	v.load(history)

	v.onClose = s.views.remove
	s.views.add(v)
	go v.watch()

	slog.Debug("conversation opened",
		slog.String("client_id", clientID),
		slog.String("participant_id", participantID),
	)
	return v, nil
}
