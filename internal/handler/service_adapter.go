package handler

import (
	"context"

	"github.com/hitoshi/packmart/internal/messaging"
	"github.com/hitoshi/packmart/internal/model"
)

// MessagingServiceAdapter は messaging.Service を MessagingService に適合させるアダプタ。
// Openが返す*messaging.ConversationViewをConversationStreamとして扱う。
type MessagingServiceAdapter struct {
	svc *messaging.Service
}

// NewMessagingServiceAdapter はMessagingServiceAdapterを生成する。
func NewMessagingServiceAdapter(svc *messaging.Service) *MessagingServiceAdapter {
	return &MessagingServiceAdapter{svc: svc}
}

// Conversations は会話一覧を返す。
func (a *MessagingServiceAdapter) Conversations(ctx context.Context, sess *model.Session) ([]model.Conversation, error) {
	return a.svc.Conversations(ctx, sess)
}

// History は相手とのメッセージ履歴を返す。
func (a *MessagingServiceAdapter) History(ctx context.Context, sess *model.Session, participantID string) ([]model.Message, error) {
	return a.svc.History(ctx, sess, participantID)
}

// Send はメッセージを送信する。
func (a *MessagingServiceAdapter) Send(ctx context.Context, clientID string, sess *model.Session, participantID, content string) (*model.Message, error) {
	return a.svc.Send(ctx, clientID, sess, participantID, content)
}

// Open は会話ビューを開く。
// 型付きnilがインターフェースに入らないよう、エラー時は明示的にnilを返す。
func (a *MessagingServiceAdapter) Open(ctx context.Context, clientID string, sess *model.Session, participantID string) (ConversationStream, error) {
	v, err := a.svc.Open(ctx, clientID, sess, participantID)
	if err != nil {
		return nil, err
	}
	return v, nil
}
