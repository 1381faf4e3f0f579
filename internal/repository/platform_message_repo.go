package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/packmart/internal/model"
	"github.com/hitoshi/packmart/internal/platform"
)

// messageRow はmessagesテーブルの行表現。
type messageRow struct {
	ID         int64     `json:"id,omitempty"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

func (r *messageRow) toModel() model.Message {
	return model.Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		CreatedAt:  r.CreatedAt,
	}
}

// conversationRow はget_conversations関数の戻り値の行表現。
type conversationRow struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Role            string    `json:"role"`
	CompanyName     *string   `json:"company_name"`
	LastMessage     string    `json:"last_message"`
	LastMessageTime time.Time `json:"last_message_time"`
}

// PlatformMessageRepo はデータAPIを使用したメッセージリポジトリ。
type PlatformMessageRepo struct {
	client *platform.Client
}

// NewPlatformMessageRepo はPlatformMessageRepoを生成する。
func NewPlatformMessageRepo(client *platform.Client) *PlatformMessageRepo {
	return &PlatformMessageRepo{client: client}
}

// ListConversations はget_conversations関数でユーザーの会話一覧を取得する。
func (r *PlatformMessageRepo) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var rows []conversationRow
	if err := r.client.RPC(ctx, "get_conversations", map[string]string{"p_user_id": userID}, &rows); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	convs := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		c := model.Conversation{
			Participant: model.Profile{
				ID:    row.ID,
				Email: row.Email,
				Role:  model.Role(row.Role),
			},
			LastMessage:     row.LastMessage,
			LastMessageTime: row.LastMessageTime,
		}
		if row.CompanyName != nil {
			c.Participant.CompanyName = *row.CompanyName
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// ListBetween は2者間のメッセージを作成日時の昇順で返す。
func (r *PlatformMessageRepo) ListBetween(ctx context.Context, a, b string) ([]model.Message, error) {
	cond := fmt.Sprintf(
		"and(sender_id.eq.%s,receiver_id.eq.%s),and(sender_id.eq.%s,receiver_id.eq.%s)",
		a, b, b, a,
	)

	var rows []messageRow
	_, err := r.client.From("messages").
		Select("*").
		Or(cond).
		Order("created_at", true).
		Execute(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, rows[i].toModel())
	}
	return msgs, nil
}

// Create はメッセージを作成する。採番されたIDと作成日時をmsgに設定する。
func (r *PlatformMessageRepo) Create(ctx context.Context, msg *model.Message) error {
	row := messageRow{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
	}

	var created messageRow
	if _, err := r.client.From("messages").Insert(row).Single().Execute(ctx, &created); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	msg.ID = created.ID
	msg.CreatedAt = created.CreatedAt
	return nil
}
