package model

import "time"

// Message は2者間で交換されるメッセージを表す。
type Message struct {
	ID         int64
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
}

// Involves はメッセージが指定の2者間のものかどうかを判定する。
func (m *Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Conversation は相手ごとにまとめたメッセージのやり取りの要約を表す。
type Conversation struct {
	Participant     Profile
	LastMessage     string
	LastMessageTime time.Time
}
