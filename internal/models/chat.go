package models

import "time"

// Chat is a support thread between one user and the admin team.
// A user has at most one active chat; new conversations reuse it.
type Chat struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ChatSummary is the admin list view of a chat: the chat row plus a
// derived last-message preview. The preview is display-only and is
// rebuilt from storage on every cold fetch.
type ChatSummary struct {
	Chat
	LastMessage string `db:"last_message" json:"last_message"`
}

// UnreadCount pairs a chat with its number of unread messages.
type UnreadCount struct {
	ChatID int `db:"chat_id" json:"chat_id"`
	Count  int `db:"count" json:"count"`
}
