package models

import "time"

// Roles carried by message senders and session identities.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Message is a chat message. Content and attachment are both optional
// on the wire but at least one is present at creation; a deleted
// message keeps its row and id with all three cleared.
type Message struct {
	ID         int       `db:"id" json:"id"`
	ChatID     int       `db:"chat_id" json:"chat_id"`
	SenderID   int       `db:"sender_id" json:"sender_id"`
	SenderRole string    `db:"sender_role" json:"sender_role"`
	Content    *string   `db:"content" json:"content"`
	FileURL    *string   `db:"file_url" json:"file_url"`
	FileType   *string   `db:"file_type" json:"file_type"`
	IsRead     bool      `db:"is_read" json:"is_read"`
	IsEdited   bool      `db:"is_edited" json:"is_edited"`
	IsDeleted  bool      `db:"is_deleted" json:"is_deleted"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Preview renders the one-line summary shown in the admin chat list.
func (m Message) Preview() string {
	if m.IsDeleted {
		return "Message deleted"
	}
	if m.Content != nil && *m.Content != "" {
		return *m.Content
	}
	if m.FileURL != nil {
		return "[file]"
	}
	return ""
}

// HasBody reports whether the message carries content or an attachment.
func (m Message) HasBody() bool {
	return (m.Content != nil && *m.Content != "") || (m.FileURL != nil && *m.FileURL != "")
}
