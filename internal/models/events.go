package models

// ChatActivityEvent is the compact admin-list notification published on
// the shared admin channel for every new message, so admin sidebars
// update without subscribing to every chat channel.
type ChatActivityEvent struct {
	ChatID  int     `json:"chat_id"`
	Message Message `json:"message"`
}

// ChatDeletedEvent announces an admin chat deletion.
type ChatDeletedEvent struct {
	ChatID int `json:"chat_id"`
}

// TypingEvent is the ephemeral typing hint. It is never persisted;
// receivers assign the boolean, they do not count events.
type TypingEvent struct {
	IsTyping   bool   `json:"is_typing"`
	SenderRole string `json:"sender_role"`
}

// MessagesReadEvent tells the counterpart that the reader swept the
// chat; receivers flip is_read on local messages not sent by the reader.
type MessagesReadEvent struct {
	ChatID   int `json:"chat_id"`
	ReaderID int `json:"reader_id"`
}

// MessageDeletedEvent carries only the id; receivers tombstone the
// local copy in place.
type MessageDeletedEvent struct {
	MessageID int `json:"message_id"`
}
