package session

// Sink receives the frames a session pushes to its client. The
// websocket layer implements it over a connection; tests record frames.
type Sink interface {
	Send(event string, payload any)
}

// Frame names pushed by sessions on top of the relayed domain events.
const (
	FrameChatList      = "chat-list"
	FrameChatOpened    = "chat-opened"
	FrameChatClosed    = "chat-closed"
	FrameOlderMessages = "older-messages"
	FrameUnreadCount   = "unread-count"
	FrameError         = "error"
)
