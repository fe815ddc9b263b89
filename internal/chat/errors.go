package chat

import "errors"

var (
	// ErrNotAllowed means the caller is authenticated but not permitted
	// to act on the chat or message.
	ErrNotAllowed = errors.New("not allowed")
	// ErrEmptyMessage rejects a send with neither content nor attachment.
	ErrEmptyMessage = errors.New("message needs content or an attachment")
	// ErrMessageDeleted blocks edits on tombstoned messages.
	ErrMessageDeleted = errors.New("message is deleted")
)
