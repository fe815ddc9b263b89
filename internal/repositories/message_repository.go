package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID, senderID int, senderRole string, content, fileURL, fileType *string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	FindMessagesPage(ctx context.Context, chatID, cursor, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error)
	Tombstone(ctx context.Context, messageID int) (models.Message, error)
	MarkReadExceptSender(ctx context.Context, chatID, readerID int) (int, error)
	UnreadByChat(ctx context.Context) ([]models.UnreadCount, error)
	CountUnreadForUser(ctx context.Context, chatID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, sender_role, content, file_url, file_type, is_read, is_edited, is_deleted, created_at`

// CreateMessage stores a message.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID, senderID int, senderRole string, content, fileURL, fileType *string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (chat_id, sender_id, sender_role, content, file_url, file_type)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING `+messageColumns,
		chatID, senderID, senderRole, content, fileURL, fileType).StructScan(&msg)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// FindMessagesPage returns up to limit messages older than the cursor,
// newest first. A zero cursor means "from the latest". Callers fetch
// limit+1 to detect whether more pages remain.
func (r *MessageRepo) FindMessagesPage(ctx context.Context, chatID, cursor, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE chat_id=$1 AND ($2 = 0 OR id < $2)
        ORDER BY id DESC LIMIT $3`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, chatID, cursor, limit)
	return msgs, err
}

// UpdateContent replaces the message body and flags it edited.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$2, is_edited=TRUE WHERE id=$1
         RETURNING `+messageColumns, messageID, content).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Tombstone clears the body but keeps the row, preserving ordering and
// ids for clients that already rendered the message. Safe to repeat.
func (r *MessageRepo) Tombstone(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET is_deleted=TRUE, content=NULL, file_url=NULL, file_type=NULL
         WHERE id=$1 RETURNING `+messageColumns, messageID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkReadExceptSender flips every unread message in the chat that the
// reader did not author. is_read only ever goes false to true.
func (r *MessageRepo) MarkReadExceptSender(ctx context.Context, chatID, readerID int) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET is_read=TRUE
         WHERE chat_id=$1 AND is_read=FALSE AND sender_id<>$2`, chatID, readerID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// UnreadByChat groups unread user-authored messages by chat for the
// admin console's connect-time snapshot.
func (r *MessageRepo) UnreadByChat(ctx context.Context) ([]models.UnreadCount, error) {
	var counts []models.UnreadCount
	err := r.db.SelectContext(ctx, &counts,
		`SELECT chat_id, COUNT(*) AS count FROM messages
         WHERE is_read=FALSE AND sender_role <> $1
         GROUP BY chat_id`, models.RoleAdmin)
	return counts, err
}

// CountUnreadForUser counts unread admin-authored messages in the
// user's chat for the closed-widget badge.
func (r *MessageRepo) CountUnreadForUser(ctx context.Context, chatID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages
         WHERE chat_id=$1 AND is_read=FALSE AND sender_role=$2`, chatID, models.RoleAdmin)
	return count, err
}
