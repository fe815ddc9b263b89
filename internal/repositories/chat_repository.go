package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"support-chat/internal/models"
)

var ErrChatNotFound = errors.New("chat not found")

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	GetOrCreateActiveChat(ctx context.Context, userID int) (models.Chat, bool, error)
	FindActiveChat(ctx context.Context, userID int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
	TouchChat(ctx context.Context, chatID int) error
	DeleteChat(ctx context.Context, chatID int) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, user_id, is_active, created_at, updated_at`

// GetOrCreateActiveChat returns the user's active chat, creating one
// when none exists. The partial unique index on (user_id) WHERE
// is_active makes the insert lose cleanly to a concurrent first send,
// so two racing callers always converge on the same chat. The bool
// reports whether this call created the chat.
func (r *ChatRepo) GetOrCreateActiveChat(ctx context.Context, userID int) (models.Chat, bool, error) {
	var chat models.Chat
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO chats (user_id) VALUES ($1)
         ON CONFLICT (user_id) WHERE is_active DO NOTHING
         RETURNING `+chatColumns, userID).StructScan(&chat)
	if err == nil {
		return chat, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, false, err
	}

	chat, err = r.FindActiveChat(ctx, userID)
	return chat, false, err
}

// FindActiveChat returns the user's active chat or ErrChatNotFound.
func (r *ChatRepo) FindActiveChat(ctx context.Context, userID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat,
		`SELECT `+chatColumns+` FROM chats WHERE user_id=$1 AND is_active`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat,
		`SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChats returns every chat newest-activity-first with a derived
// last-message preview. This is the cold-fetch path the admin list can
// always be rebuilt from; push events only patch it.
func (r *ChatRepo) ListChats(ctx context.Context) ([]models.ChatSummary, error) {
	query := `SELECT c.id, c.user_id, c.is_active, c.created_at, c.updated_at,
            COALESCE(m.preview, '') AS last_message
        FROM chats c
        LEFT JOIN LATERAL (
            SELECT CASE
                WHEN is_deleted THEN 'Message deleted'
                WHEN content IS NOT NULL AND content <> '' THEN content
                WHEN file_url IS NOT NULL THEN '[file]'
                ELSE ''
            END AS preview
            FROM messages WHERE chat_id = c.id
            ORDER BY id DESC LIMIT 1
        ) m ON TRUE
        ORDER BY c.updated_at DESC`
	var chats []models.ChatSummary
	err := r.db.SelectContext(ctx, &chats, query)
	return chats, err
}

// TouchChat bumps updated_at so the admin list sorts the chat first.
func (r *ChatRepo) TouchChat(ctx context.Context, chatID int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = NOW() WHERE id=$1`, chatID)
	return err
}

// DeleteChat removes the chat row; messages go with it via the
// foreign-key cascade.
func (r *ChatRepo) DeleteChat(ctx context.Context, chatID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}
