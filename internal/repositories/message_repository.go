package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the narrow gateway to the durable message store.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg models.Message) error
	IncrementReaction(ctx context.Context, messageID string, kind string) (int, error)
	RecentMessages(ctx context.Context, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// InsertMessage stores one chat message.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO messages
        (id, sender, full_name, avatar_url, type, message, media_type, file_name, file_data, mime_type, audio_data, reactions, sent_time)
        VALUES (:id, :sender, :full_name, :avatar_url, :type, :message, :media_type, :file_name, :file_data, :mime_type, :audio_data, :reactions, :sent_time)`, msg)
	return err
}

// IncrementReaction bumps the count for one reaction kind on a stored message
// and returns the new count. The increment is executed by the database in a
// single statement so concurrent reactions on the same message never lose
// updates.
func (r *MessageRepo) IncrementReaction(ctx context.Context, messageID string, kind string) (int, error) {
	var count int
	err := r.db.QueryRowxContext(ctx, `UPDATE messages
        SET reactions = jsonb_set(reactions, ARRAY[$2], (COALESCE(reactions->>$2, '0')::int + 1)::text::jsonb)
        WHERE id = $1
        RETURNING (reactions->>$2)::int`, messageID, kind).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMessageNotFound
	}
	return count, err
}

// RecentMessages returns the most recent messages, newest first.
func (r *MessageRepo) RecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, sender, full_name, avatar_url, type, message, media_type, file_name, file_data, mime_type, audio_data, reactions, sent_time
        FROM messages
        ORDER BY sent_time DESC
        LIMIT $1`, limit)
	return msgs, err
}
