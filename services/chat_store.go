package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Ragudos/chat-server/models"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// LatestMessage is the most recent message of one conversation together with
// the participant on the other side of it.
type LatestMessage struct {
	OtherUserID int64
	Message     models.Message
}

// ChatStore is the durable, append-only message log.
type ChatStore interface {
	// Append stores a message and returns it with the store-assigned id and
	// created_at.
	Append(ctx context.Context, senderID, receiverID int64, receiverDisplayName, body string) (models.Message, error)
	// ListBetween returns every message of the unordered pair {a, b}, oldest first.
	ListBetween(ctx context.Context, a, b int64) ([]models.Message, error)
	// LatestPerConversation returns the latest message of every conversation
	// userID takes part in. A non-empty nameFilter keeps the conversations whose
	// other participant's name is similar to it, best match first; otherwise the
	// newest conversation comes first.
	LatestPerConversation(ctx context.Context, userID int64, nameFilter string) ([]LatestMessage, error)
}

// PgChatStore keeps messages in the messages table.
type PgChatStore struct {
	pool      *pgxpool.Pool
	threshold float64
}

// NewPgChatStore returns a store whose name search keeps rows with a trigram
// similarity above threshold.
func NewPgChatStore(pool *pgxpool.Pool, threshold float64) *PgChatStore {
	return &PgChatStore{pool: pool, threshold: threshold}
}

func (s *PgChatStore) Append(ctx context.Context, senderID, receiverID int64, receiverDisplayName, body string) (models.Message, error) {
	msg := models.Message{SenderID: senderID, ReceiverID: receiverID, Body: body}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (sender_id, receiver_id, receiver_display_name, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		senderID, receiverID, receiverDisplayName, body,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, storageError("storing message", err)
	}
	return msg, nil
}

func (s *PgChatStore) ListBetween(ctx context.Context, a, b int64) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
	SELECT id, sender_id, receiver_id, body, created_at
	FROM messages
	WHERE (sender_id = $1 AND receiver_id = $2)
	   OR (sender_id = $2 AND receiver_id = $1)
	ORDER BY created_at ASC, id ASC`, a, b)
	if err != nil {
		return nil, storageError("querying messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, storageError("scanning message row", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating message rows", err)
	}
	return messages, nil
}

// latestPerPair picks one row per unordered pair involving $1. other_name is
// the display name the other participant was stored under the last time they
// received a message, so search never depends on the live users table.
const latestPerPair = `
	WITH latest AS (
		SELECT DISTINCT ON (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id))
			id, sender_id, receiver_id, body, created_at,
			CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS other_id
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), created_at DESC, id DESC
	)`

func (s *PgChatStore) LatestPerConversation(ctx context.Context, userID int64, nameFilter string) ([]LatestMessage, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if nameFilter == "" {
		rows, err = s.pool.Query(ctx, latestPerPair+`
	SELECT id, sender_id, receiver_id, body, created_at, other_id
	FROM latest
	ORDER BY created_at DESC, id DESC`, userID)
	} else {
		rows, err = s.pool.Query(ctx, latestPerPair+`,
	named AS (
		SELECT l.*, COALESCE((
			SELECT m.receiver_display_name
			FROM messages m
			WHERE m.receiver_id = l.other_id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		), '') AS other_name
		FROM latest l
	)
	SELECT id, sender_id, receiver_id, body, created_at, other_id
	FROM named
	WHERE similarity(other_name, $2) > $3
	ORDER BY similarity(other_name, $2) DESC, created_at DESC, id DESC`, userID, nameFilter, s.threshold)
	}
	if err != nil {
		return nil, storageError("querying latest messages", err)
	}
	defer rows.Close()

	latest := []LatestMessage{}
	for rows.Next() {
		var row LatestMessage
		msg := &row.Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt, &row.OtherUserID); err != nil {
			return nil, storageError("scanning latest message row", err)
		}
		latest = append(latest, row)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating latest message rows", err)
	}
	return latest, nil
}

func storageError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		log.Printf("Postgres error while %s: code=%s constraint=%s: %s", action, pgErr.Code, pgErr.ConstraintName, pgErr.Message)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, action, err)
}
