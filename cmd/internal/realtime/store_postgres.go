// Package realtime contains the websocket gateway that hosts thread surfaces per connection,
// plus message persistence and conversation membership checks.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inbox/cmd/internal/thread"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// The pool is owned by the caller; Close is a no-op. Writes are serialized per conversation with
// a transactional advisory lock so seq stays gapless under concurrency and duplicates.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore and PostgresMembershipStore.
type PostgresOption func(*string) error

// WithSchema sets the DB schema (default: thread.DefaultSchema).
func WithSchema(schema string) PostgresOption {
	return func(dst *string) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !thread.IsValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		*dst = schema
		return nil
	}
}

func applySchemaOpts(opts []PostgresOption) (string, error) {
	schema := thread.DefaultSchema
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&schema); err != nil {
			return "", err
		}
	}
	return schema, nil
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	schema, err := applySchemaOpts(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// AppendMessage appends a message with idempotency and monotonic sequence allocation.
// The conversation must already exist.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if !in.valid() {
		return AppendMessageResult{}, ErrInvalidMessage
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := thread.PGIdent(s.schema, "conversation_cursors")
	messages := thread.PGIdent(s.schema, "messages")

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "msg:"+in.ConversationID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := readMessageByClientMsgID(ctx, tx, messages, in.ConversationID, in.ClientMsgID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (conversation_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		in.ConversationID,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("cursor: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE conversation_id = $1
		RETURNING (next_seq - 1)`,
		in.ConversationID,
	).Scan(&seq); err != nil {
		return AppendMessageResult{}, err
	}

	serverMsgID, err := NewServerMsgID(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     conversation_id, seq, server_msg_id, client_msg_id, sender_id, text, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ConversationID, seq, serverMsgID, in.ClientMsgID, in.SenderID, in.Text, now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}

	return AppendMessageResult{Stored: StoredMessage{
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		ServerMsgID:    serverMsgID,
		Seq:            seq,
		SenderID:       in.SenderID,
		Text:           in.Text,
		CreatedAt:      now,
	}}, nil
}

// FetchHistory returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	if in.ConversationID == "" {
		return FetchHistoryResult{}, ErrInvalidMessage
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	limit := historyLimit(in.Limit)
	after := int64(0)
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	messages := thread.PGIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, client_msg_id, server_msg_id, seq, sender_id, text, created_at
		   FROM `+messages+`
		  WHERE conversation_id = $1 AND seq > $2
		  ORDER BY seq ASC
		  LIMIT $3`,
		in.ConversationID, after, limit+1,
	)
	if err != nil {
		return FetchHistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]StoredMessage, 0, limit+1)
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ConversationID, &m.ClientMsgID, &m.ServerMsgID, &m.Seq, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return FetchHistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return FetchHistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return FetchHistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

func readMessageByClientMsgID(ctx context.Context, tx pgx.Tx, messagesTable, conversationID, clientMsgID string) (StoredMessage, error) {
	var m StoredMessage
	err := tx.QueryRow(ctx,
		`SELECT conversation_id, client_msg_id, server_msg_id, seq, sender_id, text, created_at
		   FROM `+messagesTable+`
		  WHERE conversation_id = $1 AND client_msg_id = $2`,
		conversationID, clientMsgID,
	).Scan(&m.ConversationID, &m.ClientMsgID, &m.ServerMsgID, &m.Seq, &m.SenderID, &m.Text, &m.CreatedAt)
	return m, err
}
