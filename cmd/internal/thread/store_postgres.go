package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inbox/cmd/internal/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// The pgx pool is owned by the caller. Direct conversations are unique per pair:
// creation serializes on a transactional advisory lock over the pair key and the
// direct_key column carries a unique constraint.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "inbox").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("thread: empty schema")
		}
		if !IsValidPGIdent(schema) {
			return errors.New("thread: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("thread: nil pool")
	}
	return st, nil
}

const conversationColumns = `c.id, c.kind, c.created_at, c.last_message_text, c.last_message_sender, c.last_message_at,
       ARRAY(SELECT m.user_id FROM %s m WHERE m.conversation_id = c.id ORDER BY m.user_id) AS participants`

func (s *PostgresStore) selectConversations() string {
	return `SELECT ` + fmt.Sprintf(conversationColumns, PGIdent(s.schema, "conversation_members")) +
		` FROM ` + PGIdent(s.schema, "conversations") + ` c`
}

// GetConversation returns a conversation by id.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	id = ids.NormalizeUUID(id)
	if id == "" {
		return Conversation{}, opErr("thread.GetConversation", ErrInvalidInput, "", nil)
	}

	row := s.pool.QueryRow(ctx, s.selectConversations()+` WHERE c.id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, opErr("thread.GetConversation", ErrNotFound, id, nil)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns the conversations userID participates in, most recent activity first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, opErr("thread.ListConversations", ErrInvalidInput, "", nil)
	}

	members := PGIdent(s.schema, "conversation_members")
	rows, err := s.pool.Query(ctx,
		s.selectConversations()+`
		  WHERE EXISTS (SELECT 1 FROM `+members+` me WHERE me.conversation_id = c.id AND me.user_id = $1)
		  ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 16)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// CreateConversation creates the direct conversation of a pair, or returns the existing one.
func (s *PostgresStore) CreateConversation(ctx context.Context, participantIDs []string) (Conversation, error) {
	c, _, err := s.CreateDirect(ctx, participantIDs)
	return c, err
}

// CreateDirect is CreateConversation that also reports whether it inserted.
func (s *PostgresStore) CreateDirect(ctx context.Context, participantIDs []string) (Conversation, bool, error) {
	parts, err := NormalizeParticipants(participantIDs)
	if err != nil {
		return Conversation{}, false, err
	}
	key := PairKey(parts[0], parts[1])

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Conversation{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return Conversation{}, false, fmt.Errorf("advisory lock: %w", err)
	}

	conversations := PGIdent(s.schema, "conversations")
	members := PGIdent(s.schema, "conversation_members")

	var existing string
	err = tx.QueryRow(ctx, `SELECT id FROM `+conversations+` WHERE direct_key = $1`, key).Scan(&existing)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return Conversation{}, false, err
		}
		c, err := s.GetConversation(ctx, existing)
		return c, false, err
	case !errors.Is(err, pgx.ErrNoRows):
		return Conversation{}, false, fmt.Errorf("lookup direct conversation: %w", err)
	}

	id, err := ids.NewConversationID()
	if err != nil {
		return Conversation{}, false, err
	}
	now := s.now()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id, kind, direct_key, created_at) VALUES ($1, $2, $3, $4)`,
		id, KindDirect, key, now,
	); err != nil {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+members+` (conversation_id, user_id, joined_at) VALUES ($1, $2, $4), ($1, $3, $4)`,
		id, parts[0], parts[1], now,
	); err != nil {
		return Conversation{}, false, fmt.Errorf("insert members: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, false, err
	}

	return Conversation{
		ID:             id,
		Kind:           KindDirect,
		ParticipantIDs: parts,
		CreatedAt:      now,
	}, true, nil
}

// SetLastMessage stores summary unless a newer one is already recorded.
func (s *PostgresStore) SetLastMessage(ctx context.Context, conversationID string, summary MessageSummary) error {
	conversationID = ids.NormalizeUUID(conversationID)
	at := summary.At
	if at.IsZero() {
		at = s.now()
	}

	conversations := PGIdent(s.schema, "conversations")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+conversations+`
		    SET last_message_text = $2,
		        last_message_sender = $3,
		        last_message_at = $4
		  WHERE id = $1
		    AND (last_message_at IS NULL OR last_message_at <= $4)`,
		conversationID, summary.Text, summary.SenderID, at,
	)
	if err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM `+conversations+` WHERE id = $1`, conversationID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return opErr("thread.SetLastMessage", ErrNotFound, conversationID, nil)
	}
	return err
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c      Conversation
		text   *string
		sender *string
		at     *time.Time
	)
	if err := row.Scan(&c.ID, &c.Kind, &c.CreatedAt, &text, &sender, &at, &c.ParticipantIDs); err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	// Column collation may differ from byte order.
	sort.Strings(c.ParticipantIDs)
	if at != nil {
		lm := MessageSummary{At: at.UTC()}
		if text != nil {
			lm.Text = *text
		}
		if sender != nil {
			lm.SenderID = *sender
		}
		c.LastMessage = &lm
	}
	return c, nil
}
