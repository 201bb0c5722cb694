package realtime

import (
	"context"
	"errors"
	"strings"

	"inbox/cmd/internal/thread"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore defines the authorization boundary for conversation membership.
type MembershipStore interface {
	// IsMember returns true if userID is a participant of conversationID.
	IsMember(ctx context.Context, userID, conversationID string) (bool, error)
}

// PostgresMembershipStore checks membership via conversation_members.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresMembershipStore constructs a membership store backed by PostgreSQL.
func NewPostgresMembershipStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresMembershipStore, error) {
	if pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	schema, err := applySchemaOpts(opts)
	if err != nil {
		return nil, err
	}
	return &PostgresMembershipStore{pool: pool, schema: schema}, nil
}

// IsMember checks if userID is a member of conversationID.
func (s *PostgresMembershipStore) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	conversationID = strings.TrimSpace(conversationID)
	if userID == "" || conversationID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	members := thread.PGIdent(s.schema, "conversation_members")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+members+` WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StoreMembership answers membership from a thread.Store's participant lists.
// It backs the gateway when conversations live in memory or behind the HTTP API.
type StoreMembership struct {
	Store thread.Store
}

// IsMember reports whether userID participates in conversationID.
func (m StoreMembership) IsMember(ctx context.Context, userID, conversationID string) (bool, error) {
	if m.Store == nil {
		return false, errors.New("realtime: nil conversation store")
	}
	conv, err := m.Store.GetConversation(ctx, conversationID)
	if errors.Is(err, thread.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return conv.HasParticipant(userID), nil
}
