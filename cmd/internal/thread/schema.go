package thread

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the Postgres schema used when none is configured.
const DefaultSchema = "inbox"

// SchemaSQL returns the DDL for conversations, memberships and messages in schema.
// Statements are idempotent.
func SchemaSQL(schema string) string {
	conversations := PGIdent(schema, "conversations")
	members := PGIdent(schema, "conversation_members")
	cursors := PGIdent(schema, "conversation_cursors")
	messages := PGIdent(schema, "messages")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id                  TEXT PRIMARY KEY,
  kind                TEXT NOT NULL CHECK (kind IN ('direct')),
  direct_key          TEXT NOT NULL,
  created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_message_text   TEXT,
  last_message_sender TEXT,
  last_message_at     TIMESTAMPTZ,

  CONSTRAINT uq_conversations_direct_key UNIQUE (direct_key)
);

CREATE TABLE IF NOT EXISTS %[3]s (
  conversation_id TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  user_id         TEXT NOT NULL,
  joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (conversation_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_conversation_members_user
  ON %[3]s (user_id);

CREATE TABLE IF NOT EXISTS %[4]s (
  conversation_id TEXT PRIMARY KEY REFERENCES %[2]s(id) ON DELETE CASCADE,
  next_seq        BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[5]s (
  conversation_id TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  seq             BIGINT NOT NULL,
  server_msg_id   TEXT NOT NULL,
  client_msg_id   TEXT NOT NULL,
  sender_id       TEXT NOT NULL,
  text            TEXT NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (conversation_id, seq),
  CONSTRAINT uq_messages_conversation_client_msg UNIQUE (conversation_id, client_msg_id),
  CONSTRAINT uq_messages_server_msg_id UNIQUE (server_msg_id),
  CONSTRAINT chk_messages_text_len CHECK (char_length(text) > 0 AND char_length(text) <= 4096)
);
`, pgx.Identifier{schema}.Sanitize(), conversations, members, cursors, messages)
}

// ApplySchema executes SchemaSQL against pool.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return errors.New("thread: nil pool")
	}
	if !IsValidPGIdent(schema) {
		return errors.New("thread: invalid schema identifier")
	}
	if _, err := pool.Exec(ctx, SchemaSQL(schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IsValidPGIdent reports whether s is a plain, unquoted Postgres identifier.
func IsValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(strings.TrimSpace(s))
}

// PGIdent returns the quoted schema-qualified table name.
func PGIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
