// Package v1 defines the inbox realtime protocol v1 contract.
//
// It is shared between server and clients to keep the wire protocol authoritative,
// and depends on the standard library only so clients can vendor it cheaply.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated for this version.
const Subprotocol = "inbox.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeThreadOpen opens a person or conversation identifier in the active view (client -> server).
	TypeThreadOpen = "thread_open"
	// TypeThreadSelect selects a conversation from the list (client -> server).
	TypeThreadSelect = "thread_select"
	// TypeThreadBackToList leaves the active view (client -> server).
	TypeThreadBackToList = "thread_back_to_list"
	// TypeNavigate moves the session history to a path, or back/forward (client -> server).
	TypeNavigate = "navigate"
	// TypeThreadRetry re-runs the last failed resolution (client -> server).
	TypeThreadRetry = "thread_retry"
	// TypeThreadList requests the conversation list (client -> server).
	TypeThreadList = "thread_list"

	// TypeThreadState pushes the active view state (server -> client).
	TypeThreadState = "thread_state"
	// TypeThreadListResult pushes the conversation list (server -> client).
	TypeThreadListResult = "thread_list_result"
	// TypeThreadEvent relays a broadcast event (server -> client).
	TypeThreadEvent = "thread_event"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges a send request (server -> client).
	TypeMessageAck = "message_ack"
	// TypeMessageNew broadcasts a newly accepted message (server -> conversation members).
	TypeMessageNew = "message_new"

	// TypeHistoryFetch requests message history (client -> server).
	TypeHistoryFetch = "history_fetch"
	// TypeHistoryChunk returns a window of history (server -> client).
	TypeHistoryChunk = "history_chunk"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Error codes carried by ErrorPayload.Code besides the thread error kinds.
const (
	CodeBadJSON      = "bad_json"
	CodeBadEnvelope  = "bad_envelope"
	CodeBadPayload   = "bad_payload"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeRateLimited  = "rate_limited"
	CodeUnsupported  = "unsupported"
	CodeSendFailed   = "send_failed"
	CodeHistory      = "history_failed"
	CodeIgnored      = "ignored"
)

// Navigation directions for NavigatePayload.
const (
	DirectionBack    = "back"
	DirectionForward = "forward"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeThreadOpen,
		TypeThreadSelect,
		TypeThreadBackToList,
		TypeNavigate,
		TypeThreadRetry,
		TypeThreadList,
		TypeThreadState,
		TypeThreadListResult,
		TypeThreadEvent,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageNew,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the client to initiate a session.
// Token authenticates sessions whose handshake carried no Authorization header.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
	Lang  string `json:"lang,omitempty"`
}

// HelloAckPayload confirms the session.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ThreadOpenPayload opens Identifier, a person id or a conversation id.
type ThreadOpenPayload struct {
	Identifier string `json:"identifier"`
}

// ThreadSelectPayload selects a conversation from the list.
type ThreadSelectPayload struct {
	ConversationID string `json:"conversation_id"`
}

// NavigatePayload moves to Path, or back/forward when Direction is set.
type NavigatePayload struct {
	Path      string `json:"path,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// LastMessage is the cached last message of a conversation.
type LastMessage struct {
	Text     string    `json:"text"`
	SenderID string    `json:"sender_id"`
	At       time.Time `json:"at"`
}

// Conversation is a conversation as seen by clients.
type Conversation struct {
	ID             string       `json:"id"`
	Kind           string       `json:"kind"`
	ParticipantIDs []string     `json:"participant_ids"`
	CreatedAt      time.Time    `json:"created_at"`
	LastMessage    *LastMessage `json:"last_message,omitempty"`
}

// ThreadStatePayload is the active view state.
type ThreadStatePayload struct {
	Requested      string        `json:"requested,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Status         string        `json:"status"`
	Busy           bool          `json:"busy"`
	Path           string        `json:"path"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Error          *ErrorPayload `json:"error,omitempty"`
}

// ThreadListResultPayload is the conversation list, most recent activity first.
type ThreadListResultPayload struct {
	Conversations []Conversation `json:"conversations"`
}

// ThreadEventPayload relays one broadcast event; fields not used by Kind are empty.
type ThreadEventPayload struct {
	Kind           string       `json:"kind"`
	ConversationID string       `json:"conversation_id,omitempty"`
	RequestedID    string       `json:"requested_id,omitempty"`
	OldID          string       `json:"old_id,omitempty"`
	NewID          string       `json:"new_id,omitempty"`
	LastMessage    *LastMessage `json:"last_message,omitempty"`
}

// MessageSendPayload requests sending a message into a conversation.
type MessageSendPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Text           string `json:"text"`
}

// MessageAckPayload acknowledges a send request and returns the canonical server ids.
type MessageAckPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	ServerMsgID    string `json:"server_msg_id"`
	Seq            int64  `json:"seq"`
	Duplicated     bool   `json:"duplicated,omitempty"`
}

// MessageNewPayload is broadcast when a new message is accepted (non-duplicate).
type MessageNewPayload struct {
	ConversationID string    `json:"conversation_id"`
	ClientMsgID    string    `json:"client_msg_id"`
	ServerMsgID    string    `json:"server_msg_id"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// HistoryFetchPayload requests a history window for a conversation.
type HistoryFetchPayload struct {
	ConversationID string `json:"conversation_id"`
	AfterSeq       *int64 `json:"after_seq,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// HistoryChunkPayload returns messages for a history fetch request.
type HistoryChunkPayload struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []MessageNewPayload `json:"messages"`
	HasMore        bool                `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
