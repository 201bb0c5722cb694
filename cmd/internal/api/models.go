package api

import (
	"time"

	"inbox/cmd/internal/thread"
)

type meResponse struct {
	UserID    string     `json:"user_id"`
	SessionID string     `json:"session_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type lastMessageResponse struct {
	Text     string    `json:"text"`
	SenderID string    `json:"sender_id"`
	At       time.Time `json:"at"`
}

type conversationResponse struct {
	ID             string               `json:"id"`
	Kind           string               `json:"kind"`
	ParticipantIDs []string             `json:"participant_ids"`
	CreatedAt      time.Time            `json:"created_at"`
	LastMessage    *lastMessageResponse `json:"last_message,omitempty"`
}

type conversationListResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type createConversationRequest struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type resolveRequest struct {
	Identifier string `json:"identifier"`
}

type resolveResponse struct {
	Conversation conversationResponse `json:"conversation"`
	Requested    string               `json:"requested"`
	Kind         string               `json:"kind"`
	Path         string               `json:"path"`
	Created      bool                 `json:"created"`
}

func toConversationResponse(c thread.Conversation) conversationResponse {
	out := conversationResponse{
		ID:             c.ID,
		Kind:           c.Kind,
		ParticipantIDs: append([]string(nil), c.ParticipantIDs...),
		CreatedAt:      c.CreatedAt,
	}
	if c.LastMessage != nil {
		out.LastMessage = &lastMessageResponse{
			Text:     c.LastMessage.Text,
			SenderID: c.LastMessage.SenderID,
			At:       c.LastMessage.At,
		}
	}
	return out
}

func (c conversationResponse) toConversation() thread.Conversation {
	out := thread.Conversation{
		ID:             c.ID,
		Kind:           c.Kind,
		ParticipantIDs: c.ParticipantIDs,
		CreatedAt:      c.CreatedAt,
	}
	if c.LastMessage != nil {
		out.LastMessage = &thread.MessageSummary{
			Text:     c.LastMessage.Text,
			SenderID: c.LastMessage.SenderID,
			At:       c.LastMessage.At,
		}
	}
	return out
}
