package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxMessageText is the longest message text accepted, in runes. It must match
// the max tag on AppendMessageRequest.Text.
const MaxMessageText = 4000

// --- Request Structs ---

// CreateConversationRequest defines the body for CREATE_OR_GET_CONVERSATION.
// Identifiers are decoded loosely (numbers, strings or reference objects) and
// normalized by the service.
type CreateConversationRequest struct {
	ProductID any `json:"product_id"`
	BuyerID   any `json:"buyer_id"`
	SellerID  any `json:"seller_id"`
}

// AppendMessageRequest defines the body for APPEND_MESSAGE.
type AppendMessageRequest struct {
	SenderID any         `json:"sender_id"`
	Text     string      `json:"text" validate:"required,max=4000"`
	SentAt   *ClientTime `json:"timestamp,omitempty"`
}

// ListConversationsFilter holds the optional LIST_CONVERSATIONS constraints.
type ListConversationsFilter struct {
	ProductID any `json:"product_id"`
	BuyerID   any `json:"buyer_id"`
	SellerID  any `json:"seller_id"`
	Limit     int `json:"limit" validate:"gte=0"`
	Offset    int `json:"offset" validate:"gte=0"`
}

// --- Response Structs ---

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"` // Field-level validation detail
}

// ConversationResponse wraps a conversation with whether this call created it.
type ConversationResponse struct {
	Conversation
	Created bool `json:"created"`
}

// ListConversationsResponse defines the response structure for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Limit         int            `json:"limit"`
	Offset        int            `json:"offset"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
}

// --- Realtime DTOs ---

// Event is the envelope exchanged over a realtime connection in both directions.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// JoinRoomPayload is the client->server join_room / leave_room body.
type JoinRoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload is the client->server send_message body.
type SendMessagePayload struct {
	ConversationID string          `json:"conversationId"`
	Message        OutgoingMessage `json:"message"`
}

// OutgoingMessage is the message part of a send_message event.
type OutgoingMessage struct {
	Sender    any         `json:"sender"`
	Text      string      `json:"text"`
	Timestamp *ClientTime `json:"timestamp,omitempty"`
}

// MessageErrorPayload is the server->client message_error body.
type MessageErrorPayload struct {
	Error          string     `json:"error"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}

// ReceiveMessagePayload is the server->client receive_message body.
type ReceiveMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Message
}

// ClientTime is a client-reported timestamp. It accepts RFC 3339 strings and
// epoch milliseconds, the two shapes browsers commonly send.
type ClientTime struct {
	time.Time
}

func (t *ClientTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(millis).UTC()
	return nil
}

// Ptr returns the wrapped time, or nil for a nil receiver.
func (t *ClientTime) Ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
