package models

import (
	"time"

	"github.com/google/uuid"

	"tradechat-backend/internal/identity"
)

// Conversation is the deduplicated buyer-seller-product dialogue record.
// Product, Buyer and Seller are fixed at creation; Messages only grows.
type Conversation struct {
	ID        uuid.UUID           `json:"id"`
	Product   identity.Identifier `json:"product_id"`
	Buyer     identity.Identifier `json:"buyer_id"`
	Seller    identity.Identifier `json:"seller_id"`
	Messages  []Message           `json:"messages"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// HasParticipant reports whether id is the conversation's buyer or seller.
func (c *Conversation) HasParticipant(id identity.Identifier) bool {
	return c.Buyer.Equal(id) || c.Seller.Equal(id)
}

// LastMessage returns the most recent message, or nil for an empty log.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Message is one chat line inside a conversation's ordered log.
// This structure is what's stored inside the embedded messages array.
type Message struct {
	ID           uuid.UUID           `json:"id"`
	Sender       identity.Identifier `json:"sender"`
	Text         string              `json:"text"`
	CreatedAt    time.Time           `json:"created_at"`              // Store-assigned, non-decreasing per conversation
	ClientSentAt *time.Time          `json:"client_sent_at,omitempty"` // Informational, as reported by the client
}
