package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tradechat-backend/internal/identity"
	"tradechat-backend/internal/models"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrUnavailable wraps failures reaching the backing store (connectivity,
// timeouts, closed handles). Callers may retry these.
var ErrUnavailable = errors.New("store unavailable")

// PartyKey identifies a conversation by product and its unordered buyer/seller pair.
type PartyKey struct {
	Product identity.Identifier
	Buyer   identity.Identifier
	Seller  identity.Identifier
}

// Canonical returns the pair ordered smallest first. Backends use it as the
// uniqueness key so (b, s) and (s, b) collide on insert.
func (k PartyKey) Canonical() (lo, hi identity.Identifier) {
	return identity.Pair(k.Buyer, k.Seller)
}

// CreateConversationParams contains parameters for creating a conversation.
// Buyer and Seller keep their roles; only the uniqueness key is canonicalized.
type CreateConversationParams struct {
	ID      uuid.UUID // Generated by the backend when uuid.Nil
	Product identity.Identifier
	Buyer   identity.Identifier
	Seller  identity.Identifier
}

// Key returns the dedup key of the conversation to create.
func (p CreateConversationParams) Key() PartyKey {
	return PartyKey{Product: p.Product, Buyer: p.Buyer, Seller: p.Seller}
}

// AppendMessageParams contains parameters for appending a message.
// CreatedAt is assigned by the store.
type AppendMessageParams struct {
	ID           uuid.UUID // Generated by the backend when uuid.Nil
	Sender       identity.Identifier
	Text         string
	ClientSentAt *time.Time
}

// ListConversationsParams filters ListConversations. Empty identifiers are
// unconstrained.
type ListConversationsParams struct {
	Product identity.Identifier
	Buyer   identity.Identifier
	Seller  identity.Identifier
	Limit   int
	Offset  int
}

// Matches reports whether c satisfies every set filter field.
func (p ListConversationsParams) Matches(c *models.Conversation) bool {
	if !p.Product.IsEmpty() && !p.Product.Equal(c.Product) {
		return false
	}
	if !p.Buyer.IsEmpty() && !p.Buyer.Equal(c.Buyer) {
		return false
	}
	if !p.Seller.IsEmpty() && !p.Seller.Equal(c.Seller) {
		return false
	}
	return true
}

// Store defines the interface for conversation persistence.
// This allows for mocking in tests and backend switching.
type Store interface {
	// FindConversationByParties looks up a conversation whose buyer/seller
	// match the key's pair in either role order. Returns ErrNotFound if none.
	FindConversationByParties(ctx context.Context, key PartyKey) (*models.Conversation, error)

	// GetOrCreateConversation returns the conversation for the params' party
	// key, inserting it if absent as a single conditional operation. Concurrent
	// callers converge on one record; created is true for exactly one of them.
	GetOrCreateConversation(ctx context.Context, arg CreateConversationParams) (conv *models.Conversation, created bool, err error)

	GetConversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)

	// AppendMessage atomically appends to the conversation's message log and
	// returns the updated conversation and the stored message.
	AppendMessage(ctx context.Context, conversationID uuid.UUID, arg AppendMessageParams) (*models.Conversation, *models.Message, error)

	ListConversations(ctx context.Context, arg ListConversationsParams) ([]models.Conversation, error)

	Ping(ctx context.Context) error
	Close() error
}
