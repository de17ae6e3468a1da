package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradechat-backend/internal/identity"
	"tradechat-backend/internal/models"
	"tradechat-backend/internal/store"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidIdentifier    = errors.New("invalid conversation id")
	ErrValidation           = errors.New("input validation failed")
	ErrSenderNotParticipant = errors.New("sender is not a participant in this conversation")
	ErrStoreUnavailable     = errors.New("store unavailable, retry later")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ConversationService resolves conversations and appends messages to them.
type ConversationService struct {
	store   store.Store
	timeout time.Duration
	log     *slog.Logger
}

// NewConversationService creates a new ConversationService. Every store call
// is bounded by timeout.
func NewConversationService(st store.Store, timeout time.Duration, logger *slog.Logger) *ConversationService {
	return &ConversationService{
		store:   st,
		timeout: timeout,
		log:     logger.With("component", "ConversationService"),
	}
}

// ResolveConversation returns the conversation between buyer and seller for
// product, creating it if neither role ordering exists yet. created reports
// whether this call inserted the record.
func (s *ConversationService) ResolveConversation(ctx context.Context, req models.CreateConversationRequest) (conv *models.Conversation, created bool, err error) {
	verr := &ValidationError{}
	product := requireIdentifier(verr, "product_id", req.ProductID)
	buyer := requireIdentifier(verr, "buyer_id", req.BuyerID)
	seller := requireIdentifier(verr, "seller_id", req.SellerID)
	if buyer.Equal(seller) {
		verr.add("seller_id", "must differ from buyer_id")
	}
	if err := verr.errOrNil(); err != nil {
		return nil, false, err
	}

	params := store.CreateConversationParams{Product: product, Buyer: buyer, Seller: seller}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.store.FindConversationByParties(ctx, params.Key())
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, s.classify("finding conversation", err)
	}

	conv, created, err = s.store.GetOrCreateConversation(ctx, params)
	if err != nil {
		return nil, false, s.classify("creating conversation", err)
	}
	if created {
		s.log.Info("conversation resolved", "conversation_id", conv.ID, "created", created, "product", product.String())
	}
	return conv, created, nil
}

// AppendMessage appends a message from a participant to the conversation and
// returns the updated conversation together with the stored message.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID string, req models.AppendMessageRequest) (*models.Conversation, *models.Message, error) {
	id, err := ParseConversationID(conversationID)
	if err != nil {
		return nil, nil, err
	}

	verr := &ValidationError{}
	if err := structErrors(req, verr); err != nil {
		return nil, nil, err
	}
	sender := requireIdentifier(verr, "sender_id", req.SenderID)
	if err := verr.errOrNil(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// Participants never change, so the membership check can run before the append.
	existing, err := s.store.GetConversationByID(ctx, id)
	if err != nil {
		return nil, nil, s.classify("fetching conversation", err)
	}
	if !existing.HasParticipant(sender) {
		return nil, nil, fmt.Errorf("%w: %s", ErrSenderNotParticipant, sender)
	}

	conv, msg, err := s.store.AppendMessage(ctx, id, store.AppendMessageParams{
		Sender:       sender,
		Text:         req.Text,
		ClientSentAt: req.SentAt.Ptr(),
	})
	if err != nil {
		return nil, nil, s.classify("appending message", err)
	}
	return conv, msg, nil
}

// GetConversation fetches a conversation with its full message log.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	id, err := ParseConversationID(conversationID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conv, err := s.store.GetConversationByID(ctx, id)
	if err != nil {
		return nil, s.classify("fetching conversation", err)
	}
	return conv, nil
}

// ListConversations returns conversations matching every set filter field,
// most recently active first. Filter identifiers use the general normalizer.
func (s *ConversationService) ListConversations(ctx context.Context, filter models.ListConversationsFilter) ([]models.Conversation, error) {
	verr := &ValidationError{}
	if err := structErrors(filter, verr); err != nil {
		return nil, err
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}

	params := store.ListConversationsParams{
		Product: identity.Normalize(filter.ProductID),
		Buyer:   identity.Normalize(filter.BuyerID),
		Seller:  identity.Normalize(filter.SellerID),
		Limit:   ClampLimit(filter.Limit),
		Offset:  filter.Offset,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	convs, err := s.store.ListConversations(ctx, params)
	if err != nil {
		return nil, s.classify("listing conversations", err)
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	return convs, nil
}

// Ping reports whether the backing store is reachable.
func (s *ConversationService) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return s.classify("pinging store", err)
	}
	return nil
}

// ParseConversationID parses a conversation id as issued by the store.
func ParseConversationID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}
	return id, nil
}

// ClampLimit applies the default and maximum page sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func (s *ConversationService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// classify maps store failures onto the service error taxonomy. Unclassified
// errors are flattened so store error types do not leak to callers.
func (s *ConversationService) classify(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrConversationNotFound
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		s.log.Warn("store unavailable", "op", op, "error", err)
		return fmt.Errorf("%s: %w", op, ErrStoreUnavailable)
	default:
		s.log.Error("store failure", "op", op, "error", err)
		return fmt.Errorf("failed %s: %v", op, err)
	}
}

func requireIdentifier(verr *ValidationError, field string, raw any) identity.Identifier {
	id := identity.Normalize(raw)
	if id.IsEmpty() {
		verr.add(field, "is required")
	}
	return id
}
