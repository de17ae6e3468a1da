package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradechat-backend/internal/identity"
	"tradechat-backend/internal/models"
	"tradechat-backend/internal/store"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

// getOrCreateAttempts bounds the insert/select loop in GetOrCreateConversation.
const getOrCreateAttempts = 3

type PostgresStore struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: logger.With("component", "PostgresStore")}
}

const conversationColumns = `id, product_key, buyer_key, seller_key, messages, created_at, updated_at`

// --- Conversation Methods ---

const findConversationByParties = `-- name: FindConversationByParties :one
SELECT ` + conversationColumns + `
FROM conversations
WHERE product_key = $1
  AND ((buyer_key = $2 AND seller_key = $3) OR (buyer_key = $3 AND seller_key = $2))
ORDER BY created_at ASC
LIMIT 1;
`

// FindConversationByParties matches the buyer/seller pair in either role order.
// Returns store.ErrNotFound if no conversation exists.
func (s *PostgresStore) FindConversationByParties(ctx context.Context, key store.PartyKey) (*models.Conversation, error) {
	s.log.Debug("FindConversationByParties called", "product", key.Product.Key(), "buyer", key.Buyer.Key(), "seller", key.Seller.Key())
	row := s.db.QueryRow(ctx, findConversationByParties, key.Product.Key(), key.Buyer.Key(), key.Seller.Key())
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrapErr("finding conversation by parties", err)
	}
	return conv, nil
}

const insertConversation = `-- name: InsertConversation :one
INSERT INTO conversations (
    id, product_key, buyer_key, seller_key, party_lo, party_hi
) VALUES (
    $1, $2, $3, $4, $5, $6
)
ON CONFLICT (product_key, party_lo, party_hi) DO NOTHING
RETURNING ` + conversationColumns + `;
`

const getConversationByPartyKey = `-- name: GetConversationByPartyKey :one
SELECT ` + conversationColumns + `
FROM conversations
WHERE product_key = $1 AND party_lo = $2 AND party_hi = $3;
`

// GetOrCreateConversation relies on the unique (product_key, party_lo, party_hi)
// index: the insert is a no-op when the canonical key exists, and the follow-up
// select runs in a fresh snapshot that sees the winning row.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, arg store.CreateConversationParams) (*models.Conversation, bool, error) {
	id := arg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	lo, hi := arg.Key().Canonical()

	for attempt := 1; attempt <= getOrCreateAttempts; attempt++ {
		row := s.db.QueryRow(ctx, insertConversation,
			id,
			arg.Product.Key(),
			arg.Buyer.Key(),
			arg.Seller.Key(),
			lo.Key(),
			hi.Key(),
		)
		conv, err := scanConversation(row)
		if err == nil {
			s.log.Info("conversation created", "conversation_id", conv.ID, "product", arg.Product.Key())
			return conv, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, s.wrapErr("inserting conversation", err)
		}

		// Conflict: another caller owns the key.
		row = s.db.QueryRow(ctx, getConversationByPartyKey, arg.Product.Key(), lo.Key(), hi.Key())
		conv, err = scanConversation(row)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, s.wrapErr("fetching conflicting conversation", err)
		}
		s.log.Warn("conflicting conversation vanished, retrying insert", "attempt", attempt, "product", arg.Product.Key())
	}
	return nil, false, fmt.Errorf("database error creating conversation: gave up after %d attempts", getOrCreateAttempts)
}

const getConversationByID = `-- name: GetConversationByID :one
SELECT ` + conversationColumns + `
FROM conversations
WHERE id = $1;
`

func (s *PostgresStore) GetConversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRow(ctx, getConversationByID, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, s.wrapErr("fetching conversation", err)
	}
	return conv, nil
}

// appendMessage appends in one statement. The row lock taken by UPDATE
// serializes concurrent appends, and created_at is read from clock_timestamp()
// under that lock so it never decreases within a conversation.
const appendMessage = `-- name: AppendMessage :one
UPDATE conversations
SET messages = messages || jsonb_build_array(jsonb_build_object(
        'id', $2::text,
        'sender', $3::jsonb,
        'text', $4::text,
        'created_at', to_jsonb(clock_timestamp()),
        'client_sent_at', to_jsonb($5::timestamptz)
    )),
    updated_at = clock_timestamp()
WHERE id = $1
RETURNING ` + conversationColumns + `;
`

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, arg store.AppendMessageParams) (*models.Conversation, *models.Message, error) {
	msgID := arg.ID
	if msgID == uuid.Nil {
		msgID = uuid.New()
	}
	sender, err := json.Marshal(arg.Sender)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal sender: %w", err)
	}

	row := s.db.QueryRow(ctx, appendMessage,
		conversationID,
		msgID.String(),
		string(sender),
		arg.Text,
		arg.ClientSentAt, // nil becomes JSON null
	)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, s.wrapErr("appending message", err)
	}

	msg := conv.LastMessage()
	if msg == nil || msg.ID != msgID {
		return nil, nil, fmt.Errorf("database error appending message: appended message %s missing from result", msgID)
	}
	s.log.Debug("message appended", "conversation_id", conversationID, "message_id", msgID, "count", len(conv.Messages))
	return conv, msg, nil
}

// ListConversations builds the WHERE clause dynamically based on which filters are set.
func (s *PostgresStore) ListConversations(ctx context.Context, arg store.ListConversationsParams) ([]models.Conversation, error) {
	whereClauses := []string{}
	args := []interface{}{}
	argID := 1

	if !arg.Product.IsEmpty() {
		whereClauses = append(whereClauses, fmt.Sprintf("product_key = $%d", argID))
		args = append(args, arg.Product.Key())
		argID++
	}
	if !arg.Buyer.IsEmpty() {
		whereClauses = append(whereClauses, fmt.Sprintf("buyer_key = $%d", argID))
		args = append(args, arg.Buyer.Key())
		argID++
	}
	if !arg.Seller.IsEmpty() {
		whereClauses = append(whereClauses, fmt.Sprintf("seller_key = $%d", argID))
		args = append(args, arg.Seller.Key())
		argID++
	}

	where := ""
	if len(whereClauses) > 0 {
		where = "WHERE " + strings.Join(whereClauses, " AND ")
	}
	args = append(args, arg.Limit, arg.Offset)

	query := fmt.Sprintf(`-- name: ListConversations :many
		SELECT %s
		FROM conversations
		%s
		ORDER BY updated_at DESC, id
		LIMIT $%d OFFSET $%d;`,
		conversationColumns,
		where,
		argID,   // limit placeholder index
		argID+1, // offset placeholder index
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.wrapErr("querying conversations", err)
	}
	defer rows.Close()

	var items []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, s.wrapErr("scanning conversation row", err)
		}
		items = append(items, *conv)
	}
	if err = rows.Err(); err != nil {
		return nil, s.wrapErr("iterating conversation rows", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return s.wrapErr("pinging database", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// wrapErr tags connectivity and timeout failures with store.ErrUnavailable.
func (s *PostgresStore) wrapErr(op string, err error) error {
	var connectErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err) || errors.As(err, &connectErr) {
		s.log.Warn("database unavailable", "op", op, "error", err)
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.log.Error("postgres error", "op", op, "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
	} else {
		s.log.Error("database error", "op", op, "error", err)
	}
	return fmt.Errorf("database error %s: %w", op, err)
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var (
		conv                         models.Conversation
		productKey, buyerKey, seller string
		messages                     []byte
	)
	if err := row.Scan(
		&conv.ID,
		&productKey,
		&buyerKey,
		&seller,
		&messages,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if conv.Product, err = identity.ParseKey(productKey); err != nil {
		return nil, err
	}
	if conv.Buyer, err = identity.ParseKey(buyerKey); err != nil {
		return nil, err
	}
	if conv.Seller, err = identity.ParseKey(seller); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}
