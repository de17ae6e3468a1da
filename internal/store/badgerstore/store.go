// Package badgerstore is an embedded store.Store backed by BadgerDB.
//
// Layout:
//
//	conv:{uuid}                              -> JSON conversation record
//	party:{len}:{product}{len}:{lo}{len}:{hi} -> conversation uuid
//
// The party index is keyed by the canonical buyer/seller pair, so the
// get-or-create transaction conflicts with any concurrent creator of the same
// pair in either role order.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"tradechat-backend/internal/models"
	"tradechat-backend/internal/store"
)

var _ store.Store = (*BadgerStore)(nil)

const (
	conversationPrefix = "conv:"
	partyPrefix        = "party:"

	// maxTxnAttempts bounds retries of a transaction that lost an optimistic conflict.
	maxTxnAttempts = 100
)

type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

// Open opens (or creates) a database under path. An empty path keeps
// everything in memory.
func Open(path string, logger *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", path, err)
	}
	return New(db, logger), nil
}

func New(db *badger.DB, logger *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: logger.With("component", "BadgerStore"), now: time.Now}
}

func conversationKey(id uuid.UUID) []byte {
	return []byte(conversationPrefix + id.String())
}

func partyIndexKey(key store.PartyKey) []byte {
	lo, hi := key.Canonical()
	var b strings.Builder
	b.WriteString(partyPrefix)
	for _, part := range []string{key.Product.Key(), lo.Key(), hi.Key()} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	return []byte(b.String())
}

func (s *BadgerStore) FindConversationByParties(ctx context.Context, key store.PartyKey) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("finding conversation by parties", err)
	}
	var conv *models.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getPartyIndex(txn, key)
		if err != nil {
			return err
		}
		conv, err = getConversation(txn, id)
		return err
	})
	if err != nil {
		return nil, s.wrapErr("finding conversation by parties", err)
	}
	return conv, nil
}

// GetOrCreateConversation reads the party index and writes both records in
// one transaction. A concurrent creator of the same key makes the commit fail
// with badger.ErrConflict and the retry observes the winner.
func (s *BadgerStore) GetOrCreateConversation(ctx context.Context, arg store.CreateConversationParams) (*models.Conversation, bool, error) {
	id := arg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var (
		conv    *models.Conversation
		created bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		conv, created = nil, false

		existing, err := getPartyIndex(txn, arg.Key())
		if err == nil {
			conv, err = getConversation(txn, existing)
			return err
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.now().UTC()
		record := &models.Conversation{
			ID:        id,
			Product:   arg.Product,
			Buyer:     arg.Buyer,
			Seller:    arg.Seller,
			Messages:  []models.Message{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := putConversation(txn, record); err != nil {
			return err
		}
		if err := txn.Set(partyIndexKey(arg.Key()), []byte(id.String())); err != nil {
			return err
		}
		conv, created = record, true
		return nil
	})
	if err != nil {
		return nil, false, s.wrapErr("creating conversation", err)
	}
	if created {
		s.log.Info("conversation created", "conversation_id", conv.ID, "product", arg.Product.Key())
	}
	return conv, created, nil
}

func (s *BadgerStore) GetConversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("fetching conversation", err)
	}
	var conv *models.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		conv, err = getConversation(txn, id)
		return err
	})
	if err != nil {
		return nil, s.wrapErr("fetching conversation", err)
	}
	return conv, nil
}

// AppendMessage rewrites the conversation record inside a read-write
// transaction. created_at is clamped to the previous message so the log stays
// non-decreasing when the wall clock steps back.
func (s *BadgerStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, arg store.AppendMessageParams) (*models.Conversation, *models.Message, error) {
	msgID := arg.ID
	if msgID == uuid.Nil {
		msgID = uuid.New()
	}

	var conv *models.Conversation
	err := s.update(ctx, func(txn *badger.Txn) error {
		var err error
		conv, err = getConversation(txn, conversationID)
		if err != nil {
			return err
		}

		at := s.now().UTC()
		if last := conv.LastMessage(); last != nil && at.Before(last.CreatedAt) {
			at = last.CreatedAt
		}
		conv.Messages = append(conv.Messages, models.Message{
			ID:           msgID,
			Sender:       arg.Sender,
			Text:         arg.Text,
			CreatedAt:    at,
			ClientSentAt: arg.ClientSentAt,
		})
		conv.UpdatedAt = at
		return putConversation(txn, conv)
	})
	if err != nil {
		return nil, nil, s.wrapErr("appending message", err)
	}
	s.log.Debug("message appended", "conversation_id", conversationID, "message_id", msgID, "count", len(conv.Messages))
	return conv, conv.LastMessage(), nil
}

// ListConversations scans every conversation record, newest activity first.
func (s *BadgerStore) ListConversations(ctx context.Context, arg store.ListConversationsParams) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("listing conversations", err)
	}

	var matched []models.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conversationPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var conv models.Conversation
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &conv)
			})
			if err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			if arg.Matches(&conv) {
				matched = append(matched, conv)
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.wrapErr("listing conversations", err)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	if arg.Offset >= len(matched) {
		return []models.Conversation{}, nil
	}
	end := len(matched)
	if arg.Limit > 0 && arg.Offset+arg.Limit < end {
		end = arg.Offset + arg.Limit
	}
	return matched[arg.Offset:end], nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("pinging database", err)
	}
	if s.db.IsClosed() {
		return unavailable("pinging database", badger.ErrDBClosed)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on optimistic conflicts.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt == maxTxnAttempts {
			return fmt.Errorf("gave up after %d conflicting attempts: %w", attempt, err)
		}
		s.log.Debug("transaction conflict, retrying", "attempt", attempt)
		time.Sleep(time.Duration(rand.IntN(attempt*100)+1) * time.Microsecond)
	}
}

func (s *BadgerStore) wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, badger.ErrDBClosed):
		s.log.Warn("database unavailable", "op", op, "error", err)
		return unavailable(op, err)
	default:
		s.log.Error("database error", "op", op, "error", err)
		return fmt.Errorf("badgerstore: %s: %w", op, err)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("badgerstore: %s: %w: %w", op, store.ErrUnavailable, err)
}

func getPartyIndex(txn *badger.Txn, key store.PartyKey) (uuid.UUID, error) {
	item, err := txn.Get(partyIndexKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return uuid.Nil, store.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = item.Value(func(value []byte) error {
		id, err = uuid.ParseBytes(value)
		return err
	})
	return id, err
}

func getConversation(txn *badger.Txn, id uuid.UUID) (*models.Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := item.Value(func(value []byte) error {
		return json.Unmarshal(value, &conv)
	}); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return &conv, nil
}

func putConversation(txn *badger.Txn, conv *models.Conversation) error {
	value, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
	}
	return txn.Set(conversationKey(conv.ID), value)
}
