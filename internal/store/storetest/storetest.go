// Package storetest holds behaviour checks shared by every store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechat-backend/internal/identity"
	"tradechat-backend/internal/models"
	"tradechat-backend/internal/store"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetOrCreateIsIdempotent", func(t *testing.T) { testGetOrCreateIdempotent(t, newStore(t)) })
	t.Run("GetOrCreateIsBidirectional", func(t *testing.T) { testGetOrCreateBidirectional(t, newStore(t)) })
	t.Run("GetOrCreateConcurrent", func(t *testing.T) { testGetOrCreateConcurrent(t, newStore(t)) })
	t.Run("ProductsAreSeparate", func(t *testing.T) { testProductsSeparate(t, newStore(t)) })
	t.Run("FindConversationByParties", func(t *testing.T) { testFindByParties(t, newStore(t)) })
	t.Run("GetConversationByIDNotFound", func(t *testing.T) { testGetByIDNotFound(t, newStore(t)) })
	t.Run("AppendMessageOrder", func(t *testing.T) { testAppendOrder(t, newStore(t)) })
	t.Run("AppendMessageConcurrent", func(t *testing.T) { testAppendConcurrent(t, newStore(t)) })
	t.Run("AppendMessageNotFound", func(t *testing.T) { testAppendNotFound(t, newStore(t)) })
	t.Run("ListConversations", func(t *testing.T) { testList(t, newStore(t)) })
}

func params(product, buyer, seller any) store.CreateConversationParams {
	return store.CreateConversationParams{
		Product: identity.Normalize(product),
		Buyer:   identity.Normalize(buyer),
		Seller:  identity.Normalize(seller),
	}
}

func testGetOrCreateIdempotent(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()

	first, created, err := s.GetOrCreateConversation(ctx, params(101, 7, 7002))
	r.NoError(err)
	r.True(created)
	r.NotEqual(uuid.Nil, first.ID)
	r.Empty(first.Messages)

	second, created, err := s.GetOrCreateConversation(ctx, params("101", "7", "7002"))
	r.NoError(err)
	r.False(created)
	r.Equal(first.ID, second.ID)
}

func testGetOrCreateBidirectional(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()

	first, created, err := s.GetOrCreateConversation(ctx, params(101, 7, 7002))
	r.NoError(err)
	r.True(created)

	swapped, created, err := s.GetOrCreateConversation(ctx, params(101, 7002, 7))
	r.NoError(err)
	r.False(created)
	r.Equal(first.ID, swapped.ID)

	// roles keep the values of the first creation
	r.Equal(identity.Int(7), swapped.Buyer)
	r.Equal(identity.Int(7002), swapped.Seller)
}

func testGetOrCreateConcurrent(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()
	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     []uuid.UUID
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := params(55, "buyer-a", "seller-b")
			if i%2 == 1 {
				p = params(55, "seller-b", "buyer-a")
			}
			conv, ok, err := s.GetOrCreateConversation(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids = append(ids, conv.ID)
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	r.Empty(errs)
	r.Len(ids, workers)
	r.Equal(1, created)
	r.Len(lo.Uniq(ids), 1)

	all, err := s.ListConversations(ctx, store.ListConversationsParams{Product: identity.Int(55), Limit: 100})
	r.NoError(err)
	r.Len(all, 1)
}

func testProductsSeparate(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()

	a, _, err := s.GetOrCreateConversation(ctx, params(1, 7, 8))
	r.NoError(err)
	b, created, err := s.GetOrCreateConversation(ctx, params(2, 7, 8))
	r.NoError(err)
	r.True(created)
	r.NotEqual(a.ID, b.ID)
}

func testFindByParties(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()

	_, err := s.FindConversationByParties(ctx, params(9, 1, 2).Key())
	r.ErrorIs(err, store.ErrNotFound)

	conv, _, err := s.GetOrCreateConversation(ctx, params(9, 1, 2))
	r.NoError(err)

	found, err := s.FindConversationByParties(ctx, params(9, 2, 1).Key())
	r.NoError(err)
	r.Equal(conv.ID, found.ID)

	byID, err := s.GetConversationByID(ctx, conv.ID)
	r.NoError(err)
	r.Equal(conv.ID, byID.ID)
	r.Equal(identity.Int(9), byID.Product)
}

func testGetByIDNotFound(t *testing.T, s store.Store) {
	_, err := s.GetConversationByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testAppendOrder(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()

	conv, _, err := s.GetOrCreateConversation(ctx, params(101, 7, 7002))
	r.NoError(err)

	sentAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	texts := []string{"hi", "is it available?", "yes"}
	senders := []identity.Identifier{identity.Int(7), identity.Int(7), identity.Int(7002)}
	for i, text := range texts {
		updated, msg, err := s.AppendMessage(ctx, conv.ID, store.AppendMessageParams{
			Sender:       senders[i],
			Text:         text,
			ClientSentAt: &sentAt,
		})
		r.NoError(err)
		r.Equal(text, msg.Text)
		r.True(senders[i].Equal(msg.Sender))
		r.NotEqual(uuid.Nil, msg.ID)
		r.Len(updated.Messages, i+1)
		r.Equal(msg.ID, updated.Messages[i].ID)
		r.NotNil(msg.ClientSentAt)
		r.True(sentAt.Equal(*msg.ClientSentAt))
	}

	stored, err := s.GetConversationByID(ctx, conv.ID)
	r.NoError(err)
	r.Equal(texts, lo.Map(stored.Messages, func(m models.Message, _ int) string { return m.Text }))
	assertNonDecreasing(t, stored.Messages)
	r.False(stored.UpdatedAt.Before(stored.CreatedAt))
}

func testAppendConcurrent(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()
	const writers = 20

	conv, _, err := s.GetOrCreateConversation(ctx, params(77, "b", "s"))
	r.NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := identity.Normalize("b")
			if i%2 == 1 {
				sender = identity.Normalize("s")
			}
			_, _, err := s.AppendMessage(ctx, conv.ID, store.AppendMessageParams{
				Sender: sender,
				Text:   fmt.Sprintf("message %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		r.NoError(err)
	}

	stored, err := s.GetConversationByID(ctx, conv.ID)
	r.NoError(err)
	r.Len(stored.Messages, writers)

	texts := lo.Map(stored.Messages, func(m models.Message, _ int) string { return m.Text })
	for i := 0; i < writers; i++ {
		r.Contains(texts, fmt.Sprintf("message %d", i))
	}
	r.Len(lo.Uniq(lo.Map(stored.Messages, func(m models.Message, _ int) uuid.UUID { return m.ID })), writers)
	assertNonDecreasing(t, stored.Messages)
}

func testAppendNotFound(t *testing.T, s store.Store) {
	_, _, err := s.AppendMessage(context.Background(), uuid.New(), store.AppendMessageParams{
		Sender: identity.Int(1),
		Text:   "hello?",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testList(t *testing.T, s store.Store) {
	r := require.New(t)
	ctx := context.Background()

	for product := 1; product <= 3; product++ {
		_, _, err := s.GetOrCreateConversation(ctx, params(product, 10, 20))
		r.NoError(err)
	}
	_, _, err := s.GetOrCreateConversation(ctx, params(1, 11, 20))
	r.NoError(err)

	all, err := s.ListConversations(ctx, store.ListConversationsParams{Limit: 100})
	r.NoError(err)
	r.Len(all, 4)

	byProduct, err := s.ListConversations(ctx, store.ListConversationsParams{Product: identity.Int(1), Limit: 100})
	r.NoError(err)
	r.Len(byProduct, 2)

	byBuyer, err := s.ListConversations(ctx, store.ListConversationsParams{Buyer: identity.Int(11), Limit: 100})
	r.NoError(err)
	r.Len(byBuyer, 1)
	r.Equal(identity.Int(1), byBuyer[0].Product)

	bySeller, err := s.ListConversations(ctx, store.ListConversationsParams{Seller: identity.Normalize("20"), Limit: 100})
	r.NoError(err)
	r.Len(bySeller, 4)

	page1, err := s.ListConversations(ctx, store.ListConversationsParams{Limit: 3})
	r.NoError(err)
	r.Len(page1, 3)
	page2, err := s.ListConversations(ctx, store.ListConversationsParams{Limit: 3, Offset: 3})
	r.NoError(err)
	r.Len(page2, 1)

	seen := lo.Map(append(page1, page2...), func(c models.Conversation, _ int) uuid.UUID { return c.ID })
	r.Len(lo.Uniq(seen), 4)

	none, err := s.ListConversations(ctx, store.ListConversationsParams{Product: identity.Int(999), Limit: 10})
	r.NoError(err)
	r.Empty(none)
}

func assertNonDecreasing(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"message %d created_at %s precedes %s", i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
	}
}
