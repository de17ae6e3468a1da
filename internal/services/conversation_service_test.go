package services

import (
	"context"
	"errors"
	"log/slog"
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
	"tradechat-backend/internal/store/badgerstore"
)

func newTestService(t *testing.T) *ConversationService {
	t.Helper()
	st, err := badgerstore.Open("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewConversationService(st, 5*time.Second, slog.Default())
}

func createReq(product, buyer, seller any) models.CreateConversationRequest {
	return models.CreateConversationRequest{ProductID: product, BuyerID: buyer, SellerID: seller}
}

func TestResolveConversation_Idempotent(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.ResolveConversation(ctx, createReq(101, "7", 7002))
	req.NoError(err)
	req.True(created)

	second, created, err := svc.ResolveConversation(ctx, createReq(101, "7", 7002))
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)
}

func TestResolveConversation_Bidirectional(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.ResolveConversation(ctx, createReq(101, "7", 7002))
	req.NoError(err)

	swapped, created, err := svc.ResolveConversation(ctx, createReq(101, 7002, 7))
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, swapped.ID)
	req.Equal(identity.Int(7), swapped.Buyer)
	req.Equal(identity.Int(7002), swapped.Seller)
}

func TestResolveConversation_ConcurrentCreatesOnce(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	const callers = 24

	type result struct {
		id      uuid.UUID
		created bool
		err     error
	}
	results := make(chan result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := createReq(8, "alice", "bob")
			if i%3 == 0 {
				r = createReq("8", "bob", "alice")
			}
			conv, created, err := svc.ResolveConversation(context.Background(), r)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{id: conv.ID, created: created}
		}(i)
	}
	wg.Wait()
	close(results)

	var ids []uuid.UUID
	createdCount := 0
	for r := range results {
		req.NoError(r.err)
		ids = append(ids, r.id)
		if r.created {
			createdCount++
		}
	}
	req.Len(ids, callers)
	req.Equal(1, createdCount)
	req.Len(lo.Uniq(ids), 1)
}

func TestResolveConversation_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		req    models.CreateConversationRequest
		fields []string
	}{
		{"missing everything", createReq(nil, nil, nil), []string{"product_id", "buyer_id", "seller_id"}},
		{"blank buyer", createReq(1, "  ", 2), []string{"buyer_id"}},
		{"same party", createReq(1, "7", 7), []string{"seller_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.ResolveConversation(ctx, tt.req)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.ElementsMatch(t, tt.fields, lo.Keys(verr.Fields))
		})
	}
}

func TestAppendMessage_ExampleScenario(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.ResolveConversation(ctx, createReq(101, "7", 7002))
	req.NoError(err)
	req.Equal(identity.Int(7), conv.Buyer)

	again, _, err := svc.ResolveConversation(ctx, createReq(101, 7002, 7))
	req.NoError(err)
	req.Equal(conv.ID, again.ID)

	updated, msg, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{
		SenderID: "7",
		Text:     "hello",
	})
	req.NoError(err)
	req.Equal(identity.Int(7), msg.Sender)
	req.Equal("hello", msg.Text)
	req.False(msg.CreatedAt.IsZero())
	req.Nil(msg.ClientSentAt)
	req.Len(updated.Messages, 1)
	req.Equal(*msg, updated.Messages[0])
}

func TestAppendMessage_PreservesOrder(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.ResolveConversation(ctx, createReq(5, 1, 2))
	req.NoError(err)

	for _, text := range []string{"m1", "m2", "m3"} {
		_, _, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{SenderID: 1, Text: text})
		req.NoError(err)
	}

	stored, err := svc.GetConversation(ctx, conv.ID.String())
	req.NoError(err)
	req.Equal([]string{"m1", "m2", "m3"}, lo.Map(stored.Messages, func(m models.Message, _ int) string { return m.Text }))
}

func TestAppendMessage_ConcurrentAppendsAreAtomic(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()
	const writers = 25

	conv, _, err := svc.ResolveConversation(ctx, createReq(5, 1, 2))
	req.NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{
				SenderID: 1 + i%2,
				Text:     uuid.NewString(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	stored, err := svc.GetConversation(ctx, conv.ID.String())
	req.NoError(err)
	req.Len(stored.Messages, writers)
	req.Len(lo.UniqBy(stored.Messages, func(m models.Message) string { return m.Text }), writers)
}

func TestAppendMessage_Errors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.ResolveConversation(ctx, createReq(5, 1, 2))
	require.NoError(t, err)

	t.Run("unknown id", func(t *testing.T) {
		_, _, err := svc.AppendMessage(ctx, uuid.NewString(), models.AppendMessageRequest{SenderID: 1, Text: "hi"})
		require.ErrorIs(t, err, ErrConversationNotFound)

		all, err := svc.ListConversations(ctx, models.ListConversationsFilter{})
		require.NoError(t, err)
		require.Len(t, all, 1)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, _, err := svc.AppendMessage(ctx, "nonexistent-id", models.AppendMessageRequest{SenderID: 1, Text: "hi"})
		require.ErrorIs(t, err, ErrInvalidIdentifier)
		require.NotErrorIs(t, err, ErrConversationNotFound)
	})

	t.Run("missing text", func(t *testing.T) {
		_, _, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{SenderID: 1})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Contains(t, verr.Fields, "text")
	})

	t.Run("missing sender", func(t *testing.T) {
		_, _, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{Text: "hi"})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Contains(t, verr.Fields, "sender_id")
	})

	t.Run("sender not participant", func(t *testing.T) {
		_, _, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{SenderID: 3, Text: "hi"})
		require.ErrorIs(t, err, ErrSenderNotParticipant)

		stored, err := svc.GetConversation(ctx, conv.ID.String())
		require.NoError(t, err)
		require.Empty(t, stored.Messages)
	})
}

func TestAppendMessage_KeepsClientTimestamp(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()

	conv, _, err := svc.ResolveConversation(ctx, createReq(5, 1, 2))
	req.NoError(err)

	sent := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, msg, err := svc.AppendMessage(ctx, conv.ID.String(), models.AppendMessageRequest{
		SenderID: 2,
		Text:     "late delivery",
		SentAt:   &models.ClientTime{Time: sent},
	})
	req.NoError(err)
	req.NotNil(msg.ClientSentAt)
	req.True(sent.Equal(*msg.ClientSentAt))
	req.True(msg.CreatedAt.After(sent))
}

func TestGetConversation_Errors(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetConversation(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, ErrConversationNotFound)

	_, err = svc.GetConversation(context.Background(), "42")
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestListConversations_Filters(t *testing.T) {
	req := require.New(t)
	svc := newTestService(t)
	ctx := context.Background()

	for _, r := range []models.CreateConversationRequest{
		createReq(1, 10, 20),
		createReq(1, 11, 20),
		createReq(2, 10, 21),
	} {
		_, _, err := svc.ResolveConversation(ctx, r)
		req.NoError(err)
	}

	all, err := svc.ListConversations(ctx, models.ListConversationsFilter{})
	req.NoError(err)
	req.Len(all, 3)

	byProduct, err := svc.ListConversations(ctx, models.ListConversationsFilter{ProductID: "1"})
	req.NoError(err)
	req.Len(byProduct, 2)

	byBoth, err := svc.ListConversations(ctx, models.ListConversationsFilter{BuyerID: 10, SellerID: "21"})
	req.NoError(err)
	req.Len(byBoth, 1)
	req.Equal(identity.Int(2), byBoth[0].Product)

	none, err := svc.ListConversations(ctx, models.ListConversationsFilter{SellerID: 99})
	req.NoError(err)
	req.NotNil(none)
	req.Empty(none)

	paged, err := svc.ListConversations(ctx, models.ListConversationsFilter{Limit: 2, Offset: 2})
	req.NoError(err)
	req.Len(paged, 1)

	_, err = svc.ListConversations(ctx, models.ListConversationsFilter{Offset: -1})
	req.ErrorIs(err, ErrValidation)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, ClampLimit(0))
	assert.Equal(t, DefaultListLimit, ClampLimit(-4))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxListLimit, ClampLimit(MaxListLimit+1))
}

// blockingStore never answers until the caller's context ends.
type blockingStore struct{}

var _ store.Store = blockingStore{}

func (blockingStore) FindConversationByParties(ctx context.Context, _ store.PartyKey) (*models.Conversation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) GetOrCreateConversation(ctx context.Context, _ store.CreateConversationParams) (*models.Conversation, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

func (blockingStore) GetConversationByID(ctx context.Context, _ uuid.UUID) (*models.Conversation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) AppendMessage(ctx context.Context, _ uuid.UUID, _ store.AppendMessageParams) (*models.Conversation, *models.Message, error) {
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (blockingStore) ListConversations(ctx context.Context, _ store.ListConversationsParams) ([]models.Conversation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Close() error { return nil }

// brokenStore fails every call with an opaque driver error.
type brokenStore struct{ blockingStore }

var errDriver = errors.New("driver: protocol violation")

func (brokenStore) GetConversationByID(context.Context, uuid.UUID) (*models.Conversation, error) {
	return nil, errDriver
}

func TestStoreTimeout_SurfacesAsUnavailable(t *testing.T) {
	svc := NewConversationService(blockingStore{}, 20*time.Millisecond, slog.Default())
	ctx := context.Background()

	start := time.Now()
	_, _, err := svc.ResolveConversation(ctx, createReq(1, 2, 3))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Less(t, time.Since(start), 2*time.Second)

	_, _, err = svc.AppendMessage(ctx, uuid.NewString(), models.AppendMessageRequest{SenderID: 2, Text: "hi"})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = svc.ListConversations(ctx, models.ListConversationsFilter{})
	require.ErrorIs(t, err, ErrStoreUnavailable)

	require.ErrorIs(t, svc.Ping(ctx), ErrStoreUnavailable)
}

func TestClassify_DoesNotLeakStoreErrors(t *testing.T) {
	svc := NewConversationService(brokenStore{}, time.Second, slog.Default())

	_, err := svc.GetConversation(context.Background(), uuid.NewString())
	require.Error(t, err)
	require.NotErrorIs(t, err, errDriver)
	require.NotErrorIs(t, err, ErrStoreUnavailable)
	require.NotErrorIs(t, err, ErrConversationNotFound)
}
