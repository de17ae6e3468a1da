package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"tradechat-backend/internal/store"
	"tradechat-backend/internal/store/storetest"
)

// Integration tests run only when TEST_DATABASE_URL points at a disposable database.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	s := NewPostgresStore(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Migrate(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE conversations`)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStore(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t).(*PostgresStore)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestPostgresStore_ExpiredContextIsUnavailable(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := s.Ping(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrUnavailable), "got %v", err)
}
