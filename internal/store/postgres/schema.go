package postgres

import (
	"context"
)

// schema is idempotent. party_lo/party_hi hold the buyer/seller keys in
// canonical order so the unique index covers both role orders.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id          UUID PRIMARY KEY,
    product_key TEXT NOT NULL,
    buyer_key   TEXT NOT NULL,
    seller_key  TEXT NOT NULL,
    party_lo    TEXT NOT NULL,
    party_hi    TEXT NOT NULL,
    messages    JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE UNIQUE INDEX IF NOT EXISTS conversations_party_key_idx
    ON conversations (product_key, party_lo, party_hi);

CREATE INDEX IF NOT EXISTS conversations_roles_idx
    ON conversations (product_key, buyer_key, seller_key);

CREATE INDEX IF NOT EXISTS conversations_updated_at_idx
    ON conversations (updated_at DESC);
`

// Migrate creates the conversations table and its indexes if they are missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return s.wrapErr("applying schema", err)
	}
	s.log.Info("schema applied")
	return nil
}
