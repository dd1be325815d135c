package db

// schema is applied by EnsureSchema. Every statement is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS normalized_transactions (
	account_address TEXT        NOT NULL,
	id              TEXT        NOT NULL,
	network         TEXT        NOT NULL,
	chain           TEXT        NOT NULL,
	slot            BIGINT      NOT NULL,
	block_time      TIMESTAMPTZ,
	status          TEXT        NOT NULL,
	type            TEXT        NOT NULL,
	from_movements  JSONB       NOT NULL DEFAULT '[]',
	to_movements    JSONB       NOT NULL DEFAULT '[]',
	fees            JSONB       NOT NULL DEFAULT '[]',
	events          JSONB       NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (account_address, id)
);

CREATE INDEX IF NOT EXISTS normalized_transactions_account_time_idx
	ON normalized_transactions (account_address, network, block_time DESC);
`
