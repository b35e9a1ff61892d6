package store

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    url                   TEXT NOT NULL UNIQUE,
    title                 TEXT NOT NULL,
    source                TEXT NOT NULL DEFAULT '',
    topics                TEXT NOT NULL DEFAULT '[]',
    published_at          DATETIME,
    scrape_status         TEXT NOT NULL DEFAULT 'pending',
    scraped_at            DATETIME,
    content               TEXT NOT NULL DEFAULT '',
    alerted_at            DATETIME,
    alert_claimed_at      DATETIME,
    included_in_digest_at DATETIME,
    created_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);
CREATE INDEX IF NOT EXISTS idx_items_published_at ON items(published_at);

CREATE TABLE IF NOT EXISTS analyses (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id         INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    provider        TEXT NOT NULL,
    model           TEXT NOT NULL,
    summary         TEXT,
    sentiment       TEXT NOT NULL CHECK (sentiment IN ('Bullish', 'Bearish', 'Neutral')),
    sentiment_score REAL NOT NULL CHECK (sentiment_score >= -1 AND sentiment_score <= 1),
    impact_score    REAL NOT NULL CHECK (impact_score >= 0 AND impact_score <= 1),
    confidence      REAL CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
    key_topics      TEXT NOT NULL DEFAULT '[]',
    raw_response    TEXT NOT NULL DEFAULT '',
    analyzed_at     DATETIME NOT NULL,
    UNIQUE(item_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_analyses_item ON analyses(item_id);

CREATE TABLE IF NOT EXISTS digests (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    digest_type   TEXT NOT NULL,
    scheduled_for DATETIME NOT NULL,
    sent_at       DATETIME NOT NULL,
    period_start  DATETIME NOT NULL,
    period_end    DATETIME NOT NULL,
    item_count    INTEGER NOT NULL DEFAULT 0,
    message_id    TEXT,
    UNIQUE(digest_type, scheduled_for)
);

CREATE INDEX IF NOT EXISTS idx_digests_type_sent ON digests(digest_type, sent_at);

CREATE TABLE IF NOT EXISTS digest_claims (
    digest_type   TEXT NOT NULL,
    scheduled_for DATETIME NOT NULL,
    claimed_at    DATETIME NOT NULL,
    PRIMARY KEY (digest_type, scheduled_for)
);

CREATE TABLE IF NOT EXISTS digest_items (
    digest_id INTEGER NOT NULL REFERENCES digests(id) ON DELETE CASCADE,
    item_id   INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    rank      INTEGER NOT NULL CHECK (rank >= 1),
    UNIQUE(digest_id, item_id)
);

CREATE TABLE IF NOT EXISTS processing_failures (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id          INTEGER REFERENCES items(id) ON DELETE SET NULL,
    error            TEXT NOT NULL,
    attempt_count    INTEGER NOT NULL DEFAULT 1,
    first_failure_at DATETIME NOT NULL,
    last_failure_at  DATETIME NOT NULL,
    resolved         BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_failures_item ON processing_failures(item_id, resolved);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
    id                    BIGSERIAL PRIMARY KEY,
    url                   TEXT NOT NULL UNIQUE,
    title                 TEXT NOT NULL,
    source                TEXT NOT NULL DEFAULT '',
    topics                TEXT NOT NULL DEFAULT '[]',
    published_at          TIMESTAMPTZ,
    scrape_status         TEXT NOT NULL DEFAULT 'pending',
    scraped_at            TIMESTAMPTZ,
    content               TEXT NOT NULL DEFAULT '',
    alerted_at            TIMESTAMPTZ,
    alert_claimed_at      TIMESTAMPTZ,
    included_in_digest_at TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);
CREATE INDEX IF NOT EXISTS idx_items_published_at ON items(published_at);

CREATE TABLE IF NOT EXISTS analyses (
    id              BIGSERIAL PRIMARY KEY,
    item_id         BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    provider        TEXT NOT NULL,
    model           TEXT NOT NULL,
    summary         TEXT,
    sentiment       TEXT NOT NULL CHECK (sentiment IN ('Bullish', 'Bearish', 'Neutral')),
    sentiment_score DOUBLE PRECISION NOT NULL CHECK (sentiment_score >= -1 AND sentiment_score <= 1),
    impact_score    DOUBLE PRECISION NOT NULL CHECK (impact_score >= 0 AND impact_score <= 1),
    confidence      DOUBLE PRECISION CHECK (confidence IS NULL OR (confidence >= 0 AND confidence <= 1)),
    key_topics      TEXT NOT NULL DEFAULT '[]',
    raw_response    TEXT NOT NULL DEFAULT '',
    analyzed_at     TIMESTAMPTZ NOT NULL,
    UNIQUE(item_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_analyses_item ON analyses(item_id);

CREATE TABLE IF NOT EXISTS digests (
    id            BIGSERIAL PRIMARY KEY,
    digest_type   TEXT NOT NULL,
    scheduled_for TIMESTAMPTZ NOT NULL,
    sent_at       TIMESTAMPTZ NOT NULL,
    period_start  TIMESTAMPTZ NOT NULL,
    period_end    TIMESTAMPTZ NOT NULL,
    item_count    INTEGER NOT NULL DEFAULT 0,
    message_id    TEXT,
    UNIQUE(digest_type, scheduled_for)
);

CREATE INDEX IF NOT EXISTS idx_digests_type_sent ON digests(digest_type, sent_at);

CREATE TABLE IF NOT EXISTS digest_claims (
    digest_type   TEXT NOT NULL,
    scheduled_for TIMESTAMPTZ NOT NULL,
    claimed_at    TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (digest_type, scheduled_for)
);

CREATE TABLE IF NOT EXISTS digest_items (
    digest_id BIGINT NOT NULL REFERENCES digests(id) ON DELETE CASCADE,
    item_id   BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    rank      INTEGER NOT NULL CHECK (rank >= 1),
    UNIQUE(digest_id, item_id)
);

CREATE TABLE IF NOT EXISTS processing_failures (
    id               BIGSERIAL PRIMARY KEY,
    item_id          BIGINT REFERENCES items(id) ON DELETE SET NULL,
    error            TEXT NOT NULL,
    attempt_count    INTEGER NOT NULL DEFAULT 1,
    first_failure_at TIMESTAMPTZ NOT NULL,
    last_failure_at  TIMESTAMPTZ NOT NULL,
    resolved         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_failures_item ON processing_failures(item_id, resolved);
`

func schemaFor(driver string) string {
	if driver == "postgres" {
		return postgresSchema
	}
	return sqliteSchema
}
