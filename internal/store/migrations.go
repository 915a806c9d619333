package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1. The SQL is
// kept to the subset understood by both SQLite and PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL,
	provider        TEXT NOT NULL DEFAULT 'custom',
	imap_host       TEXT NOT NULL,
	imap_port       INTEGER NOT NULL,
	imap_secure     BOOLEAN NOT NULL DEFAULT TRUE,
	imap_starttls   BOOLEAN NOT NULL DEFAULT FALSE,
	imap_insecure   BOOLEAN NOT NULL DEFAULT FALSE,
	imap_username   TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'idle',
	last_sync_at    TIMESTAMP,
	sync_started_at TIMESTAMP,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	uid             BIGINT NOT NULL,
	sender          TEXT NOT NULL DEFAULT '',
	recipient       TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	date            TIMESTAMP NOT NULL,
	unread          BOOLEAN NOT NULL DEFAULT TRUE,
	flags           TEXT NOT NULL DEFAULT '[]',
	folder          TEXT NOT NULL DEFAULT 'INBOX',
	body            TEXT NOT NULL DEFAULT '',
	summary         TEXT,
	priority        TEXT,
	sentiment       TEXT,
	tags            TEXT,
	key_points      TEXT,
	action_required BOOLEAN,
	confidence      DOUBLE PRECISION,
	enriched_at     TIMESTAMP,
	created_at      TIMESTAMP NOT NULL,
	UNIQUE (account_id, uid)
);

CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_account_unread ON messages(account_id, unread);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS notification_configs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	platform   TEXT NOT NULL,
	webhook    TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	types      TEXT NOT NULL DEFAULT '[]',
	filters    TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS delivery_records (
	id        TEXT PRIMARY KEY,
	event_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	config_id TEXT NOT NULL,
	platform  TEXT NOT NULL,
	type      TEXT NOT NULL,
	title     TEXT NOT NULL DEFAULT '',
	content   TEXT NOT NULL DEFAULT '',
	success   BOOLEAN NOT NULL,
	error     TEXT NOT NULL DEFAULT '',
	metadata  TEXT NOT NULL DEFAULT '{}',
	sent_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notification_configs_user ON notification_configs(user_id, enabled);
CREATE INDEX IF NOT EXISTS idx_delivery_records_user ON delivery_records(user_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_delivery_records_event ON delivery_records(event_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
