package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create interactions",
		SQL: `
			CREATE TABLE interactions (
				id                TEXT PRIMARY KEY,
				message_id        TEXT NOT NULL DEFAULT '',
				channel_id        TEXT NOT NULL DEFAULT '',
				sender_email      TEXT NOT NULL,
				sender_name       TEXT NOT NULL DEFAULT '',
				subject           TEXT NOT NULL DEFAULT '',
				body              TEXT NOT NULL,
				received_at       TEXT NOT NULL,
				intent            TEXT NOT NULL,
				confidence        REAL NOT NULL DEFAULT 0,
				tier              TEXT NOT NULL,
				tier_used         TEXT NOT NULL,
				model_used        TEXT NOT NULL DEFAULT '',
				tool_calls        TEXT NOT NULL DEFAULT '[]',
				response          TEXT NOT NULL DEFAULT '',
				outcome           TEXT NOT NULL,
				escalation_reason TEXT NOT NULL DEFAULT '',
				tokens_input      INTEGER NOT NULL DEFAULT 0,
				tokens_output     INTEGER NOT NULL DEFAULT 0,
				cost_usd          REAL NOT NULL DEFAULT 0,
				latency_ms        INTEGER NOT NULL DEFAULT 0,
				created_at        TEXT NOT NULL
			);

			CREATE INDEX idx_interactions_created ON interactions (created_at);
			CREATE INDEX idx_interactions_intent ON interactions (intent);
			CREATE INDEX idx_interactions_outcome ON interactions (outcome);
			CREATE INDEX idx_interactions_sender ON interactions (sender_email);
		`,
	},
	{
		Version: 2,
		Name:    "create escalations",
		SQL: `
			CREATE TABLE escalations (
				id               TEXT PRIMARY KEY,
				interaction_id   TEXT NOT NULL,
				reason           TEXT NOT NULL,
				priority         TEXT NOT NULL DEFAULT 'medium',
				context          TEXT NOT NULL DEFAULT '{}',
				status           TEXT NOT NULL DEFAULT 'pending',
				assigned_to      TEXT NOT NULL DEFAULT '',
				resolution_notes TEXT NOT NULL DEFAULT '',
				resolved_at      TEXT,
				created_at       TEXT NOT NULL,
				updated_at       TEXT NOT NULL
			);

			CREATE UNIQUE INDEX idx_escalations_interaction ON escalations (interaction_id);
			CREATE INDEX idx_escalations_status ON escalations (status, created_at);
		`,
	},
	{
		Version: 3,
		Name:    "create response cache",
		SQL: `
			CREATE TABLE response_cache (
				query_hash  TEXT PRIMARY KEY,
				query_text  TEXT NOT NULL,
				response    TEXT NOT NULL,
				intent      TEXT NOT NULL,
				hit_count   INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL,
				expires_at  TEXT
			);

			CREATE INDEX idx_response_cache_expires ON response_cache (expires_at);
		`,
	},
	{
		Version: 4,
		Name:    "create knowledge base",
		SQL: `
			CREATE TABLE knowledge_base (
				id          TEXT PRIMARY KEY,
				title       TEXT NOT NULL DEFAULT '',
				content     TEXT NOT NULL,
				category    TEXT NOT NULL,
				metadata    TEXT,
				embedding   BLOB NOT NULL,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE INDEX idx_knowledge_category ON knowledge_base (category);
			CREATE INDEX idx_knowledge_title ON knowledge_base (category, title);
		`,
	},
	{
		Version: 5,
		Name:    "create spend ledger",
		SQL: `
			CREATE TABLE spend_ledger (
				day        TEXT PRIMARY KEY,
				spent_usd  REAL NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);
		`,
	},
}
