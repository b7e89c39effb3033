package store

// recordSchema creates the relational tables backing RecordStore. It
// mirrors the integrity-first, WAL-mode setup of SQLiteBM25Index: a single
// writer connection, FTS5 for full-text search, and a schema_version table
// for future migrations.
const recordSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS sources (
	id        TEXT PRIMARY KEY,
	kind      TEXT NOT NULL,
	root      TEXT NOT NULL,
	enabled   INTEGER NOT NULL DEFAULT 1,
	last_sync INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS records (
	id            TEXT PRIMARY KEY,
	path          TEXT NOT NULL UNIQUE,
	source_id     TEXT NOT NULL,
	kind_variant  TEXT NOT NULL,
	kind_json     TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	embedding_id  TEXT NOT NULL DEFAULT '',
	favorite      INTEGER NOT NULL DEFAULT 0,
	size_bytes    INTEGER NOT NULL DEFAULT 0,
	content_hash  TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	modified_at   INTEGER NOT NULL,
	indexed_at    INTEGER NOT NULL,
	FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind_variant);
CREATE INDEX IF NOT EXISTS idx_records_modified ON records(modified_at);
CREATE INDEX IF NOT EXISTS idx_records_favorite ON records(favorite) WHERE favorite = 1;
CREATE INDEX IF NOT EXISTS idx_records_content_hash ON records(content_hash) WHERE content_hash != '';

CREATE TABLE IF NOT EXISTS tags (
	record_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	confidence INTEGER NOT NULL DEFAULT 100,
	PRIMARY KEY (record_id, name),
	FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_tags_name ON tags(name);

-- tag_counts is maintained transactionally alongside tag writes rather than
-- via SQL triggers, so that AddTag/RemoveTag/DeleteRecord stay a single
-- round trip through Go-side bookkeeping that is easy to unit test.
CREATE TABLE IF NOT EXISTS tag_counts (
	name  TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS vector_blobs (
	collection TEXT NOT NULL,
	handle     TEXT NOT NULL,
	record_id  TEXT NOT NULL,
	vector     BLOB NOT NULL,
	PRIMARY KEY (collection, handle)
);

CREATE INDEX IF NOT EXISTS idx_vector_blobs_record ON vector_blobs(record_id);

CREATE TABLE IF NOT EXISTS kv_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

-- records_fts is the denormalized search surface: title, description,
-- text preview, AI summary/caption, tag names, and path basename are
-- folded into one column at write time (see buildSearchContent).
CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
	record_id UNINDEXED,
	content,
	tokenize='unicode61'
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`
