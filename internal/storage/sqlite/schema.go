package sqlite

// Schema is the embedded DDL, applied create-if-absent on open.
//
// Entities are bucketed into three age-based partition tables; placement is
// decided by tableFor at insert time and re-evaluated by the maintenance
// pass, so the tables carry no date CHECK constraints. Relations reference
// entity names across partitions, so referential integrity is enforced at
// the application level rather than with foreign keys.
//
// Version tables are owned by the temporal engine: every mutation appends a
// row there from application code (no triggers), and the live tables are the
// "current" projection.
const Schema = `
CREATE TABLE IF NOT EXISTS knowledge_categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	priority INTEGER CHECK (priority >= 1 AND priority <= 5),
	retention_period INTEGER
);

CREATE TABLE IF NOT EXISTS entities_recent (
	name TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	observations TEXT,
	created_at TIMESTAMP NOT NULL,
	last_updated TIMESTAMP NOT NULL,
	confidence_score REAL DEFAULT 1.0 CHECK (confidence_score >= 0.0 AND confidence_score <= 1.0),
	context_source TEXT,
	metadata TEXT,
	category_id INTEGER REFERENCES knowledge_categories(id)
);

CREATE TABLE IF NOT EXISTS entities_intermediate (
	name TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	observations TEXT,
	created_at TIMESTAMP NOT NULL,
	last_updated TIMESTAMP NOT NULL,
	confidence_score REAL DEFAULT 1.0 CHECK (confidence_score >= 0.0 AND confidence_score <= 1.0),
	context_source TEXT,
	metadata TEXT,
	category_id INTEGER REFERENCES knowledge_categories(id)
);

CREATE TABLE IF NOT EXISTS entities_archive (
	name TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	observations TEXT,
	created_at TIMESTAMP NOT NULL,
	last_updated TIMESTAMP NOT NULL,
	confidence_score REAL DEFAULT 1.0 CHECK (confidence_score >= 0.0 AND confidence_score <= 1.0),
	context_source TEXT,
	metadata TEXT,
	category_id INTEGER REFERENCES knowledge_categories(id)
);

CREATE TABLE IF NOT EXISTS relations (
	from_entity TEXT NOT NULL,
	to_entity TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	valid_from TIMESTAMP NOT NULL,
	valid_until TIMESTAMP,
	confidence_score REAL DEFAULT 1.0 CHECK (confidence_score >= 0.0 AND confidence_score <= 1.0),
	context_source TEXT,
	PRIMARY KEY (from_entity, to_entity, relation_type)
);

CREATE TABLE IF NOT EXISTS entity_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	observations TEXT,
	confidence_score REAL,
	context_source TEXT,
	metadata TEXT,
	version_number INTEGER NOT NULL,
	valid_from TIMESTAMP NOT NULL,
	valid_until TIMESTAMP,
	change_type TEXT NOT NULL CHECK (change_type IN ('create', 'update', 'delete')),
	changed_by TEXT
);

CREATE TABLE IF NOT EXISTS relation_versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_entity TEXT NOT NULL,
	to_entity TEXT NOT NULL,
	relation_type TEXT NOT NULL,
	confidence_score REAL,
	context_source TEXT,
	version_number INTEGER NOT NULL,
	valid_from TIMESTAMP NOT NULL,
	valid_until TIMESTAMP,
	change_type TEXT NOT NULL CHECK (change_type IN ('create', 'update', 'delete')),
	changed_by TEXT
);

CREATE TABLE IF NOT EXISTS entity_stats (
	entity_type TEXT PRIMARY KEY,
	count INTEGER,
	avg_confidence REAL,
	oldest_entry TIMESTAMP,
	newest_entry TIMESTAMP,
	last_refreshed TIMESTAMP
);

CREATE TABLE IF NOT EXISTS relation_summary (
	relation_type TEXT PRIMARY KEY,
	count INTEGER,
	avg_confidence REAL,
	unique_sources INTEGER,
	unique_targets INTEGER,
	last_refreshed TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_recent_type ON entities_recent(entity_type);
CREATE INDEX IF NOT EXISTS idx_recent_created ON entities_recent(created_at);
CREATE INDEX IF NOT EXISTS idx_intermediate_type ON entities_intermediate(entity_type);
CREATE INDEX IF NOT EXISTS idx_intermediate_created ON entities_intermediate(created_at);
CREATE INDEX IF NOT EXISTS idx_archive_type ON entities_archive(entity_type);
CREATE INDEX IF NOT EXISTS idx_archive_created ON entities_archive(created_at);

CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity, relation_type);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_entity, relation_type);

CREATE INDEX IF NOT EXISTS idx_entity_versions_name ON entity_versions(entity_name, version_number);
CREATE INDEX IF NOT EXISTS idx_entity_versions_time ON entity_versions(valid_from, valid_until);
CREATE INDEX IF NOT EXISTS idx_relation_versions_key ON relation_versions(from_entity, to_entity, relation_type);
CREATE INDEX IF NOT EXISTS idx_relation_versions_time ON relation_versions(valid_from, valid_until);
`

// entityTables lists the partition tables in age order. Reads against "all
// entities" union across them; writes go to exactly one.
var entityTables = []string{"entities_recent", "entities_intermediate", "entities_archive"}

// entityColumns is the shared column list of the partition tables.
const entityColumns = "name, entity_type, observations, created_at, last_updated, confidence_score, context_source, metadata, category_id"

// allEntitiesQuery is the UNION ALL subquery spanning the three partitions.
const allEntitiesQuery = `
	SELECT ` + entityColumns + ` FROM entities_recent
	UNION ALL
	SELECT ` + entityColumns + ` FROM entities_intermediate
	UNION ALL
	SELECT ` + entityColumns + ` FROM entities_archive`
