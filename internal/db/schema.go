package db

// SchemaVersion is the version the v1 DDL below leaves the database at.
const SchemaVersion = 1

// schemaV1 is the full initial schema: the migration ledger, the three row
// tables, their scoped indexes, and one touch trigger per row table.
//
// The triggers use millisecond strftime rather than CURRENT_TIMESTAMP so
// updated_at stays strictly monotonic for updates within the same second;
// direct SQL edits get the same treatment as API writes.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		description TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB,
		tags TEXT NOT NULL DEFAULT '[]',
		tier INTEGER CHECK(tier BETWEEN 1 AND 5),
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_tier ON rules(tier)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_created_at ON rules(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_updated_at ON rules(updated_at)`,

	`CREATE TABLE IF NOT EXISTS project_docs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		file_path TEXT,
		embedding BLOB,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_project_docs_project_id ON project_docs(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_project_docs_created_at ON project_docs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_project_docs_updated_at ON project_docs(updated_at)`,

	`CREATE TABLE IF NOT EXISTS refs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		channel_id TEXT,
		metadata TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_channel_id ON refs(channel_id)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_created_at ON refs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_refs_updated_at ON refs(updated_at)`,

	`CREATE TRIGGER IF NOT EXISTS rules_touch_updated_at
		AFTER UPDATE ON rules
		BEGIN
			UPDATE rules SET updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = NEW.id;
		END`,
	`CREATE TRIGGER IF NOT EXISTS project_docs_touch_updated_at
		AFTER UPDATE ON project_docs
		BEGIN
			UPDATE project_docs SET updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = NEW.id;
		END`,
	`CREATE TRIGGER IF NOT EXISTS refs_touch_updated_at
		AFTER UPDATE ON refs
		BEGIN
			UPDATE refs SET updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = NEW.id;
		END`,
}
