package graph

// SQLite schema DDL constants

const schemaSnapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
    rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT UNIQUE NOT NULL,
    root TEXT NOT NULL,
    mode TEXT NOT NULL,
    fetched_at TEXT NOT NULL,
    entity_count INTEGER NOT NULL DEFAULT 0
)`

const schemaEntities = `
CREATE TABLE IF NOT EXISTS entities (
    snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    key TEXT NOT NULL,
    type TEXT NOT NULL,
    id TEXT NOT NULL,
    document TEXT NOT NULL,
    PRIMARY KEY (snapshot_id, position),
    UNIQUE(snapshot_id, key)
)`

// One row per relationship reference, dangling targets included.
const schemaLinks = `
CREATE TABLE IF NOT EXISTS links (
    snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
    source_key TEXT NOT NULL,
    target_key TEXT NOT NULL,
    name TEXT NOT NULL,
    UNIQUE(snapshot_id, source_key, target_key, name)
)`

// Index definitions
const indexSnapshotsFetchedAt = `CREATE INDEX IF NOT EXISTS idx_snapshots_fetched_at ON snapshots(fetched_at)`
const indexEntitiesType = `CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(snapshot_id, type)`
const indexLinksSource = `CREATE INDEX IF NOT EXISTS idx_links_source ON links(snapshot_id, source_key)`
const indexLinksTarget = `CREATE INDEX IF NOT EXISTS idx_links_target ON links(snapshot_id, target_key)`

// SQLite pragmas for optimal performance
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaSnapshots,
		schemaEntities,
		schemaLinks,
		indexSnapshotsFetchedAt,
		indexEntitiesType,
		indexLinksSource,
		indexLinksTarget,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
