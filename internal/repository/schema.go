package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaEntities = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    country TEXT NOT NULL,
    suspicious INTEGER NOT NULL DEFAULT 0,
    cluster_id TEXT,
    risk_score REAL NOT NULL DEFAULT 0,
    attributions TEXT
);

CREATE INDEX IF NOT EXISTS idx_entities_cluster ON entities(cluster_id);
CREATE INDEX IF NOT EXISTS idx_entities_score ON entities(risk_score);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    dest_id TEXT NOT NULL,
    amount REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    channel TEXT NOT NULL,
    country TEXT NOT NULL,
    risk_flags TEXT,
    suspicious INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(source_id);
CREATE INDEX IF NOT EXISTS idx_transactions_dest ON transactions(dest_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaClusters = `
CREATE TABLE IF NOT EXISTS clusters (
    id TEXT PRIMARY KEY,
    entity_ids TEXT NOT NULL,
    size INTEGER NOT NULL,
    score REAL NOT NULL,
    typology TEXT NOT NULL
);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    cluster_id TEXT,
    score REAL NOT NULL,
    narrative TEXT NOT NULL,
    attributions TEXT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_entity ON alerts(entity_id);
CREATE INDEX IF NOT EXISTS idx_alerts_score ON alerts(score);
`

const schemaModelRuns = `
CREATE TABLE IF NOT EXISTS model_runs (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    metrics TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_runs_active ON model_runs(active);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEntities,
		schemaTransactions,
		schemaClusters,
		schemaAlerts,
		schemaModelRuns,
	}
}
