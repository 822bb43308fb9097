package repository

// Schema definitions for the Kestrel audit database.
// Compatible with both SQLite and PostgreSQL.

// schemaEvaluations defines the evaluations table. Input, reasons and
// metadata are stored as JSON text.
const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    decision TEXT NOT NULL,
    label TEXT NOT NULL,
    anomaly_score REAL NOT NULL,
    model_flag INTEGER NOT NULL DEFAULT 0,
    threshold REAL NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    input TEXT NOT NULL,
    reasons TEXT NOT NULL,
    score_message TEXT NOT NULL,
    rule_message TEXT NOT NULL,
    error TEXT,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_session ON evaluations(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_evaluations_decision ON evaluations(decision);
`

// AllSchemas returns all schema definitions in order.
func AllSchemas() []string {
	return []string{
		schemaEvaluations,
	}
}
