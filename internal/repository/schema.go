package repository

import "strings"

// Schema definitions for the Heron database.
// Compatible with both SQLite and PostgreSQL; {{serial}} expands to the
// driver's auto-increment primary key.

const schemaBanks = `
CREATE TABLE IF NOT EXISTS banks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_banks_active ON banks(is_active);
`

const schemaEntityRows = `
CREATE TABLE IF NOT EXISTS entity_rows (
    id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    bank_id TEXT NOT NULL,
    attributes TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (entity_type, id)
);

CREATE INDEX IF NOT EXISTS idx_entity_rows_bank ON entity_rows(entity_type, bank_id);
`

const schemaCriteria = `
CREATE TABLE IF NOT EXISTS criteria (
    criteria_key TEXT PRIMARY KEY,
    label TEXT NOT NULL,
    description TEXT,
    data_mapping TEXT NOT NULL,
    scoring_strategy TEXT NOT NULL,
    scoring_params TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id {{serial}},
    criteria_key TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    definition TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_criteria ON rules(criteria_key, is_active);
`

// schemaComparisons is the audit trail of successful comparisons.
const schemaComparisons = `
CREATE TABLE IF NOT EXISTS comparisons (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    request TEXT NOT NULL,
    result TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comparisons_created ON comparisons(created_at);
`

// AllSchemas returns all schema statements in order for driver.
func AllSchemas(driver string) []string {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	schemas := []string{
		schemaBanks,
		schemaEntityRows,
		schemaCriteria,
		schemaRules,
		schemaComparisons,
	}
	for i, s := range schemas {
		schemas[i] = strings.ReplaceAll(s, "{{serial}}", serial)
	}
	return schemas
}
