package repository

// Schema definitions for the Merlin database.
// Compatible with both SQLite and PostgreSQL.
//
// Timestamps are written as UTC time.Time values; derived calendar-date
// columns (occurred_on, business_date) are normalized to midnight UTC in
// Go so that date grouping works identically on both engines. Amounts are
// stored as exact decimal strings.

const schemaTerminalVersions = `
CREATE TABLE IF NOT EXISTS terminal_versions (
    terminal_id TEXT NOT NULL,
    terminal_type TEXT,
    city TEXT,
    address TEXT,
    effective_from TIMESTAMP NOT NULL,
    effective_to TIMESTAMP NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (terminal_id, effective_from)
);

CREATE INDEX IF NOT EXISTS idx_terminal_versions_open ON terminal_versions(terminal_id, effective_to);
`

const schemaReferenceDims = `
CREATE TABLE IF NOT EXISTS cards (
    card_num TEXT PRIMARY KEY,
    account_num TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
    account_num TEXT PRIMARY KEY,
    valid_to TIMESTAMP,
    client_id TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS clients (
    client_id TEXT PRIMARY KEY,
    last_name TEXT,
    first_name TEXT,
    patronymic TEXT,
    date_of_birth TIMESTAMP,
    passport_num TEXT,
    passport_valid_to TIMESTAMP,
    phone TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS passport_blacklist (
    passport_num TEXT NOT NULL,
    entry_dt TIMESTAMP NOT NULL,
    PRIMARY KEY (passport_num, entry_dt)
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    trans_id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    occurred_on TIMESTAMP NOT NULL,
    card_num TEXT NOT NULL,
    oper_type TEXT,
    amount TEXT NOT NULL,
    result TEXT NOT NULL,
    terminal_id TEXT,
    business_date TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_card_time ON transactions(card_num, occurred_at);
CREATE INDEX IF NOT EXISTS idx_transactions_occurred_on ON transactions(occurred_on);
`

const schemaFraudAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    event_at TIMESTAMP NOT NULL,
    business_date TIMESTAMP NOT NULL,
    passport TEXT,
    full_name TEXT,
    phone TEXT,
    rule_type TEXT NOT NULL,
    trans_id TEXT,
    report_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_date ON fraud_alerts(business_date);
CREATE INDEX IF NOT EXISTS idx_fraud_alerts_rule ON fraud_alerts(business_date, rule_type);
`

const schemaLedger = `
CREATE TABLE IF NOT EXISTS load_files (
    source TEXT NOT NULL,
    file_date TIMESTAMP NOT NULL,
    filename TEXT NOT NULL,
    processed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (source, filename)
);

CREATE INDEX IF NOT EXISTS idx_load_files_filename ON load_files(filename);

CREATE TABLE IF NOT EXISTS load_watermarks (
    source TEXT PRIMARY KEY,
    last_date TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTerminalVersions,
		schemaReferenceDims,
		schemaTransactions,
		schemaFraudAlerts,
		schemaLedger,
	}
}
