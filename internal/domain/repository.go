// Package domain defines the core interfaces and types for Merlin.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. One snapshot
// application, one fact append and one alert rebuild are each atomic
// relative to readers; cross-call serialization is the caller's job.
type Repository interface {
	// Terminal dimension history (SCD2).
	OpenTerminalVersions(ctx context.Context) ([]*TerminalVersion, error)
	ApplyTerminalChanges(ctx context.Context, change TerminalChangeSet) error
	TerminalVersionAt(ctx context.Context, terminalID string, at time.Time) (*TerminalVersion, error)
	TerminalHistories(ctx context.Context, terminalIDs []string) (map[string][]*TerminalVersion, error)

	// Reference dimensions (SCD1: insert-if-absent, update-if-changed).
	UpsertCards(ctx context.Context, cards []*Card) error
	UpsertAccounts(ctx context.Context, accounts []*Account) error
	UpsertClients(ctx context.Context, clients []*Client) error
	CardContext(ctx context.Context, cardNum string) (*ClientContext, error)

	// Passport blacklist.
	MergeBlacklist(ctx context.Context, entries []*BlacklistEntry) error
	BlacklistEarliest(ctx context.Context, passports []string) (map[string]time.Time, error)

	// Transaction facts. InsertTransactions skips already-known ids and
	// returns the number of rows actually inserted.
	InsertTransactions(ctx context.Context, txs []*Transaction) (int, error)
	TransactionsBetween(ctx context.Context, from, to time.Time) ([]*Transaction, error)
	TransactionDates(ctx context.Context) ([]time.Time, error)

	// Fraud alerts. ReplaceDayAlerts deletes the day's rows and inserts
	// the new set in one transaction.
	ReplaceDayAlerts(ctx context.Context, day time.Time, alerts []*FraudAlert) error
	AlertsForDay(ctx context.Context, day time.Time) ([]*FraudAlert, error)
	AlertDates(ctx context.Context) ([]time.Time, error)

	// Processing ledger.
	FileProcessed(ctx context.Context, filename string) (bool, error)
	MarkFileProcessed(ctx context.Context, source string, fileDate time.Time, filename string) error
	LastFileDate(ctx context.Context, source string) (*time.Time, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
