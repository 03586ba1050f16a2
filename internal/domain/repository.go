// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// BankStore lists banks. An empty ids slice lists every active bank.
type BankStore interface {
	ListBanks(ctx context.Context, ids []string) ([]*Bank, error)
}

// EntityStore returns the offer rows of one entity type for a set of banks
// in a single batched query.
type EntityStore interface {
	ListRows(ctx context.Context, entityType string, bankIDs []string) ([]*EntityRow, error)
}

// CatalogRepository serves the active criteria and rules.
type CatalogRepository interface {
	ListActiveCriteria(ctx context.Context) ([]*Criterion, error)

	// ListActiveRules returns active rules for the given criteria ordered
	// by priority descending, then id descending.
	ListActiveRules(ctx context.Context, criteriaKeys []string) ([]*Rule, error)
}

// Repository is the full persistence layer.
type Repository interface {
	BankStore
	EntityStore
	CatalogRepository

	// Catalog administration
	SaveBank(ctx context.Context, bank *Bank) error
	SaveRow(ctx context.Context, row *EntityRow) error
	SaveCriterion(ctx context.Context, criterion *Criterion) error
	GetCriterion(ctx context.Context, key string) (*Criterion, error)
	SaveRule(ctx context.Context, rule *Rule) (int64, error)

	// Comparison audit trail
	SaveComparison(ctx context.Context, record *ComparisonRecord) error
	GetComparison(ctx context.Context, id string) (*ComparisonRecord, error)

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
	PostgresPassword string `json:"-" yaml:"postgresPassword"`
	PostgresDB       string `json:"postgresDb" yaml:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
