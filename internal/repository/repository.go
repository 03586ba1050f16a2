// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas(r.driver) {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBank inserts or updates a bank.
func (r *SQLRepository) SaveBank(ctx context.Context, bank *domain.Bank) error {
	if bank == nil || bank.ID == "" || bank.Name == "" {
		return fmt.Errorf("%w: bank id and name are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO banks (id, name, is_active, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		bank.ID, bank.Name, boolInt(bank.IsActive), time.Now().UTC(),
	)
	return err
}

// ListBanks returns the active banks among ids, or every active bank when
// ids is empty.
func (r *SQLRepository) ListBanks(ctx context.Context, ids []string) ([]*domain.Bank, error) {
	query := `SELECT id, name, is_active FROM banks WHERE is_active = 1`
	var args []any
	if len(ids) > 0 {
		in, inArgs := inClause(ids)
		query += ` AND id IN (` + in + `)`
		args = inArgs
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var banks []*domain.Bank
	for rows.Next() {
		var b domain.Bank
		var active int
		if err := rows.Scan(&b.ID, &b.Name, &active); err != nil {
			return nil, err
		}
		b.IsActive = active == 1
		banks = append(banks, &b)
	}

	return banks, rows.Err()
}

// SaveRow inserts or updates an entity row.
func (r *SQLRepository) SaveRow(ctx context.Context, row *domain.EntityRow) error {
	if row == nil || row.ID == "" || row.BankID == "" {
		return fmt.Errorf("%w: row id and bank id are required", ErrInvalidInput)
	}
	if !domain.IsKnownEntityType(row.EntityType) {
		return fmt.Errorf("%w: entity type %q", ErrInvalidInput, row.EntityType)
	}

	attributes, err := json.Marshal(row.Fields)
	if err != nil {
		return fmt.Errorf("%w: row attributes: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO entity_rows (id, entity_type, bank_id, attributes, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			bank_id = excluded.bank_id,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		row.ID, row.EntityType, row.BankID, string(attributes), time.Now().UTC(),
	)
	return err
}

// ListRows returns every row of entityType owned by one of bankIDs in a
// single query, ordered by bank then row id.
func (r *SQLRepository) ListRows(ctx context.Context, entityType string, bankIDs []string) ([]*domain.EntityRow, error) {
	if !domain.IsKnownEntityType(entityType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEntityType, entityType)
	}
	if len(bankIDs) == 0 {
		return nil, nil
	}

	in, inArgs := inClause(bankIDs)
	query := `
		SELECT id, entity_type, bank_id, attributes
		FROM entity_rows
		WHERE entity_type = ? AND bank_id IN (` + in + `)
		ORDER BY bank_id, id
	`
	args := append([]any{entityType}, inArgs...)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.EntityRow
	for rows.Next() {
		var row domain.EntityRow
		var attributes string
		if err := rows.Scan(&row.ID, &row.EntityType, &row.BankID, &attributes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attributes), &row.Fields); err != nil {
			return nil, fmt.Errorf("failed to parse attributes of row %s: %w", row.ID, err)
		}
		out = append(out, &row)
	}

	return out, rows.Err()
}

// SaveCriterion inserts or updates a criterion by key.
func (r *SQLRepository) SaveCriterion(ctx context.Context, c *domain.Criterion) error {
	if c == nil || c.Key == "" {
		return fmt.Errorf("%w: criterion key is required", ErrInvalidInput)
	}

	mapping, err := json.Marshal(c.DataMapping)
	if err != nil {
		return fmt.Errorf("%w: data mapping: %v", ErrInvalidInput, err)
	}
	params, err := json.Marshal(c.ScoringParams)
	if err != nil {
		return fmt.Errorf("%w: scoring params: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO criteria (
			criteria_key, label, description, data_mapping, scoring_strategy, scoring_params, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(criteria_key) DO UPDATE SET
			label = excluded.label,
			description = excluded.description,
			data_mapping = excluded.data_mapping,
			scoring_strategy = excluded.scoring_strategy,
			scoring_params = excluded.scoring_params,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.Key, c.Label, c.Description, string(mapping),
		c.ScoringStrategy, string(params), boolInt(c.IsActive),
		now, now,
	)
	return err
}

const criterionColumns = `criteria_key, label, description, data_mapping, scoring_strategy, scoring_params, is_active`

// GetCriterion retrieves a criterion by key, active or not.
func (r *SQLRepository) GetCriterion(ctx context.Context, key string) (*domain.Criterion, error) {
	query := `SELECT ` + criterionColumns + ` FROM criteria WHERE criteria_key = ?`

	c, err := scanCriterion(r.db.QueryRowContext(ctx, r.rebind(query), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListActiveCriteria retrieves every active criterion ordered by key.
func (r *SQLRepository) ListActiveCriteria(ctx context.Context) ([]*domain.Criterion, error) {
	query := `SELECT ` + criterionColumns + ` FROM criteria WHERE is_active = 1 ORDER BY criteria_key`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var criteria []*domain.Criterion
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, err
		}
		criteria = append(criteria, c)
	}

	return criteria, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCriterion(s scanner) (*domain.Criterion, error) {
	var c domain.Criterion
	var description, params sql.NullString
	var mapping string
	var active int

	if err := s.Scan(&c.Key, &c.Label, &description, &mapping, &c.ScoringStrategy, &params, &active); err != nil {
		return nil, err
	}

	c.Description = description.String
	c.IsActive = active == 1
	if err := json.Unmarshal([]byte(mapping), &c.DataMapping); err != nil {
		return nil, fmt.Errorf("failed to parse data mapping of %s: %w", c.Key, err)
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &c.ScoringParams); err != nil {
			return nil, fmt.Errorf("failed to parse scoring params of %s: %w", c.Key, err)
		}
	}
	return &c, nil
}

// SaveRule stores a rule and returns its id. A zero id inserts a new rule,
// any other id updates or creates that rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) (int64, error) {
	if rule == nil || rule.CriteriaKey == "" {
		return 0, fmt.Errorf("%w: rule criteria key is required", ErrInvalidInput)
	}

	definition, err := json.Marshal(rule.Definition)
	if err != nil {
		return 0, fmt.Errorf("%w: rule definition: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	if rule.ID == 0 {
		query := `
			INSERT INTO rules (criteria_key, priority, is_active, definition, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`
		var id int64
		err := r.db.QueryRowContext(ctx, r.rebind(query),
			rule.CriteriaKey, rule.Priority, boolInt(rule.IsActive), string(definition),
			rule.CreatedAt, now,
		).Scan(&id)
		return id, err
	}

	query := `
		INSERT INTO rules (id, criteria_key, priority, is_active, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			criteria_key = excluded.criteria_key,
			priority = excluded.priority,
			is_active = excluded.is_active,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.CriteriaKey, rule.Priority, boolInt(rule.IsActive), string(definition),
		rule.CreatedAt, now,
	)
	return rule.ID, err
}

// ListActiveRules retrieves the active rules of criteriaKeys ordered by
// priority, then id, both descending.
func (r *SQLRepository) ListActiveRules(ctx context.Context, criteriaKeys []string) ([]*domain.Rule, error) {
	if len(criteriaKeys) == 0 {
		return nil, nil
	}

	in, args := inClause(criteriaKeys)
	query := `
		SELECT id, criteria_key, priority, is_active, definition, created_at
		FROM rules
		WHERE is_active = 1 AND criteria_key IN (` + in + `)
		ORDER BY priority DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var definition string
		var active int

		if err := rows.Scan(&rule.ID, &rule.CriteriaKey, &rule.Priority, &active, &definition, &rule.CreatedAt); err != nil {
			return nil, err
		}

		rule.IsActive = active == 1
		if err := json.Unmarshal([]byte(definition), &rule.Definition); err != nil {
			return nil, fmt.Errorf("failed to parse definition of rule %d: %w", rule.ID, err)
		}
		out = append(out, &rule)
	}

	return out, rows.Err()
}

// SaveComparison stores a comparison audit record.
func (r *SQLRepository) SaveComparison(ctx context.Context, record *domain.ComparisonRecord) error {
	if record == nil || record.ID == "" || record.Result == nil {
		return fmt.Errorf("%w: comparison id and result are required", ErrInvalidInput)
	}

	request, err := json.Marshal(record.Request)
	if err != nil {
		return fmt.Errorf("failed to encode comparison request: %w", err)
	}
	result, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("failed to encode comparison result: %w", err)
	}

	query := `
		INSERT INTO comparisons (id, mode, request, result, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		record.ID, string(record.Result.Mode), string(request), string(result), record.CreatedAt,
	)
	return err
}

// GetComparison retrieves a comparison audit record by id.
func (r *SQLRepository) GetComparison(ctx context.Context, id string) (*domain.ComparisonRecord, error) {
	query := `SELECT id, request, result, created_at FROM comparisons WHERE id = ?`

	var record domain.ComparisonRecord
	var request, result string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&record.ID, &request, &result, &record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(request), &record.Request); err != nil {
		return nil, fmt.Errorf("failed to parse comparison request: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &record.Result); err != nil {
		return nil, fmt.Errorf("failed to parse comparison result: %w", err)
	}

	return &record, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inClause expands values into "?, ?, ..." and the matching arguments.
func inClause(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return strings.Join(marks, ", "), args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
