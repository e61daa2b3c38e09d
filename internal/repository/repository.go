// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formflow/formflow/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and runs migrations.
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

	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// Migrate creates every table that is missing. It is idempotent.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveInstance inserts or replaces an instance.
func (r *SQLRepository) SaveInstance(ctx context.Context, inst *domain.Instance) error {
	if inst == nil || inst.ID == "" {
		return fmt.Errorf("%w: instance id is required", ErrInvalidInput)
	}

	settings, err := json.Marshal(inst.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	schema, _ := json.Marshal(inst.Schema)
	variations, _ := json.Marshal(inst.Variations)

	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	query := `
		INSERT INTO instances (
			id, name, slug, utility, settings, form_schema, variations, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			utility = excluded.utility,
			settings = excluded.settings,
			form_schema = excluded.form_schema,
			variations = excluded.variations,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		inst.ID, inst.Name, inst.Slug, inst.Utility,
		string(settings), string(schema), string(variations),
		boolToInt(inst.Active), inst.CreatedAt, inst.UpdatedAt,
	)
	return err
}

// GetInstance retrieves an instance by ID.
func (r *SQLRepository) GetInstance(ctx context.Context, instanceID string) (*domain.Instance, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instanceID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, slug, utility, settings, form_schema, variations, active, created_at, updated_at
		FROM instances
		WHERE id = ?
	`

	inst, err := scanInstance(r.db.QueryRowContext(ctx, r.rebind(query), instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return inst, err
}

// ListInstances returns every instance ordered by name.
func (r *SQLRepository) ListInstances(ctx context.Context) ([]*domain.Instance, error) {
	query := `
		SELECT id, name, slug, utility, settings, form_schema, variations, active, created_at, updated_at
		FROM instances
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*domain.Instance, error) {
	var inst domain.Instance
	var settings, schema, variations string
	var active int

	if err := row.Scan(
		&inst.ID, &inst.Name, &inst.Slug, &inst.Utility,
		&settings, &schema, &variations, &active,
		&inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return nil, err
	}

	inst.Active = active == 1
	if err := json.Unmarshal([]byte(settings), &inst.Settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings for %s: %w", inst.ID, err)
	}
	if err := json.Unmarshal([]byte(schema), &inst.Schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema for %s: %w", inst.ID, err)
	}
	if variations != "" {
		if err := json.Unmarshal([]byte(variations), &inst.Variations); err != nil {
			return nil, fmt.Errorf("failed to parse variations for %s: %w", inst.ID, err)
		}
	}

	return &inst, nil
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

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// inClause returns "?, ?, ?" for n placeholders.
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []domain.SubmissionStatus) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.Repository = (*SQLRepository)(nil)
