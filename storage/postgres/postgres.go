// Package postgres provides a PostgreSQL implementation of the paywall.Store interface.
// Upserts use GREATEST and OR so concurrent writers converge: the counter never moves
// backwards and premium is never cleared.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage implements paywall.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// RecordID selects the record this store reads and writes (default: "default")
	RecordID string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// SkipMigrations leaves schema management to the operator
	SkipMigrations bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		RecordID:        "default",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter and applies pending migrations
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.RecordID == "" {
		config.RecordID = "default"
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{
		pool:   pool,
		config: config,
	}

	if !config.SkipMigrations {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load implements paywall.Store. A missing row is a fresh install.
func (s *Storage) Load(ctx context.Context) (paywall.Record, error) {
	var rec paywall.Record
	err := s.pool.QueryRow(ctx,
		`SELECT conversions_used, is_premium FROM entitlement_records WHERE record_id = $1`,
		s.config.RecordID).Scan(&rec.ConversionsUsed, &rec.IsPremium)
	if errors.Is(err, pgx.ErrNoRows) {
		return paywall.Record{}, nil
	}
	if err != nil {
		return paywall.Record{}, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

// SaveConversionsUsed implements paywall.Store
func (s *Storage) SaveConversionsUsed(ctx context.Context, used int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlement_records (record_id, conversions_used, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (record_id) DO UPDATE SET
				conversions_used = GREATEST(entitlement_records.conversions_used, EXCLUDED.conversions_used),
				updated_at = NOW()`,
		s.config.RecordID, used)
	if err != nil {
		return fmt.Errorf("failed to save conversions: %w", err)
	}
	return nil
}

// SavePremium implements paywall.Store
func (s *Storage) SavePremium(ctx context.Context, premium bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entitlement_records (record_id, is_premium, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (record_id) DO UPDATE SET
				is_premium = entitlement_records.is_premium OR EXCLUDED.is_premium,
				updated_at = NOW()`,
		s.config.RecordID, premium)
	if err != nil {
		return fmt.Errorf("failed to save premium: %w", err)
	}
	return nil
}

// UpdatedAt returns when the record was last written, or the zero time if never
func (s *Storage) UpdatedAt(ctx context.Context) (time.Time, error) {
	var updated time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT updated_at FROM entitlement_records WHERE record_id = $1`,
		s.config.RecordID).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read updated_at: %w", err)
	}
	return updated.UTC(), nil
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
