// Package sqlite provides an on-device SQLite implementation of the paywall.Store interface.
// Each record field is one row of a key-value table; the schema is managed with goose.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage implements paywall.Store on a single SQLite file
type Storage struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite storage configuration
type Config struct {
	// Path is the database file; parent directories are created (required)
	Path string

	// RecordID selects the record this store reads and writes (default: "default")
	RecordID string

	// BusyTimeout is how long a writer waits for the file lock (default: 5s)
	BusyTimeout time.Duration
}

// New opens (or creates) the database at config.Path and applies pending migrations
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if config.RecordID == "" {
		config.RecordID = "default"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(config.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	dsn := config.Path + "?" + url.Values{
		"_pragma": []string{
			fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout.Milliseconds()),
			"journal_mode(WAL)",
			"synchronous(FULL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single writer: SQLite serializes writes anyway and this avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Storage{db: db, config: config}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Load implements paywall.Store. Missing rows read as the defaults.
func (s *Storage) Load(ctx context.Context) (paywall.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM kv WHERE record_id = ?`, s.config.RecordID)
	if err != nil {
		return paywall.Record{}, fmt.Errorf("load record: %w", err)
	}
	defer rows.Close()

	var rec paywall.Record
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return paywall.Record{}, fmt.Errorf("scan record field: %w", err)
		}
		switch paywall.Field(field) {
		case paywall.FieldConversionsUsed:
			used, err := strconv.Atoi(value)
			if err != nil {
				return paywall.Record{}, fmt.Errorf("invalid %s value %q: %w", field, value, err)
			}
			rec.ConversionsUsed = used
		case paywall.FieldIsPremium:
			rec.IsPremium = value == "1"
		}
	}
	if err := rows.Err(); err != nil {
		return paywall.Record{}, fmt.Errorf("iterate record: %w", err)
	}
	return rec, nil
}

// SaveConversionsUsed implements paywall.Store. A smaller value than the stored one is ignored.
func (s *Storage) SaveConversionsUsed(ctx context.Context, used int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (record_id, field, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (record_id, field) DO UPDATE SET
			value = CASE WHEN CAST(excluded.value AS INTEGER) > CAST(kv.value AS INTEGER)
				THEN excluded.value ELSE kv.value END,
			updated_at = excluded.updated_at`,
		s.config.RecordID, string(paywall.FieldConversionsUsed), strconv.Itoa(used), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("save conversions: %w", err)
	}
	return nil
}

// SavePremium implements paywall.Store. Once stored as premium the flag is never cleared.
func (s *Storage) SavePremium(ctx context.Context, premium bool) error {
	value := "0"
	if premium {
		value = "1"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (record_id, field, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (record_id, field) DO UPDATE SET
			value = CASE WHEN kv.value = '1' THEN '1' ELSE excluded.value END,
			updated_at = excluded.updated_at`,
		s.config.RecordID, string(paywall.FieldIsPremium), value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("save premium: %w", err)
	}
	return nil
}

// UpdatedAt returns when the record was last written, or the zero time if never
func (s *Storage) UpdatedAt(ctx context.Context) (time.Time, error) {
	var secs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM kv WHERE record_id = ?`, s.config.RecordID).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !secs.Valid) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read updated_at: %w", err)
	}
	return time.Unix(secs.Int64, 0).UTC(), nil
}

// Ping checks database connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
