// Package db is the kbuilder store: a sqlite file in the kernel tree
// holding settings such as the default toolchain, plus build history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	kerrors "github.com/bitswalk/kbuilder/src/common/errors"
	"github.com/bitswalk/kbuilder/src/common/logs"
	"github.com/bitswalk/kbuilder/src/common/paths"
	"github.com/bitswalk/kbuilder/src/kbuilder/db/migrations"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the db package and its migrations
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
		migrations.SetLogger(l)
	}
}

// Setting keys
const (
	// KeyDefaultToolchain remembers the toolchain used when none is given
	KeyDefaultToolchain = "default_toolchain"
)

// StoreDir is the per-kernel directory holding the store
const StoreDir = ".kbuilder"

// Database wraps the sqlite connection
type Database struct {
	db   *sql.DB
	path string
}

// Config holds the database configuration
type Config struct {
	// Path is the sqlite file; ":memory:" keeps everything in memory
	Path string
}

// DefaultConfig returns the store location for a kernel root
func DefaultConfig(kernelRoot string) Config {
	return Config{
		Path: filepath.Join(kernelRoot, StoreDir, "kbuilder.db"),
	}
}

// Open opens (creating when needed) the store and applies migrations
func Open(cfg Config) (*Database, error) {
	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		cfg.Path = paths.Expand(cfg.Path)
		if err := paths.EnsureDir(cfg.Path); err != nil {
			return nil, kerrors.ErrDatabaseQuery.WithMessagef("cannot create %s", filepath.Dir(cfg.Path)).WithCause(err)
		}
		dsn = "file:" + cfg.Path + "?_busy_timeout=5000&_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, kerrors.ErrDatabaseQuery.WithMessage("failed to open database").WithCause(err)
	}
	// one writer; also keeps a :memory: database on a single connection
	sqlDB.SetMaxOpenConns(1)

	if err := migrations.NewRunner(sqlDB).Run(); err != nil {
		sqlDB.Close()
		return nil, kerrors.ErrDatabaseQuery.WithMessage("failed to migrate database").WithCause(err)
	}

	log.Debug("Opened store", "path", cfg.Path)
	return &Database{db: sqlDB, path: cfg.Path}, nil
}

// DB returns the underlying connection
func (d *Database) DB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// Close closes the database
func (d *Database) Close() error {
	return d.db.Close()
}

// GetSetting returns the value stored under key, or ErrSettingNotFound
func (d *Database) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", kerrors.ErrSettingNotFound.WithMessagef("setting %q is not set", key)
	}
	if err != nil {
		return "", kerrors.ErrDatabaseQuery.WithCause(err)
	}
	return value, nil
}

// SetSetting stores or updates a setting value
func (d *Database) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return kerrors.ErrDatabaseQuery.WithMessagef("failed to store setting %q", key).WithCause(err)
	}
	return nil
}

// DeleteSetting removes key; a missing key is not an error
func (d *Database) DeleteSetting(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return kerrors.ErrDatabaseQuery.WithMessagef("failed to delete setting %q", key).WithCause(err)
	}
	return nil
}

// GetAllSettings returns every setting
func (d *Database) GetAllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, kerrors.ErrDatabaseQuery.WithCause(err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, kerrors.ErrDatabaseQuery.WithCause(err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return settings, nil
}
