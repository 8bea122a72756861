package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("already exists")

	// ErrConflict is returned when a compare-and-swap update lost the race.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned when a status write would move a
	// request backwards along its lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

func Connect(dbURL string, logger *zap.Logger) (*sqlx.DB, error) {
	logger.Info("🔌 [DATABASE] Connecting",
		zap.Int("url_length", len(dbURL)),
		zap.String("url_prefix", dbURL[:min(30, len(dbURL))]+"..."))

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		logger.Error("❌ [DATABASE] sqlx.Connect failed", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		logger.Error("❌ [DATABASE] Ping failed", zap.Error(err))
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("✅ [DATABASE] Connection successful")
	return db, nil
}

func prepareGoose() error {
	goose.SetBaseFS(migrationsFS)
	return goose.SetDialect("postgres")
}

// Migrate applies every pending embedded migration.
func Migrate(db *sqlx.DB, logger *zap.Logger) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db.DB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("✓ [DATABASE] Migrations completed")
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(db *sqlx.DB) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.Down(db.DB, migrationsDir)
}

// MigrationStatus prints applied and pending migrations through goose's logger.
func MigrationStatus(db *sqlx.DB) error {
	if err := prepareGoose(); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return goose.Status(db.DB, migrationsDir)
}
