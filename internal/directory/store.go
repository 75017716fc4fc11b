// Package directory implements the Silo / Zone Directory component (§4.3):
// authoritative assignment of grid squares to action servers, player
// location tracking, and the periodic eviction of stale records. Persistence
// is gorm over a pure-Go SQLite driver with golang-migrate embedded
// migrations, SQLite-only, since the directory is a single-writer process.
package directory

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// StoreConfig configures the directory's backing database.
type StoreConfig struct {
	DSN      string
	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// OpenStore opens (creating if necessary) the SQLite database at cfg.DSN,
// applies pending migrations, and returns the ready-to-use *gorm.DB.
func OpenStore(cfg StoreConfig) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("directory: logger is required")
	}

	sqlDB, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("directory: failed to open sqlite: %w", err)
	}
	// SQLite supports only one writer at a time; the directory is a single
	// process anyway, so this just prevents GORM from pooling connections
	// that would serialize against each other regardless.
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger, cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("directory: failed to initialize gorm: %w", err)
	}

	if err := runMigrations(sqlDB, cfg.Logger); err != nil {
		return nil, fmt.Errorf("directory: migrations failed: %w", err)
	}

	return db, nil
}

// Ping verifies the database connection is alive, for the /healthz surface.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info("directory database migrations applied")
	return nil
}
