// Package db wraps the GORM handle used by the Graph Store and Stats
// Writer, the way the teacher's internal/db wraps *sql.DB.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB embeds *gorm.DB so callers can use it exactly like a gorm handle
// while still hanging connection-pool configuration off the wrapper.
type DB struct {
	*gorm.DB
}

// Driver selects which SQL dialect backs the handle.
type Driver string

const (
	DriverMySQL  Driver = "mysql"
	DriverSQLite Driver = "sqlite"
)

// Config mirrors the teacher's db.Config, with a Driver switch added so
// tests can run the same business logic against sqlite.
type Config struct {
	Driver   Driver
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	// DSN, if set, is used verbatim for sqlite (e.g. "file::memory:?cache=shared").
	DSN string
}

// New opens a connection and configures pooling the way the teacher's
// db.New does for MySQL; sqlite is capped at a single open connection
// since sqlite is single-writer regardless.
func New(cfg Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	default:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: underlying handle: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// sqlite is single-writer regardless of pool size; capping at one
		// connection avoids spurious "database is locked" errors under
		// concurrent access to the same in-memory handle.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)

		if err := sqlDB.Ping(); err != nil {
			return nil, fmt.Errorf("db: ping: %w", err)
		}
	}

	return &DB{gdb}, nil
}

// AutoMigrate creates/updates the write-side tables this process owns.
// The read-side tables (players, player_connections, player_seasonal_stats)
// are populated by the external ETL and are never migrated here.
func (d *DB) AutoMigrate(dst ...any) error {
	return d.DB.AutoMigrate(dst...)
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
