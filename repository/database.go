package repository

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultSQLitePath is used when no database URL is configured
const DefaultSQLitePath = "mockmate.db"

// OpenDatabase connects gorm to postgres for postgres:// URLs and to sqlite otherwise
func OpenDatabase(url, logLevel string, maxIdleConns, maxOpenConns int) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(parseLogLevel(logLevel)),
	}

	var dialector gorm.Dialector
	if IsPostgresURL(url) {
		dialector = postgres.Open(url)
	} else {
		path := url
		if path == "" {
			path = DefaultSQLitePath
		}
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if IsPostgresURL(url) {
		sqlDB.SetMaxIdleConns(maxIdleConns)
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY under concurrent transitions
		sqlDB.SetMaxOpenConns(1)
	}

	slog.Info("Connected to database", "driver", dialector.Name())
	return db, nil
}

// IsPostgresURL reports whether url selects the postgres driver
func IsPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}
