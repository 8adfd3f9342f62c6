package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// Config holds database configuration
type Config struct {
	Path  string // Path to SQLite database file
	Debug bool   // Log every statement
}

// DB wraps the GORM database instance
type DB struct {
	db *gorm.DB
}

// NewDB opens the session journal with the pure Go SQLite driver
func NewDB(config Config, log *zap.Logger) (*DB, error) {
	// Configure GORM logger
	var gormLog logger.Interface
	if log != nil {
		level := logger.Warn
		if config.Debug {
			level = logger.Info
		}
		gormLog = logger.New(
			zap.NewStdLog(log.Named("gorm")),
			logger.Config{
				LogLevel:                  level,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	if dir := filepath.Dir(config.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// Create dialector with pure Go SQLite driver
	dialector := sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        config.Path,
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", config.Path, err)
	}

	// Get underlying SQL DB for PRAGMA settings
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := configureSQLite(sqlDB); err != nil {
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	if err := db.AutoMigrate(&SessionRecord{}, &LinkEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if log != nil {
		log.Info("database initialized", zap.String("path", config.Path))
	}

	return &DB{db: db}, nil
}

// configureSQLite applies optimal SQLite settings
func configureSQLite(sqlDB *sql.DB) error {
	// The journal has a single writer
	sqlDB.SetMaxOpenConns(1)

	pragmaSettings := []string{
		"PRAGMA journal_mode=WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous=NORMAL", // Balanced safety/performance
		"PRAGMA busy_timeout=5000",  // 5 second timeout for busy database
		"PRAGMA temp_store=memory",  // Store temporary tables in memory
	}

	for _, pragma := range pragmaSettings {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}

	return nil
}

// GetDB returns the underlying GORM database instance
func (db *DB) GetDB() *gorm.DB {
	return db.db
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks if the database connection is healthy
func (db *DB) Health() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
