package core

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type LogLevel int

const (
	LogLevelSilent LogLevel = iota + 1
	LogLevelError
	LogLevelWarn
	LogLevelInfo
)

// ParseLogLevel maps a config string to a LogLevel; unknown values are silent.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "error":
		return LogLevelError
	case "warn":
		return LogLevelWarn
	case "info":
		return LogLevelInfo
	}
	return LogLevelSilent
}

type DatabaseManager struct {
	DB       *gorm.DB
	LogLevel LogLevel
}

// New opens the authoritative MySQL store with a pool of maxConnection conns.
func New(dsn string, maxConnection int, level LogLevel) (*DatabaseManager, error) {
	dm, err := open(mysql.Open(dsn), level)
	if err != nil {
		return nil, err
	}

	sqlDB, err := dm.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxConnection)
	sqlDB.SetMaxIdleConns(maxConnection)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping pool: %w", err)
	}
	return dm, nil
}

// OpenSQLite opens a file-backed SQLite database. Used for device-local
// storage and tests. A single connection serialises writers so concurrent
// callers never see SQLITE_BUSY.
func OpenSQLite(path string, level LogLevel) (*DatabaseManager, error) {
	dm, err := open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), level)
	if err != nil {
		return nil, err
	}
	sqlDB, err := dm.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return dm, nil
}

func open(dialector gorm.Dialector, level LogLevel) (*DatabaseManager, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(level)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return &DatabaseManager{DB: db, LogLevel: level}, nil
}

// Map local LogLevel to GORM LogLevel
func gormLogLevel(level LogLevel) logger.LogLevel {
	switch level {
	case LogLevelError:
		return logger.Error
	case LogLevelWarn:
		return logger.Warn
	case LogLevelInfo:
		return logger.Info
	case LogLevelSilent:
		return logger.Silent
	default:
		return logger.Info
	}
}

func (dm *DatabaseManager) Migrate(models ...any) error {
	if err := dm.DB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Close closes the pool
func (dm *DatabaseManager) Close() error {
	sqlDB, err := dm.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (dm *DatabaseManager) Exec(ctx context.Context, fn func(db *gorm.DB) error) error {
	return fn(dm.DB.WithContext(ctx))
}
