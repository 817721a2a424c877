package datastore

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/growlabs/bibscan-go/internal/errors"
	"github.com/growlabs/bibscan-go/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Package-level logger specific to the datastore service
var datastoreLogger *slog.Logger

func init() {
	var err error
	logFilePath := filepath.Join("logs", "datastore.log")

	datastoreLogger, _, err = logging.NewFileLogger(logFilePath, "datastore", slog.LevelInfo)
	if err != nil {
		log.Printf("Failed to initialize datastore file logger at %s: %v. Using default logger.", logFilePath, err)
		datastoreLogger = slog.Default().With("service", "datastore")
	}
}

// slowQueryThreshold is generous enough for automigration batch queries.
const slowQueryThreshold = 1 * time.Second

// GormLogger routes GORM's logging through the datastore slog logger.
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

func createGormLogger() gormlogger.Interface {
	return &GormLogger{
		SlowThreshold: slowQueryThreshold,
		LogLevel:      gormlogger.Warn,
	}
}

// LogMode implements gormlogger.Interface.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		datastoreLogger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		datastoreLogger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		datastoreLogger.ErrorContext(ctx, "GORM error", "msg", fmt.Sprintf(msg, data...))
	}
}

// Trace implements gormlogger.Interface.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		datastoreLogger.ErrorContext(ctx, "Database query failed",
			"error", err,
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		datastoreLogger.WarnContext(ctx, "Slow query detected",
			"sql", sql,
			"duration", elapsed,
			"threshold", l.SlowThreshold)
	}
}

// performAutoMigration migrates every model table and logs the outcome.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	start := time.Now()

	err := db.AutoMigrate(
		&Photo{},
		&Detection{},
		&Race{},
		&Runner{},
		&User{},
	)
	if err != nil {
		return errors.Newf("migrating %s database: %w", dbType, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}

	if debug {
		datastoreLogger.Debug("database migration completed",
			"db_type", dbType,
			"connection", connectionInfo,
			"duration", time.Since(start))
	}
	return nil
}
