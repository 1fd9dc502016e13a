// Package database manages the embedded SQLite connection for plexbridge.
// It uses the pure Go driver so the binary stays CGO-free.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/plexbridge/plexbridge/internal/models"
)

// DB wraps a GORM connection.
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// New opens the SQLite database at path and runs migrations. Pass
// ":memory:" for an ephemeral database in tests.
func New(path string, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(buildDSN(path)), &gorm.Config{
		Logger:                 newGormLogger(log),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", models.ErrStorage, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: getting underlying sql.DB: %v", models.ErrStorage, err)
	}

	// WAL allows concurrent readers while one writer holds the lock. Keep a
	// small pool so writers do not starve behind their own readers.
	sqlDB.SetMaxOpenConns(6)
	sqlDB.SetMaxIdleConns(3)
	sqlDB.SetConnMaxLifetime(time.Hour)

	wrapped := &DB{DB: db, logger: log}
	if err := wrapped.migrate(); err != nil {
		return nil, err
	}

	log.Info("database ready", slog.String("path", path))
	return wrapped, nil
}

// buildDSN appends the PRAGMA parameters the pure Go driver applies to
// every pooled connection.
func buildDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep +
		"_pragma=busy_timeout(30000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

func (db *DB) migrate() error {
	err := db.DB.AutoMigrate(
		&models.Channel{},
		&models.Stream{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgProgram{},
		&models.Setting{},
	)
	if err != nil {
		return fmt.Errorf("%w: running migrations: %v", models.ErrStorage, err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Transaction runs fn inside a transaction, rolling back on error.
func (db *DB) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return db.DB.WithContext(ctx).Transaction(fn)
}

// Stats reports connection pool statistics for the health endpoint.
func (db *DB) Stats() (map[string]any, error) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	s := sqlDB.Stats()
	return map[string]any{
		"open_connections": s.OpenConnections,
		"in_use":           s.InUse,
		"idle":             s.Idle,
		"wait_count":       s.WaitCount,
		"wait_duration":    s.WaitDuration.String(),
	}, nil
}

// slogGormLogger implements GORM's logger.Interface on top of slog. Normal
// queries log at debug, slow queries at warn, failures at error. Record
// misses are not failures.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

const (
	slowQueryThreshold = time.Second
	maxSQLLogLength    = 200
)

func newGormLogger(log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{logger: log, level: logger.Warn}
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{logger: l.logger, level: level}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	isError := err != nil && err != gorm.ErrRecordNotFound
	isSlow := elapsed > slowQueryThreshold
	if !isError && !isSlow && !l.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}

	sqlStr, rows := fc()
	if len(sqlStr) > maxSQLLogLength {
		sqlStr = sqlStr[:maxSQLLogLength] + "... (truncated)"
	}

	switch {
	case isError:
		l.logger.ErrorContext(ctx, "database error",
			slog.String("sql", sqlStr),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case isSlow:
		l.logger.WarnContext(ctx, "slow query",
			slog.String("sql", sqlStr),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	default:
		l.logger.DebugContext(ctx, "database query",
			slog.String("sql", sqlStr),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}
