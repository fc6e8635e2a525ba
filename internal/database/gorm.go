package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// IsSQLiteURL reports whether databaseURL names a local SQLite file rather
// than a Postgres server.
func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "file:") ||
		strings.HasSuffix(databaseURL, ".db") ||
		databaseURL == ":memory:"
}

// OpenGorm opens the gorm-backed store, using SQLite for local files and
// Postgres otherwise.
func OpenGorm(databaseURL string, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if IsSQLiteURL(databaseURL) {
		dialector = sqlite.Open(databaseURL)
	} else {
		dialector = postgres.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialector.Name(), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dialector.Name() == "sqlite" {
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}
