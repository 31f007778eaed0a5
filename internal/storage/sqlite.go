package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{name: "sqlite"}

// SQLiteStorage keeps claims in a local database file, shared by every
// process on the host that opens the same path. ":memory:" gives a private
// database, which the tests use.
type SQLiteStorage struct {
	*sqlStore
}

func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLiteStorage, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_time_format=sqlite"
	} else {
		dsn += "?_time_format=sqlite"
	}
	dsn += "&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if err := applyMigrations(db, "migrations/sqlite.sql"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Opened SQLite database", zap.String("path", path))

	return &SQLiteStorage{sqlStore: &sqlStore{db: db, dialect: sqliteDialect}}, nil
}
