package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
        CREATE TABLE IF NOT EXISTS urls (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            short_code TEXT UNIQUE NOT NULL,
            original_url TEXT NOT NULL,
            custom_domain TEXT,
            created_at DATETIME NOT NULL,
            clicks INTEGER NOT NULL DEFAULT 0,
            last_clicked_at DATETIME,
            expires_at DATETIME,
            user_id TEXT
        );
        CREATE INDEX IF NOT EXISTS idx_urls_created_at ON urls(created_at);
        CREATE INDEX IF NOT EXISTS idx_urls_expires_at ON urls(expires_at);
        CREATE INDEX IF NOT EXISTS idx_urls_user_id ON urls(user_id);
    `,
	findByCode: `SELECT ` + columns + ` FROM urls WHERE short_code = ?`,
	insert:     `INSERT INTO urls (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	deleteCode: `DELETE FROM urls WHERE short_code = ?`,
	list:       `SELECT ` + columns + ` FROM urls ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
	count:      `SELECT COUNT(*) FROM urls`,
	increment:  `UPDATE urls SET clicks = clicks + 1, last_clicked_at = ? WHERE short_code = ?`,
	isDuplicate: func(err error) bool {
		var sqliteErr sqlite3.Error
		return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// NewSQLiteStore opens (and creates if needed) a SQLite database.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string, timeout time.Duration) (*SQLStore, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// One connection: every :memory: connection is its own database, and
	// SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, timeout, sqliteDialect)
}
