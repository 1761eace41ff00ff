package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/xerrors"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:       "sqlite",
	bind:       func(int) string { return "?" },
	encodeTime: func(t time.Time) any { return t.UnixNano() },
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts INTEGER NOT NULL,
	port INTEGER NOT NULL,
	uplink INTEGER NOT NULL,
	downlink INTEGER NOT NULL,
	delta_up INTEGER NOT NULL,
	delta_down INTEGER NOT NULL,
	overflow INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (port, ts)
)`, table),
		}
	},
}

// SQLiteDSN turns a file path into a DSN with WAL journaling, a busy timeout
// and immediate write transactions, so concurrent ticks queue instead of
// failing with SQLITE_BUSY and readers never wait on writers.
func SQLiteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// NewSQLiteStore wraps an open SQLite handle.
func NewSQLiteStore(db *sql.DB, table string) (*SQLStore, error) {
	return newSQLStore(db, table, sqliteDialect)
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path, table string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, xerrors.Errorf("open sqlite %q: %w", path, err)
	}
	s, err := NewSQLiteStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}
