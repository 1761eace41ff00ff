package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/xerrors"
)

var timescaleDialect = dialect{
	name:       "timescaledb",
	bind:       func(n int) string { return "$" + strconv.Itoa(n) },
	encodeTime: func(t time.Time) any { return t.UTC() },
	portLock:   "SELECT pg_advisory_xact_lock($1)",
	schema: func(table string) []string {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	ts TIMESTAMPTZ NOT NULL,
	port INTEGER NOT NULL,
	uplink BIGINT NOT NULL,
	downlink BIGINT NOT NULL,
	delta_up BIGINT NOT NULL,
	delta_down BIGINT NOT NULL,
	overflow BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (port, ts)
)`, table),
			// Plain Postgres works too; the hypertable is only created when
			// the extension is installed.
			fmt.Sprintf(`DO $$ BEGIN
	IF EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb') THEN
		PERFORM create_hypertable('%s', 'ts', if_not_exists => TRUE);
	END IF;
END $$`, table),
		}
	},
}

// NewTimescaleStore wraps an open Postgres/TimescaleDB handle.
func NewTimescaleStore(db *sql.DB, table string) (*SQLStore, error) {
	return newSQLStore(db, table, timescaleDialect)
}

func OpenTimescale(dsn, table string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Errorf("open postgres: %w", err)
	}
	s, err := NewTimescaleStore(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}
