package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/xerrors"

	"github.com/ghalamif/proxyscope/internal/domain"
	"github.com/ghalamif/proxyscope/internal/ports"
)

const DefaultTable = "traffic_stats"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name       string
	bind       func(n int) string
	encodeTime func(time.Time) any
	schema     func(table string) []string
	// portLock, when set, is run first in every write transaction with the
	// port as its only argument. It serializes writers for one port across
	// processes. SQLite needs none: immediate transactions hold the
	// database write lock from BEGIN.
	portLock string
}

// SQLStore keeps traffic samples in a single append-only table keyed by
// (port, ts).
type SQLStore struct {
	db      *sql.DB
	table   string
	dialect dialect
	ownsDB  bool

	lastQuery   string
	insertQuery string
	recentQuery string
	deleteQuery string
}

func newSQLStore(db *sql.DB, table string, d dialect) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, xerrors.Errorf("invalid table name %q", table)
	}
	s := &SQLStore{db: db, table: table, dialect: d}
	cols := "ts, uplink, downlink, delta_up, delta_down, overflow"
	s.lastQuery = fmt.Sprintf("SELECT %s FROM %s WHERE port = %s ORDER BY ts DESC LIMIT 1", cols, table, d.bind(1))
	s.insertQuery = fmt.Sprintf("INSERT INTO %s (ts, port, uplink, downlink, delta_up, delta_down, overflow) VALUES (%s,%s,%s,%s,%s,%s,%s)",
		table, d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5), d.bind(6), d.bind(7))
	s.recentQuery = fmt.Sprintf("SELECT %s FROM %s WHERE port = %s ORDER BY ts DESC LIMIT %s", cols, table, d.bind(1), d.bind(2))
	s.deleteQuery = fmt.Sprintf("DELETE FROM %s WHERE port = %s", table, d.bind(1))
	return s, nil
}

func (s *SQLStore) Name() string { return s.dialect.name }

// Migrate creates the table and its index if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("migrate %s: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, port int, fn func(tx ports.SampleTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := s.lockPort(ctx, tx, port); err != nil {
		return err
	}
	if err := fn(&sqlTx{store: s, tx: tx, port: port}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("commit: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}
	return nil
}

func (s *SQLStore) Recent(ctx context.Context, port int, limit int) ([]domain.TrafficSample, error) {
	out := []domain.TrafficSample{}
	if limit <= 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, s.recentQuery, port, limit)
	if err != nil {
		return nil, xerrors.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sample, err := scanSample(rows, port)
		if err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Errorf("iterate recent: %w", err)
	}
	return out, nil
}

// DeleteByPort removes every sample of port. It is ordered against Update
// transactions on the same port, also across processes sharing the store.
func (s *SQLStore) DeleteByPort(ctx context.Context, port int) (n int64, err error) {
	if s.dialect.portLock == "" {
		res, err := s.db.ExecContext(ctx, s.deleteQuery, port)
		if err != nil {
			return 0, xerrors.Errorf("delete samples for port %d: %w", port, err)
		}
		return rowsAffected(res), nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, xerrors.Errorf("begin: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err := s.lockPort(ctx, tx, port); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, s.deleteQuery, port)
	if err != nil {
		return 0, xerrors.Errorf("delete samples for port %d: %w", port, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, xerrors.Errorf("commit: %w", errors.Join(domain.ErrStoreUnavailable, err))
	}
	return rowsAffected(res), nil
}

func (s *SQLStore) lockPort(ctx context.Context, tx *sql.Tx, port int) error {
	if s.dialect.portLock == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, s.dialect.portLock, port); err != nil {
		return xerrors.Errorf("lock port %d: %w", port, err)
	}
	return nil
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func (s *SQLStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
	port  int
}

func (t *sqlTx) Last(ctx context.Context) (domain.TrafficSample, bool, error) {
	row := t.tx.QueryRowContext(ctx, t.store.lastQuery, t.port)
	sample, err := scanSample(row, t.port)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TrafficSample{}, false, nil
	}
	if err != nil {
		return domain.TrafficSample{}, false, err
	}
	return sample, true, nil
}

func (t *sqlTx) Append(ctx context.Context, s domain.TrafficSample) error {
	if s.Port != t.port {
		return xerrors.Errorf("sample for port %d appended in transaction for port %d", s.Port, t.port)
	}
	_, err := t.tx.ExecContext(ctx, t.store.insertQuery,
		t.store.dialect.encodeTime(s.Timestamp),
		s.Port,
		int64(s.Uplink),
		int64(s.Downlink),
		int64(s.DeltaUp),
		int64(s.DeltaDown),
		s.Overflow,
	)
	if err != nil {
		return xerrors.Errorf("insert sample: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner, port int) (domain.TrafficSample, error) {
	var (
		ts                           any
		up, down, deltaUp, deltaDown int64
		overflow                     bool
	)
	if err := row.Scan(&ts, &up, &down, &deltaUp, &deltaDown, &overflow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TrafficSample{}, err
		}
		return domain.TrafficSample{}, xerrors.Errorf("scan sample: %w", err)
	}
	at, err := decodeTime(ts)
	if err != nil {
		return domain.TrafficSample{}, err
	}
	return domain.TrafficSample{
		Timestamp: at,
		Port:      port,
		Uplink:    uint64(up),
		Downlink:  uint64(down),
		DeltaUp:   uint64(deltaUp),
		DeltaDown: uint64(deltaDown),
		Overflow:  overflow,
	}, nil
}

func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case int64:
		return time.Unix(0, t).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	default:
		return time.Time{}, xerrors.Errorf("unexpected timestamp type %T", v)
	}
}

var _ ports.TrafficStore = (*SQLStore)(nil)
