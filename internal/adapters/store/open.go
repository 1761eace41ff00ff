package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/xerrors"
)

const (
	DriverSQLite    = "sqlite"
	DriverTimescale = "timescale"
)

// Open connects to the configured backend, waits for it to answer a ping and
// applies the schema. Connection attempts back off exponentially for at most
// maxWait.
func Open(ctx context.Context, driver, dsn, table string, maxWait time.Duration) (*SQLStore, error) {
	var (
		s   *SQLStore
		err error
	)
	switch driver {
	case DriverSQLite, "":
		s, err = OpenSQLite(dsn, table)
	case DriverTimescale, "postgres":
		s, err = OpenTimescale(dsn, table)
	default:
		return nil, xerrors.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = maxWait
	err = backoff.Retry(func() error {
		return s.db.PingContext(ctx)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		_ = s.Close()
		return nil, xerrors.Errorf("ping %s: %w", s.Name(), err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
