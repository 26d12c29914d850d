package main

import (
	"context"
	"os"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep"
	"github.com/root-talis/sqlstep/config"
	"github.com/root-talis/sqlstep/driver"
	"github.com/root-talis/sqlstep/driver/mysql"
	"github.com/root-talis/sqlstep/driver/sqlite"
	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/source/files"
)

// openEngine connects to the configured database and builds an engine
// over the project directory. The caller closes the returned driver.
func (a *app) openEngine(ctx context.Context) (*sqlstep.Engine, driver.Driver, error) {
	if err := a.config.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid configuration")
	}

	src, err := files.NewFilesSource(os.DirFS(a.config.Dir), a.config.Layout())
	if err != nil {
		return nil, nil, err
	}

	drv, err := a.connect(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := append(a.config.EngineOptions(),
		sqlstep.WithLogger(a.logger),
		sqlstep.WithProgress(a.printProgress),
	)

	return sqlstep.New(drv, src, opts...), drv, nil
}

// connect opens the driver, retrying with exponential backoff while the
// database is not reachable yet.
func (a *app) connect(ctx context.Context) (driver.Driver, error) {
	logger := a.logger.Session("connect", lager.Data{"driver": a.config.Driver})

	var drv driver.Driver
	operation := func() error {
		var err error
		drv, err = a.dial(ctx)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(a.config.ConnectRetries)),
		ctx,
	)

	notify := func(err error, wait time.Duration) {
		logger.Info("waiting-for-database", lager.Data{"error": err.Error(), "wait": wait.String()})
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		logger.Error("failed-to-connect", err)
		return nil, errors.Wrap(err, "failed to connect to the database")
	}

	logger.Debug("connected", lager.Data{"database": drv.DatabaseName()})

	return drv, nil
}

func (a *app) dial(ctx context.Context) (driver.Driver, error) {
	switch a.config.Driver {
	case config.DriverMySQL:
		if _, err := mysql.DatabaseNameFromDSN(a.config.DSN); err != nil {
			return nil, backoff.Permanent(err)
		}
		return mysql.Open(ctx, a.config.DSN)
	case config.DriverSQLite:
		return sqlite.Open(ctx, a.config.DSN)
	default:
		return nil, backoff.Permanent(errors.Errorf("unknown driver %q", a.config.Driver))
	}
}

func (a *app) printProgress(phase sqlstep.Phase, from, to migration.Version) {
	switch phase {
	case sqlstep.PhaseReset:
		a.printf("resetting database from version %d\n", from)
	default:
		a.printf("migrating from version %d to %d\n", from, to)
	}
}
