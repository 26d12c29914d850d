package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/root-talis/sqlstep/driver"
)

const listObjectsSQL = "SELECT type, name FROM sqlite_master " +
	"WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' " +
	"ORDER BY CASE type WHEN 'view' THEN 0 ELSE 1 END, name"

type sqliteDriver struct {
	*driver.SQLConn

	name  string
	owned *sql.DB
}

// NewDriver pins a connection from conn. The caller keeps ownership of
// conn; Close only releases the pinned connection.
func NewDriver(ctx context.Context, conn *sql.DB, name string) (driver.Driver, error) {
	return newDriver(ctx, conn, name)
}

func newDriver(ctx context.Context, conn *sql.DB, name string) (*sqliteDriver, error) {
	pinned, err := driver.NewSQLConn(ctx, conn)
	if err != nil {
		return nil, err
	}

	return &sqliteDriver{
		SQLConn: pinned,
		name:    name,
	}, nil
}

// Open connects to the database file named in dsn.
func Open(ctx context.Context, dsn string) (driver.Driver, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}

	drv, err := newDriver(ctx, conn, DatabaseNameFromDSN(dsn))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	drv.owned = conn

	return drv, nil
}

// DatabaseNameFromDSN returns the file path of a sqlite DSN, without the
// "file:" scheme and query parameters.
func DatabaseNameFromDSN(dsn string) string {
	name := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}

func (drv *sqliteDriver) DatabaseName() string {
	return drv.name
}

// CreateDatabase is a no-op: the database file exists once it is opened.
func (drv *sqliteDriver) CreateDatabase(context.Context) error {
	return nil
}

// DropDatabase removes every view and table, leaving an empty file.
func (drv *sqliteDriver) DropDatabase(ctx context.Context) error {
	objects, err := drv.listObjects(ctx)
	if err != nil {
		return err
	}

	var foreignKeys int
	if err := drv.QueryScalar(ctx, &foreignKeys, "PRAGMA foreign_keys"); err != nil {
		return errors.Wrap(err, "failed to read foreign_keys pragma")
	}
	if err := drv.Exec(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return errors.Wrap(err, "failed to disable foreign keys")
	}

	for _, object := range objects {
		stmt := "DROP " + strings.ToUpper(object.kind) + " IF EXISTS " + quoteIdentifier(object.name)
		if err := drv.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to drop %s %s", object.kind, object.name)
		}
	}

	if foreignKeys != 0 {
		if err := drv.Exec(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return errors.Wrap(err, "failed to enable foreign keys")
		}
	}

	return nil
}

func (drv *sqliteDriver) Close() error {
	err := drv.SQLConn.Close()
	if drv.owned != nil {
		if closeErr := drv.owned.Close(); err == nil {
			err = errors.Wrap(closeErr, "failed to close sqlite database")
		}
	}
	return err
}

type schemaObject struct {
	kind string
	name string
}

func (drv *sqliteDriver) listObjects(ctx context.Context) ([]schemaObject, error) {
	rows, err := drv.Conn().QueryContext(ctx, listObjectsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schema objects")
	}
	defer rows.Close()

	var objects []schemaObject
	for rows.Next() {
		var object schemaObject
		if err := rows.Scan(&object.kind, &object.name); err != nil {
			return nil, errors.Wrap(err, "failed to list schema objects")
		}
		objects = append(objects, object)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list schema objects")
	}

	return objects, nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
