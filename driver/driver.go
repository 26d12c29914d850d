package driver

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Driver is the database collaborator of the engine. Implementations
// issue dialect-specific SQL; every call blocks until the database
// answers.
type Driver interface {
	// Exec runs one or more statements.
	Exec(ctx context.Context, query string, args ...any) error

	// QueryScalar scans the first column of the first row into dest.
	// When the query yields no row the returned error satisfies
	// errors.Is(err, sql.ErrNoRows).
	QueryScalar(ctx context.Context, dest any, query string, args ...any) error

	CreateDatabase(ctx context.Context) error
	DropDatabase(ctx context.Context) error

	// DatabaseName identifies the database the driver is connected to.
	DatabaseName() string

	Close() error
}

var ErrInvalidLogTable = errors.New("an error has occurred when reading log table")

// SQLConn runs statements over a single pinned connection, so that
// session state such as the current schema survives between calls. A
// pinned connection does not look at the context before it is used, so
// SQLConn does.
type SQLConn struct {
	conn *sql.Conn
}

func NewSQLConn(ctx context.Context, db *sql.DB) (*SQLConn, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire a database connection")
	}

	return &SQLConn{conn: conn}, nil
}

func (c *SQLConn) Exec(ctx context.Context, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	if _, err := c.conn.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "failed to execute a query")
	}
	return nil
}

func (c *SQLConn) QueryScalar(ctx context.Context, dest any, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	err := c.conn.QueryRowContext(ctx, query, args...).Scan(dest)
	if err != nil {
		return errors.Wrap(err, "failed to execute a query")
	}
	return nil
}

func (c *SQLConn) Close() error {
	return errors.Wrap(c.conn.Close(), "failed to release the database connection")
}

// Conn exposes the pinned connection to dialects that need row sets.
func (c *SQLConn) Conn() *sql.Conn {
	return c.conn
}
