package mysql

import (
	"context"
	"database/sql"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep/driver"
)

const (
	createSchemaSQL = "CREATE SCHEMA IF NOT EXISTS {db} DEFAULT CHARACTER SET utf8"
	useSchemaSQL    = "USE {db}"
	dropSchemaSQL   = "DROP DATABASE {db}"
)

var ErrNoDatabaseName = errors.New("mysql DSN does not name a database")

type DriverConfig struct {
	DatabaseName string
}

type mysqlDriver struct {
	*driver.SQLConn

	config DriverConfig
	owned  *sql.DB
}

// NewDriver pins a connection from conn. The caller keeps ownership of
// conn; Close only releases the pinned connection.
func NewDriver(ctx context.Context, conn *sql.DB, config DriverConfig) (driver.Driver, error) {
	return newDriver(ctx, conn, config)
}

func newDriver(ctx context.Context, conn *sql.DB, config DriverConfig) (*mysqlDriver, error) {
	if config.DatabaseName == "" {
		return nil, ErrNoDatabaseName
	}

	pinned, err := driver.NewSQLConn(ctx, conn)
	if err != nil {
		return nil, err
	}

	return &mysqlDriver{
		SQLConn: pinned,
		config:  config,
	}, nil
}

// Open connects to the database named in dsn. Multi-statement execution
// is switched on so that migration files can hold several statements.
func Open(ctx context.Context, dsn string) (driver.Driver, error) {
	name, err := DatabaseNameFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	dsn, err = WithMultiStatements(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open mysql connection")
	}

	drv, err := newDriver(ctx, conn, DriverConfig{DatabaseName: name})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	drv.owned = conn

	return drv, nil
}

// WithMultiStatements returns dsn with multiStatements=true.
func WithMultiStatements(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse mysql DSN")
	}
	cfg.MultiStatements = true

	return cfg.FormatDSN(), nil
}

// DatabaseNameFromDSN extracts the schema name from a go-sql-driver DSN.
func DatabaseNameFromDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse mysql DSN")
	}
	if cfg.DBName == "" {
		return "", ErrNoDatabaseName
	}
	return cfg.DBName, nil
}

// PrepareEnvironment creates the schema named in dsn through a
// server-level connection, so that a first connection to it can succeed.
func PrepareEnvironment(ctx context.Context, dsn string) error {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return errors.Wrap(err, "failed to parse mysql DSN")
	}
	if cfg.DBName == "" {
		return ErrNoDatabaseName
	}

	name := cfg.DBName
	cfg.DBName = ""

	conn, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return errors.Wrap(err, "failed to open mysql connection")
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, formatSQL(createSchemaSQL, name)); err != nil {
		return errors.Wrapf(err, "failed to create schema %s", name)
	}

	return nil
}

func (drv *mysqlDriver) DatabaseName() string {
	return drv.config.DatabaseName
}

func (drv *mysqlDriver) CreateDatabase(ctx context.Context) error {
	if err := drv.Exec(ctx, drv.formatSQL(createSchemaSQL)); err != nil {
		return errors.Wrapf(err, "failed to create schema %s", drv.config.DatabaseName)
	}
	if err := drv.Exec(ctx, drv.formatSQL(useSchemaSQL)); err != nil {
		return errors.Wrapf(err, "failed to switch to schema %s", drv.config.DatabaseName)
	}
	return nil
}

func (drv *mysqlDriver) DropDatabase(ctx context.Context) error {
	if err := drv.Exec(ctx, drv.formatSQL(dropSchemaSQL)); err != nil {
		return errors.Wrapf(err, "failed to drop schema %s", drv.config.DatabaseName)
	}
	return nil
}

func (drv *mysqlDriver) Close() error {
	err := drv.SQLConn.Close()
	if drv.owned != nil {
		if closeErr := drv.owned.Close(); err == nil {
			err = errors.Wrap(closeErr, "failed to close mysql connection")
		}
	}
	return err
}

func (drv *mysqlDriver) formatSQL(query string) string {
	return formatSQL(query, drv.config.DatabaseName)
}

func formatSQL(query string, databaseName string) string {
	return strings.ReplaceAll(query, "{db}", quoteIdentifier(databaseName))
}

// quoteIdentifier wraps name in backticks, doubling any backtick inside.
func quoteIdentifier(name string) string {
	const prealloc = 2
	dest := make([]rune, 0, len(name)+prealloc)

	dest = append(dest, '`')
	for _, character := range name {
		if character == '`' {
			dest = append(dest, '`')
		}
		dest = append(dest, character)
	}
	dest = append(dest, '`')

	return string(dest)
}
