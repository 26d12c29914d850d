// Package versionlog persists the schema version in a single-row log
// table and manages the lifecycle of that table.
package versionlog

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep/driver"
	"github.com/root-talis/sqlstep/migration"
)

const (
	DefaultTable         = "migrations_log"
	DefaultVersionColumn = "version"
	DefaultStatusColumn  = "status"
)

// Placeholders understood by FormatSQL.
const (
	PlaceholderDatabase      = "{db}"
	PlaceholderLogTable      = "{lt}"
	PlaceholderVersionColumn = "{lt_version}"
	PlaceholderStatusColumn  = "{lt_status}"
)

const (
	dropTableSQL   = "DROP TABLE IF EXISTS {lt}"
	createTableSQL = "CREATE TABLE IF NOT EXISTS {lt} ({lt_version} int, {lt_status} varchar(20))"
)

var (
	ErrNotVersioned = errors.New(
		"database does not have a migration version; run install or reset to create one")
	ErrOldSchema = errors.New(
		"migration log table has no status column; run install to upgrade it")
)

// Config names the log table and its columns.
type Config struct {
	Table         string
	VersionColumn string
	StatusColumn  string
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.VersionColumn == "" {
		c.VersionColumn = DefaultVersionColumn
	}
	if c.StatusColumn == "" {
		c.StatusColumn = DefaultStatusColumn
	}
	return c
}

// ---

type State int

const (
	// NotVersioned means the version column could not be read.
	NotVersioned State = iota
	// OldSchema means the version column is readable but the status column is not.
	OldSchema
	// Empty means the table exists and holds no row.
	Empty
	Versioned
)

func (s State) String() string {
	switch s {
	case NotVersioned:
		return "not versioned"
	case OldSchema:
		return "old schema"
	case Empty:
		return "empty"
	case Versioned:
		return "versioned"
	default:
		return "invalid"
	}
}

// Inspection is the outcome of reading the log table. Cause holds the
// database error behind NotVersioned and OldSchema.
type Inspection struct {
	State  State
	Record migration.Record
	Cause  error
}

// ---

// Store reads and writes the version record. Nothing is cached: every
// call goes to the database.
type Store struct {
	drv      driver.Driver
	config   Config
	replacer *strings.Replacer
}

func New(drv driver.Driver, config Config) *Store {
	config = config.withDefaults()

	return &Store{
		drv:    drv,
		config: config,
		replacer: strings.NewReplacer(
			PlaceholderDatabase, drv.DatabaseName(),
			PlaceholderLogTable, config.Table,
			PlaceholderVersionColumn, config.VersionColumn,
			PlaceholderStatusColumn, config.StatusColumn,
		),
	}
}

func (s *Store) Config() Config {
	return s.config
}

// FormatSQL substitutes the database, log table and column placeholders.
func (s *Store) FormatSQL(query string) string {
	return s.replacer.Replace(query)
}

// Inspect reads the log table and reports what it found.
func (s *Store) Inspect(ctx context.Context) (Inspection, error) {
	var version sql.NullInt64
	versionErr := s.scalar(ctx, &version, s.config.VersionColumn)
	if isContextError(versionErr) {
		return Inspection{}, versionErr
	}
	if versionErr != nil && !errors.Is(versionErr, sql.ErrNoRows) {
		return Inspection{State: NotVersioned, Cause: versionErr}, nil
	}

	var status sql.NullString
	statusErr := s.scalar(ctx, &status, s.config.StatusColumn)
	if isContextError(statusErr) {
		return Inspection{}, statusErr
	}
	if statusErr != nil && !errors.Is(statusErr, sql.ErrNoRows) {
		return Inspection{State: OldSchema, Cause: statusErr}, nil
	}

	if versionErr != nil {
		return Inspection{State: Empty}, nil
	}

	if version.Int64 < 0 {
		return Inspection{}, errors.Wrapf(driver.ErrInvalidLogTable, "negative version %d", version.Int64)
	}

	return Inspection{
		State: Versioned,
		Record: migration.Record{
			Version: migration.Version(version.Int64),
			Status:  migration.Status(status.String),
		},
	}, nil
}

// GetVersion returns the stored record. It fails with ErrNotVersioned
// when no version can be read, and with ErrOldSchema when the version is
// readable but the status is not.
func (s *Store) GetVersion(ctx context.Context) (migration.Record, error) {
	inspection, err := s.Inspect(ctx)
	if err != nil {
		return migration.Record{}, err
	}

	switch inspection.State {
	case Versioned:
		return inspection.Record, nil
	case OldSchema:
		return migration.Record{}, errors.Wrapf(ErrOldSchema, "%s: %v", s.config.Table, inspection.Cause)
	case Empty:
		return migration.Record{}, errors.Wrapf(ErrNotVersioned, "%s has no rows", s.config.Table)
	default:
		return migration.Record{}, errors.Wrapf(ErrNotVersioned, "%s: %v", s.config.Table, inspection.Cause)
	}
}

// SetVersion overwrites the single row of the log table.
func (s *Store) SetVersion(ctx context.Context, version migration.Version, status migration.Status) error {
	query, args, err := sq.Update(s.config.Table).
		Set(s.config.VersionColumn, int(version)).
		Set(s.config.StatusColumn, string(status)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build version update")
	}

	if err := s.drv.Exec(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to set version to %d (%s)", version, status)
	}

	return nil
}

// EnsureVersionRow inserts the bootstrap row (0, unknown) into an empty
// log table. It never inserts a second row.
func (s *Store) EnsureVersionRow(ctx context.Context) error {
	inspection, err := s.Inspect(ctx)
	if err != nil {
		return err
	}

	switch inspection.State {
	case Versioned:
		return nil
	case OldSchema:
		return errors.Wrapf(ErrOldSchema, "%s: %v", s.config.Table, inspection.Cause)
	case NotVersioned:
		return errors.Wrapf(ErrNotVersioned, "%s: %v", s.config.Table, inspection.Cause)
	}

	query, args, err := sq.Insert(s.config.Table).
		Columns(s.config.VersionColumn, s.config.StatusColumn).
		Values(0, string(migration.StatusUnknown)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build version insert")
	}

	if err := s.drv.Exec(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "failed to insert the initial version into %s", s.config.Table)
	}

	return nil
}

// CreateVersionTable drops and recreates the log table, then inserts the
// bootstrap row. Migration history is lost.
func (s *Store) CreateVersionTable(ctx context.Context) error {
	if err := s.drv.Exec(ctx, s.FormatSQL(dropTableSQL)); err != nil {
		return errors.Wrapf(err, "failed to drop %s", s.config.Table)
	}

	if err := s.drv.Exec(ctx, s.FormatSQL(createTableSQL)); err != nil {
		return errors.Wrapf(err, "failed to create %s", s.config.Table)
	}

	return s.EnsureVersionRow(ctx)
}

// RebuildVersionTable recreates the log table in the current format and
// restores the version it held, with status unknown. No migration is
// replayed.
func (s *Store) RebuildVersionTable(ctx context.Context) error {
	var version sql.NullInt64
	err := s.scalar(ctx, &version, s.config.VersionColumn)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(ErrNotVersioned, "%s: %v", s.config.Table, err)
	}

	if err := s.CreateVersionTable(ctx); err != nil {
		return err
	}

	return s.SetVersion(ctx, migration.Version(version.Int64), migration.StatusUnknown)
}

func (s *Store) scalar(ctx context.Context, dest any, column string) error {
	query, args, err := sq.Select(column).From(s.config.Table).Limit(1).ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build version query")
	}

	return s.drv.QueryScalar(ctx, dest, query, args...)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
