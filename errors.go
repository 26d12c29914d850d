package sqlstep

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/source"
	"github.com/root-talis/sqlstep/versionlog"
)

var (
	// ErrNotVersioned means the log table or its row cannot be read. Run
	// Install or Reset first.
	ErrNotVersioned = versionlog.ErrNotVersioned

	// ErrOldSchema means the log table predates the status column. Run
	// Install to rebuild it.
	ErrOldSchema = versionlog.ErrOldSchema

	// ErrAmbiguousMigration means several files match one version and
	// direction. The migration tree must be fixed on disk.
	ErrAmbiguousMigration = source.ErrAmbiguousMigration

	// ErrIncompleteDatabase means a previous run stopped in the middle of
	// a step. Only force continues past it.
	ErrIncompleteDatabase = errors.New(
		"database was not fully updated; use the force option to ignore this error")
)

// CouldNotMigrateError is returned by Up, Down, Reset and Install. Err
// holds the failure underneath.
type CouldNotMigrateError struct {
	Op      string
	Version migration.Version
	Engine  *Engine
	Err     error
}

func (e *CouldNotMigrateError) Error() string {
	return fmt.Sprintf("failed to %s at version %d: %v", e.Op, e.Version, e.Err)
}

func (e *CouldNotMigrateError) Unwrap() error {
	return e.Err
}

// Cause lets github.com/pkg/errors.Cause see through the error.
func (e *CouldNotMigrateError) Cause() error {
	return e.Err
}

func (e *Engine) couldNotMigrate(op string, version migration.Version, err error) error {
	return &CouldNotMigrateError{
		Op:      op,
		Version: version,
		Engine:  e,
		Err:     err,
	}
}
