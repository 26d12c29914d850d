package source

import (
	"path"

	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep/migration"
)

var (
	ErrAmbiguousMigration = errors.New("more than one migration file matches the version")
	ErrInvalidPattern     = errors.New("migration file pattern must hold exactly one integer placeholder")
)

// DefaultMigrationsDir is where the default layout keeps the "up" and
// "down" directories.
const DefaultMigrationsDir = "migrations"

// DefaultPatterns match "3.sql", the local-only "3-dev.sql" and named
// files such as "3_add_users.sql".
var DefaultPatterns = []string{"%d.sql", "%d-dev.sql", "%d_*.sql"} //nolint:gochecknoglobals

// Source resolves and loads migration payloads.
type Source interface {
	// ResolveOne returns the single file for version and direction, and
	// false when there is none.
	ResolveOne(version migration.Version, direction migration.Direction) (string, bool, error)

	// LoadPayload returns the SQL of the file ResolveOne finds.
	LoadPayload(version migration.Version, direction migration.Direction) (Payload, bool, error)

	// ReadFile reads an arbitrary file, such as the base SQL.
	ReadFile(name string) (string, error)
}

type Payload struct {
	File string
	SQL  string
}

// Location is a directory and a file name pattern. The pattern is a
// glob holding one printf integer verb that is replaced by the version.
type Location struct {
	Dir     string
	Pattern string
}

// Patterns lists the locations to search for a direction.
type Patterns interface {
	DirectionPatterns(direction migration.Direction) []Location
}

// Layout is the conventional tree: <MigrationsDir>/up and
// <MigrationsDir>/down, searched with Patterns, plus any Extra locations.
type Layout struct {
	MigrationsDir string
	Patterns      []string
	Extra         map[migration.Direction][]Location
}

func (l Layout) DirectionPatterns(direction migration.Direction) []Location {
	migrationsDir := l.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = DefaultMigrationsDir
	}

	patterns := l.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	dir := path.Join(migrationsDir, direction.String())
	locations := make([]Location, 0, len(patterns)+len(l.Extra[direction]))
	for _, pattern := range patterns {
		locations = append(locations, Location{Dir: dir, Pattern: pattern})
	}

	return append(locations, l.Extra[direction]...)
}

// StaticPatterns is a fixed set of locations per direction.
type StaticPatterns map[migration.Direction][]Location

func (p StaticPatterns) DirectionPatterns(direction migration.Direction) []Location {
	return p[direction]
}
