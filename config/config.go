// Package config loads the sqlstep project file.
package config

import (
	"io"
	"os"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/root-talis/sqlstep"
	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/source"
	"github.com/root-talis/sqlstep/versionlog"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	DefaultDriver         = DriverMySQL
	DefaultFile           = "sqlstep.yaml"
	DefaultConnectRetries = 5
	DefaultLogLevel       = "info"
)

type (
	// LogTable names the table that holds the schema version.
	LogTable struct {
		Name          string `yaml:"name,omitempty"`
		VersionColumn string `yaml:"version_column,omitempty"`
		StatusColumn  string `yaml:"status_column,omitempty"`
	}

	// Patterns adds search locations on top of the default layout. Keys
	// are directories relative to Dir, values are file name patterns such
	// as "%d_*.sql".
	Patterns struct {
		Up   map[string]string `yaml:"up,omitempty"`
		Down map[string]string `yaml:"down,omitempty"`
	}

	// Config represents a sqlstep project.
	Config struct {
		// Driver is either "mysql" or "sqlite".
		Driver string `yaml:"driver"`

		// DSN is the connection string passed to the driver. For mysql it
		// must name the database.
		DSN string `yaml:"dsn"`

		// Dir is the base directory of the project. BaseSQL and
		// MigrationsDir are relative to it.
		Dir string `yaml:"dir"`

		BaseSQL       string `yaml:"base_sql"`
		MigrationsDir string `yaml:"migrations_dir"`

		LogTable LogTable `yaml:"log_table"`
		Patterns Patterns `yaml:"patterns"`

		// Formatters replace "{key}" in migration files with the value.
		Formatters map[string]string `yaml:"formatters,omitempty"`

		ConnectRetries int    `yaml:"connect_retries"`
		LogLevel       string `yaml:"log_level"`
	}
)

// Default returns the configuration used when no project file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig parses a project configuration from r and fills in the
// defaults for every field left empty.
//
// Example:
//
//	cfg, err := config.LoadConfig(strings.NewReader(`
//	driver: sqlite
//	dsn: app.db
//	dir: db
//	`))
func LoadConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal sqlstep config")
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// LoadConfigFile loads a project configuration from path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file: %s", path)
	}
	defer func() { _ = f.Close() }()

	return LoadConfig(f)
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DefaultDriver
	}
	if c.Dir == "" {
		c.Dir = "."
	}
	if c.BaseSQL == "" {
		c.BaseSQL = sqlstep.DefaultBaseSQL
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = source.DefaultMigrationsDir
	}
	if c.LogTable.Name == "" {
		c.LogTable.Name = versionlog.DefaultTable
	}
	if c.LogTable.VersionColumn == "" {
		c.LogTable.VersionColumn = versionlog.DefaultVersionColumn
	}
	if c.LogTable.StatusColumn == "" {
		c.LogTable.StatusColumn = versionlog.DefaultStatusColumn
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	switch c.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		result = multierror.Append(result, errors.Errorf("unknown driver %q", c.Driver))
	}

	if c.DSN == "" {
		result = multierror.Append(result, errors.New("dsn is required"))
	}

	if c.ConnectRetries < 0 {
		result = multierror.Append(result, errors.Errorf("connect_retries must not be negative, got %d", c.ConnectRetries))
	}

	if _, err := lager.LogLevelFromString(c.LogLevel); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "invalid log_level"))
	}

	for key := range c.Formatters {
		if key == "" || strings.ContainsAny(key, "{}") {
			result = multierror.Append(result, errors.Errorf("invalid formatter key %q", key))
		}
	}

	for _, locations := range []map[string]string{c.Patterns.Up, c.Patterns.Down} {
		for dir, pattern := range locations {
			if strings.Count(pattern, "%d") != 1 {
				result = multierror.Append(result, errors.Errorf("pattern %q for %s needs exactly one %%d", pattern, dir))
			}
		}
	}

	return result.ErrorOrNil()
}

// Layout returns the migration tree described by the configuration.
func (c *Config) Layout() source.Layout {
	extra := make(map[migration.Direction][]source.Location)

	for direction, locations := range map[migration.Direction]map[string]string{
		migration.Up:   c.Patterns.Up,
		migration.Down: c.Patterns.Down,
	} {
		for _, dir := range sortedKeys(locations) {
			extra[direction] = append(extra[direction], source.Location{Dir: dir, Pattern: locations[dir]})
		}
	}

	return source.Layout{
		MigrationsDir: c.MigrationsDir,
		Extra:         extra,
	}
}

func (c *Config) VersionLog() versionlog.Config {
	return versionlog.Config{
		Table:         c.LogTable.Name,
		VersionColumn: c.LogTable.VersionColumn,
		StatusColumn:  c.LogTable.StatusColumn,
	}
}

// EngineOptions turns the configuration into engine options. Formatters
// are registered as static replacements.
func (c *Config) EngineOptions() []sqlstep.Option {
	opts := []sqlstep.Option{
		sqlstep.WithBaseSQL(c.BaseSQL),
		sqlstep.WithLogTable(c.VersionLog()),
	}

	for _, key := range sortedKeys(c.Formatters) {
		opts = append(opts, sqlstep.WithFormatter(key, sqlstep.StaticFormatter(c.Formatters[key])))
	}

	return opts
}
