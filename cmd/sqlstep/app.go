package main

import (
	"context"
	"io"
	"os"

	"code.cloudfoundry.org/lager/v3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/root-talis/sqlstep/config"
	"github.com/root-talis/sqlstep/migration"
)

// app holds what the root command resolves before any subcommand runs.
type app struct {
	config *config.Config
	logger lager.Logger
	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	a := &app{
		stdout: stdout,
		stderr: stderr,
	}

	return &cli.Command{
		Name:  "sqlstep",
		Usage: "Move a database between numbered schema versions",
		Description: `sqlstep applies numbered "up" and "down" SQL files one step at a time
and records the current schema version in a single-row log table.

Files are looked up in <dir>/migrations/up and <dir>/migrations/down as
N.sql, N-dev.sql or N_description.sql. Going up from version N applies
up/N+1; going down from version N applies down/N.`,
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "the sqlstep config file",
				Sources: cli.EnvVars("SQLSTEP_CONFIG"),
				Value:   config.DefaultFile,
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "database connection string, overrides the config file",
				Sources: cli.EnvVars("SQLSTEP_DSN"),
				Config: cli.StringConfig{
					TrimSpace: true,
				},
			},
			&cli.StringFlag{
				Name:  "driver",
				Usage: "database driver: mysql or sqlite",
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "the project directory holding base SQL and migrations",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "minimum level written to stderr: debug, info, error or fatal",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.migrateCommand(migration.Up),
			a.migrateCommand(migration.Down),
			a.resetCommand(),
			a.versionCommand(),
			a.installCommand(),
			a.prepareCommand(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return ctx, err
	}

	if cmd.IsSet("dsn") {
		cfg.DSN = cmd.String("dsn")
	}
	if cmd.IsSet("driver") {
		cfg.Driver = cmd.String("driver")
	}
	if cmd.IsSet("dir") {
		cfg.Dir = cmd.String("dir")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}

	level, err := lager.LogLevelFromString(cfg.LogLevel)
	if err != nil {
		return ctx, errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}

	logger := lager.NewLogger("sqlstep")
	logger.RegisterSink(lager.NewReconfigurableSink(lager.NewWriterSink(a.stderr, lager.DEBUG), level))

	a.config = cfg
	a.logger = logger

	return ctx, nil
}

// loadConfig reads the config file. A missing default file is not an
// error; flags and environment variables can carry everything.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")

	_, err := os.Stat(path)
	if os.IsNotExist(err) && !cmd.IsSet("config") {
		return config.Default(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}

	return config.LoadConfigFile(path)
}
