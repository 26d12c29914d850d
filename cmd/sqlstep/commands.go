package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/root-talis/sqlstep"
	"github.com/root-talis/sqlstep/config"
	"github.com/root-talis/sqlstep/driver/mysql"
	"github.com/root-talis/sqlstep/migration"
)

// migrateCommand creates the "up" or "down" command.
//
// Example usage:
//
//	# Apply every pending "up" file
//	sqlstep up
//
//	# Revert down to version 3, ignoring an interrupted step
//	sqlstep down --to 3 --force
//
//	# Show the files that would run
//	sqlstep up --dry-run
func (a *app) migrateCommand(direction migration.Direction) *cli.Command {
	usage := "Apply \"up\" files until the target version or the last file"
	if direction == migration.Down {
		usage = "Apply \"down\" files until the target version or the first file"
	}

	return &cli.Command{
		Name:  direction.String(),
		Usage: usage,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "to",
				Usage: "the version to stop at; without it migration runs as long as files are found",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "continue past a step that was interrupted by a previous run",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "list the steps without running them",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return a.runMigrate(ctx, cmd, direction)
		},
	}
}

func (a *app) runMigrate(ctx context.Context, cmd *cli.Command, direction migration.Direction) error {
	target := migration.Latest
	if cmd.IsSet("to") {
		to := cmd.Int("to")
		if to < 0 {
			return errors.Errorf("--to must not be negative, got %d", to)
		}
		target = migration.To(migration.Version(to))
	}
	force := cmd.Bool("force")

	engine, drv, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = drv.Close() }()

	if cmd.Bool("dry-run") {
		steps, err := engine.Plan(ctx, direction, target, force)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			a.printf("nothing to do\n")
			return nil
		}
		for _, step := range steps {
			a.printf("would migrate from version %d to %d with %s\n", step.From, step.To, step.File)
		}
		return nil
	}

	if direction == migration.Up {
		err = engine.Up(ctx, target, force)
	} else {
		err = engine.Down(ctx, target, force)
	}
	if err != nil {
		return err
	}

	return a.printVersion(ctx, engine)
}

func (a *app) resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Drop the database and rebuild it from the base SQL at version 0",
		Description: `Drops and recreates the database, recreates the log table and executes
the base SQL file. No "up" file is applied afterwards; run "sqlstep up"
for that. All data is lost.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			engine, drv, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = drv.Close() }()

			if err := engine.Reset(ctx); err != nil {
				return err
			}

			return a.printVersion(ctx, engine)
		},
	}
}

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the stored schema version and its status",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			engine, drv, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = drv.Close() }()

			return a.printVersion(ctx, engine)
		},
	}
}

func (a *app) installCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Create or upgrade the log table without touching the schema",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			engine, drv, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = drv.Close() }()

			if err := engine.Install(ctx); err != nil {
				return err
			}

			return a.printVersion(ctx, engine)
		},
	}
}

func (a *app) prepareCommand() *cli.Command {
	return &cli.Command{
		Name:  "prepare",
		Usage: "Create the database named in the DSN if it does not exist",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := a.config.Validate(); err != nil {
				return errors.Wrap(err, "invalid configuration")
			}

			if a.config.Driver != config.DriverMySQL {
				a.printf("nothing to prepare for %s\n", a.config.Driver)
				return nil
			}

			if err := mysql.PrepareEnvironment(ctx, a.config.DSN); err != nil {
				return err
			}

			name, err := mysql.DatabaseNameFromDSN(a.config.DSN)
			if err != nil {
				return err
			}
			a.printf("database %s is ready\n", name)

			return nil
		},
	}
}

func (a *app) printVersion(ctx context.Context, engine *sqlstep.Engine) error {
	record, err := engine.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	a.printf("version %s\n", record)

	return nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}
