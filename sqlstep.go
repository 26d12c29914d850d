// Package sqlstep moves a database between numbered schema versions by
// applying "up" and "down" SQL files one step at a time, recording the
// current version in a single-row log table.
package sqlstep

import (
	"context"
	"sort"
	"strings"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	"github.com/pkg/errors"

	"github.com/root-talis/sqlstep/driver"
	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/source"
	"github.com/root-talis/sqlstep/versionlog"
)

// ---

type State int

const (
	Idle State = iota
	Migrating
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Migrating:
		return "migrating"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// ---

// Engine walks the schema from its stored version towards a target.
// It assumes it is the only runner working on the database.
type Engine struct {
	driver     driver.Driver
	source     source.Source
	store      *versionlog.Store
	logTable   versionlog.Config
	baseSQL    string
	formatters map[string]Formatter
	progress   ProgressFunc
	logger     lager.Logger

	mu        sync.Mutex
	state     State
	direction migration.Direction
}

// ---

func New(drv driver.Driver, src source.Source, opts ...Option) *Engine {
	engine := &Engine{
		driver:     drv,
		source:     src,
		baseSQL:    DefaultBaseSQL,
		formatters: make(map[string]Formatter),
		logger:     lager.NewLogger("sqlstep"),
	}

	for _, opt := range opts {
		opt(engine)
	}

	engine.store = versionlog.New(drv, engine.logTable)

	return engine
}

// ---

func (e *Engine) Store() *versionlog.Store {
	return e.store
}

// State reports where the engine is in its current or last run, and the
// direction of that run.
func (e *Engine) State() (State, migration.Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state, e.direction
}

// CurrentVersion returns the stored record. ErrNotVersioned and
// ErrOldSchema are returned as they are, so that callers can branch on
// them.
func (e *Engine) CurrentVersion(ctx context.Context) (migration.Record, error) {
	return e.store.GetVersion(ctx)
}

// Up applies "up" files until target is reached or no file is found.
// With force, a step left partial by an earlier run is applied again, or
// undone when it was a "down" step; the target must lie past that step.
func (e *Engine) Up(ctx context.Context, target migration.Target, force bool) error {
	return e.run(ctx, migration.Up, target, force)
}

// Down applies "down" files until target is reached or no file is found.
func (e *Engine) Down(ctx context.Context, target migration.Target, force bool) error {
	return e.run(ctx, migration.Down, target, force)
}

// Reset drops and recreates the database, recreates the log table, runs
// the base SQL and records version 0 as complete. No "up" file is
// applied afterwards.
func (e *Engine) Reset(ctx context.Context) error {
	logger := e.logger.Session("reset")
	logger.Info("starting")

	err := e.reset(ctx, logger)
	if err != nil {
		logger.Error("failed-to-reset", err)
		e.setState(Failed, migration.Down)
		return e.couldNotMigrate("reset", 0, err)
	}

	logger.Info("finished")
	e.setState(Complete, migration.Down)

	return nil
}

// Install prepares the log table without touching the schema: it is
// created when missing, seeded when empty and rebuilt when it predates
// the status column.
func (e *Engine) Install(ctx context.Context) error {
	logger := e.logger.Session("install")

	inspection, err := e.store.Inspect(ctx)
	if err != nil {
		logger.Error("failed-to-inspect-log-table", err)
		return e.couldNotMigrate("install", 0, err)
	}

	logger.Info("inspected-log-table", lager.Data{"state": inspection.State.String()})

	switch inspection.State {
	case versionlog.NotVersioned:
		err = e.store.CreateVersionTable(ctx)
	case versionlog.OldSchema:
		err = e.store.RebuildVersionTable(ctx)
	case versionlog.Empty:
		err = e.store.EnsureVersionRow(ctx)
	case versionlog.Versioned:
		return nil
	}

	if err != nil {
		logger.Error("failed-to-install", err)
		return e.couldNotMigrate("install", inspection.Record.Version, err)
	}

	logger.Info("installed")

	return nil
}

// Plan lists the steps Up or Down would take, without running anything.
func (e *Engine) Plan(
	ctx context.Context,
	direction migration.Direction,
	target migration.Target,
	force bool,
) ([]migration.Step, error) {
	current, err := e.startingVersion(ctx, direction, target, force)
	if err != nil {
		return nil, err
	}

	var steps []migration.Step
	for migration.CanContinue(current, target, direction) {
		file, ok, err := e.source.ResolveOne(current.FileNumber(direction), direction)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to plan step from version %d", current)
		}
		if !ok {
			break
		}

		next := current.Next(direction)
		steps = append(steps, migration.Step{
			From:      current,
			To:        next,
			Direction: direction,
			File:      file,
		})
		current = next
	}

	return steps, nil
}

// ---

func (e *Engine) run(ctx context.Context, direction migration.Direction, target migration.Target, force bool) error {
	logger := e.logger.Session(direction.String(), lager.Data{
		"target": target.String(),
		"force":  force,
	})
	logger.Info("starting")

	version, err := e.migrate(ctx, logger, direction, target, force)
	if err != nil {
		logger.Error("failed-to-migrate", err, lager.Data{"version": version})
		e.setState(Failed, direction)
		return e.couldNotMigrate("migrate "+direction.String(), version, err)
	}

	logger.Info("finished", lager.Data{"version": version})
	e.setState(Complete, direction)

	return nil
}

// migrate returns the version it reached, or the version it was
// attempting when it failed.
func (e *Engine) migrate(
	ctx context.Context,
	logger lager.Logger,
	direction migration.Direction,
	target migration.Target,
	force bool,
) (migration.Version, error) {
	current, err := e.startingVersion(ctx, direction, target, force)
	if err != nil {
		return current, err
	}

	e.setState(Migrating, direction)

	for migration.CanContinue(current, target, direction) {
		if err := ctx.Err(); err != nil {
			return current, errors.Wrap(err, "migration interrupted")
		}

		next := current.Next(direction)

		payload, ok, err := e.source.LoadPayload(current.FileNumber(direction), direction)
		if err != nil {
			return next, err
		}
		if !ok {
			break
		}

		step := migration.Step{
			From:      current,
			To:        next,
			Direction: direction,
			File:      payload.File,
		}

		// a started step always runs to its end
		if err := e.applyStep(context.WithoutCancel(ctx), logger, step, payload.SQL); err != nil {
			return next, err
		}

		current = next
	}

	return current, nil
}

// startingVersion reads the log and decides where traversal begins. A
// partial step is only passed with force: it is retried when going the
// same way, and undone when going the other way. A target that leaves
// the partial step untouched is refused.
func (e *Engine) startingVersion(
	ctx context.Context,
	direction migration.Direction,
	target migration.Target,
	force bool,
) (migration.Version, error) {
	record, err := e.store.GetVersion(ctx)
	if err != nil {
		return 0, err
	}

	if !record.Status.IsPartial() {
		return record.Version, nil
	}

	if !force {
		return record.Version, errors.Wrapf(ErrIncompleteDatabase, "version %s", record)
	}

	start := record.Version
	if record.Status == migration.PartialStatus(direction) {
		start = record.Version - migration.Version(direction.Increment())
	}

	if !migration.CanContinue(start, target, direction) {
		return record.Version, errors.Wrapf(ErrIncompleteDatabase,
			"version %s cannot be repaired by migrating %s to %s", record, direction, target)
	}

	return start, nil
}

func (e *Engine) applyStep(ctx context.Context, logger lager.Logger, step migration.Step, payload string) error {
	data := lager.Data{
		"from": step.From,
		"to":   step.To,
		"file": step.File,
	}

	e.reportProgress(PhaseMigrate, step.From, step.To)
	logger.Info("applying-step", data)

	sql := e.prepareSQL(payload)

	if err := e.store.SetVersion(ctx, step.To, migration.PartialStatus(step.Direction)); err != nil {
		return err
	}

	if err := e.driver.Exec(ctx, sql); err != nil {
		return errors.Wrapf(err, "failed to execute %s", step.File)
	}

	if err := e.store.SetVersion(ctx, step.To, migration.StatusComplete); err != nil {
		return err
	}

	logger.Info("step-complete", data)

	return nil
}

func (e *Engine) reset(ctx context.Context, logger lager.Logger) error {
	var current migration.Version

	record, err := e.store.GetVersion(ctx)
	switch {
	case err == nil:
		current = record.Version
	case errors.Is(err, ErrNotVersioned):
		current = 0
	default:
		return err
	}

	baseSQL, err := e.source.ReadFile(e.baseSQL)
	if err != nil {
		return err
	}

	e.reportProgress(PhaseReset, current, 0)
	e.setState(Migrating, migration.Down)
	logger.Info("dropping-database", lager.Data{"database": e.driver.DatabaseName(), "from": current})

	if err := e.driver.DropDatabase(ctx); err != nil {
		return err
	}

	if err := e.driver.CreateDatabase(ctx); err != nil {
		return err
	}

	if err := e.store.CreateVersionTable(ctx); err != nil {
		return err
	}

	logger.Info("executing-base-sql", lager.Data{"file": e.baseSQL})

	if err := e.driver.Exec(ctx, baseSQL); err != nil {
		return errors.Wrapf(err, "failed to execute %s", e.baseSQL)
	}

	return e.store.SetVersion(ctx, 0, migration.StatusComplete)
}

// prepareSQL runs every formatter whose "{key}" occurs in sql, in key order.
func (e *Engine) prepareSQL(sql string) string {
	keys := make([]string, 0, len(e.formatters))
	for key := range e.formatters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		placeholder := "{" + key + "}"
		if !strings.Contains(sql, placeholder) {
			continue
		}
		sql = strings.ReplaceAll(sql, placeholder, e.formatters[key](e, sql, placeholder))
	}

	return sql
}

func (e *Engine) reportProgress(phase Phase, from, to migration.Version) {
	if e.progress != nil {
		e.progress(phase, from, to)
	}
}

func (e *Engine) setState(state State, direction migration.Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state = state
	e.direction = direction
}
