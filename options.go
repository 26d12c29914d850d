package sqlstep

import (
	"code.cloudfoundry.org/lager/v3"

	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/versionlog"
)

// DefaultBaseSQL is the file Reset executes unless WithBaseSQL says otherwise.
const DefaultBaseSQL = "base.sql"

type Phase string

const (
	PhaseReset   Phase = "reset"
	PhaseMigrate Phase = "migrate"
)

// ProgressFunc is told about every reset and every step before it runs.
type ProgressFunc func(phase Phase, from, to migration.Version)

// Formatter returns the text that replaces placeholder in a migration.
type Formatter func(e *Engine, sql, placeholder string) string

// StaticFormatter always replaces its placeholder with value.
func StaticFormatter(value string) Formatter {
	return func(*Engine, string, string) string {
		return value
	}
}

type Option func(*Engine)

func WithLogger(logger lager.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithProgress(progress ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = progress
	}
}

// WithFormatter replaces "{key}" in every migration payload.
func WithFormatter(key string, formatter Formatter) Option {
	return func(e *Engine) {
		e.formatters[key] = formatter
	}
}

func WithLogTable(config versionlog.Config) Option {
	return func(e *Engine) {
		e.logTable = config
	}
}

// WithBaseSQL names the file, within the source, that Reset executes.
func WithBaseSQL(name string) Option {
	return func(e *Engine) {
		e.baseSQL = name
	}
}
