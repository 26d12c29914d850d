package migration

import (
	"fmt"
	"strings"
)

type Direction rune

const (
	Down Direction = 'd'
	Up   Direction = 'u'
)

// Increment is the version delta of a single step in this direction.
func (d Direction) Increment() int {
	if d == Down {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Direction(%q)", rune(d))
	}
}

// ---

// Version is a schema version. Version 0 is the base schema.
type Version int

// FileNumber returns the number of the migration file that moves the
// schema one step away from v in direction d: v+1 going up, v itself
// going down.
func (v Version) FileNumber(d Direction) Version {
	if d == Down {
		return v
	}
	return v + 1
}

// Next is the version reached after one step from v in direction d.
func (v Version) Next(d Direction) Version {
	return v + Version(d.Increment())
}

// ---

type Status string

const (
	StatusComplete    Status = "complete"
	StatusPartialUp   Status = "partial up"
	StatusPartialDown Status = "partial down"
	StatusUnknown     Status = "unknown"
)

// PartialStatus is the marker written before a step in direction d runs.
func PartialStatus(d Direction) Status {
	return Status("partial " + d.String())
}

// IsPartial reports whether a step was started but never confirmed.
func (s Status) IsPartial() bool {
	return strings.Contains(string(s), "partial")
}

// ---

// Record is the persisted state of the schema.
type Record struct {
	Version Version
	Status  Status
}

func (r Record) String() string {
	return fmt.Sprintf("%d (%s)", r.Version, r.Status)
}

// ---

// Target is an optional version to migrate to. The zero value has no
// limit: migration continues for as long as files are found.
type Target struct {
	Version Version
	Bounded bool
}

// Latest is the unbounded target.
var Latest = Target{} //nolint:gochecknoglobals

func To(v Version) Target {
	return Target{Version: v, Bounded: true}
}

func (t Target) String() string {
	if !t.Bounded {
		return "latest"
	}
	return fmt.Sprintf("%d", t.Version)
}

// CanContinue reports whether another step from current in direction d
// still moves towards target. Reaching the target always halts. Without a
// target, going down halts at version 0.
func CanContinue(current Version, target Target, d Direction) bool {
	if !target.Bounded {
		return d != Down || current > 0
	}
	delta := int(target.Version-current) * d.Increment()
	return delta > 0
}

// ---

// Step is one unit of migration: the file numbered by FileNumber is
// applied to move the schema from From to To.
type Step struct {
	From      Version
	To        Version
	Direction Direction
	File      string
}
