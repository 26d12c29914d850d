package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/root-talis/sqlstep/migration"
)

var canContinueTestTable = []struct { // nolint:gochecknoglobals
	name      string
	current   migration.Version
	target    migration.Target
	direction migration.Direction
	expected  bool
}{
	/* s0 */ {name: "up towards a larger version", current: 3, target: migration.To(7), direction: migration.Up, expected: true},
	/* s1 */ {name: "up past a smaller version", current: 7, target: migration.To(3), direction: migration.Up, expected: false},
	/* s2 */ {name: "up at the target", current: 5, target: migration.To(5), direction: migration.Up, expected: false},
	/* s3 */ {name: "up without a target", current: 5, target: migration.Latest, direction: migration.Up, expected: true},
	/* s4 */ {name: "down towards a smaller version", current: 7, target: migration.To(3), direction: migration.Down, expected: true},
	/* s5 */ {name: "down past a larger version", current: 3, target: migration.To(7), direction: migration.Down, expected: false},
	/* s6 */ {name: "down at the target", current: 5, target: migration.To(5), direction: migration.Down, expected: false},
	/* s7 */ {name: "down without a target", current: 5, target: migration.Latest, direction: migration.Down, expected: true},
	/* s8 */ {name: "down to base", current: 1, target: migration.To(0), direction: migration.Down, expected: true},
	/* s9 */ {name: "down at base", current: 0, target: migration.To(0), direction: migration.Down, expected: false},
	/* s10 */ {name: "down without a target at base", current: 0, target: migration.Latest, direction: migration.Down, expected: false},
	/* s11 */ {name: "down without a target above base", current: 1, target: migration.Latest, direction: migration.Down, expected: true},
}

func TestCanContinue(t *testing.T) {
	t.Parallel()

	for _, test := range canContinueTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.expected, migration.CanContinue(test.current, test.target, test.direction))
		})
	}
}

func TestFileNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, migration.Version(3), migration.Version(2).FileNumber(migration.Up))
	assert.Equal(t, migration.Version(3), migration.Version(3).FileNumber(migration.Down))
	assert.Equal(t, migration.Version(1), migration.Version(0).FileNumber(migration.Up))

	assert.Equal(t, migration.Version(3), migration.Version(2).Next(migration.Up))
	assert.Equal(t, migration.Version(2), migration.Version(3).Next(migration.Down))
}

func TestDirection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "up", migration.Up.String())
	assert.Equal(t, "down", migration.Down.String())
	assert.Equal(t, 1, migration.Up.Increment())
	assert.Equal(t, -1, migration.Down.Increment())
}

func TestStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, migration.StatusPartialUp, migration.PartialStatus(migration.Up))
	assert.Equal(t, migration.StatusPartialDown, migration.PartialStatus(migration.Down))

	assert.True(t, migration.StatusPartialUp.IsPartial())
	assert.True(t, migration.StatusPartialDown.IsPartial())
	assert.True(t, migration.Status("partial").IsPartial())
	assert.False(t, migration.StatusComplete.IsPartial())
	assert.False(t, migration.StatusUnknown.IsPartial())
	assert.False(t, migration.Status("").IsPartial())
}

func TestTargetString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "latest", migration.Latest.String())
	assert.Equal(t, "4", migration.To(4).String())
	assert.Equal(t, "0 (unknown)", migration.Record{Status: migration.StatusUnknown}.String())
}
