package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		query    string
		database string
		expected string
	}{
		/* s0 */ {
			name:     "test s0 - plain name",
			query:    createSchemaSQL,
			database: "app",
			expected: "CREATE SCHEMA IF NOT EXISTS `app` DEFAULT CHARACTER SET utf8",
		},
		/* s1 */ {
			name:     "test s1 - backticks are doubled",
			query:    useSchemaSQL,
			database: "we`ird",
			expected: "USE `we``ird`",
		},
		/* s2 */ {
			name:     "test s2 - non-ascii names survive",
			query:    dropSchemaSQL,
			database: "база",
			expected: "DROP DATABASE `база`",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.expected, formatSQL(test.query, test.database))
		})
	}
}
