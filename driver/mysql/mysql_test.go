//nolint:gochecknoglobals
package mysql_test

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/root-talis/sqlstep"
	"github.com/root-talis/sqlstep/driver/mysql"
	"github.com/root-talis/sqlstep/migration"
	"github.com/root-talis/sqlstep/source"
	"github.com/root-talis/sqlstep/source/files"
	"github.com/root-talis/sqlstep/versionlog"
)

// RDBMS versions to test against
var versions = []string{
	"mysql:8.0",
	"mysql:5.7",

	"mariadb:10.11",
	"mariadb:10.6",
}

// Templates for test tables
var (
	dropDatabase               = "DROP DATABASE IF EXISTS testDatabase;"
	initEmptyDatabase          = "CREATE DATABASE testDatabase;"
	initDatabaseWithEmptyTable = initEmptyDatabase +
		"CREATE TABLE testDatabase.migrations_log (version int, status varchar(20)) default charset utf8;"
	initDatabaseWithOldTable = initEmptyDatabase +
		"CREATE TABLE testDatabase.migrations_log (version int) default charset utf8;" +
		"INSERT INTO testDatabase.migrations_log (version) VALUES (2);"
	initDatabaseWithBadTableStructure = initEmptyDatabase +
		"CREATE TABLE testDatabase.migrations_log (" +
		"id             int not null auto_increment, " +
		"primary key (id)" +
		") default charset utf8;"
	initDatabaseAtVersion2 = initDatabaseWithEmptyTable +
		"CREATE TABLE testDatabase.users (id int, name varchar(50));" +
		"INSERT INTO testDatabase.migrations_log (version, status) VALUES (2, 'complete');"
	initDatabaseWithPartialStep = initDatabaseWithEmptyTable +
		"CREATE TABLE testDatabase.users (id int);" +
		"INSERT INTO testDatabase.migrations_log (version, status) VALUES (2, 'partial up');"

	migrationsTree = fstest.MapFS{
		"base.sql":              {Data: []byte("CREATE TABLE settings (name varchar(50), value varchar(50));")},
		"migrations/up/1.sql":   {Data: []byte("CREATE TABLE users (id int);")},
		"migrations/up/2.sql":   {Data: []byte("ALTER TABLE users ADD COLUMN name varchar(50);")},
		"migrations/up/3.sql":   {Data: []byte("CREATE TABLE posts (id int); CREATE TABLE tags (id int);")},
		"migrations/down/1.sql": {Data: []byte("DROP TABLE users;")},
		"migrations/down/2.sql": {Data: []byte("ALTER TABLE users DROP COLUMN name;")},
		"migrations/down/3.sql": {Data: []byte("DROP TABLE tags; DROP TABLE posts;")},
	}
)

type validator = func(*testing.T, *sql.Rows)
type validateStatements = map[string]validator

var doNothing = func(t *testing.T, _ *sql.Rows) {
	t.Helper()
}

func expectValue(expected string) validator {
	return func(t *testing.T, rows *sql.Rows) {
		t.Helper()

		require.True(t, rows.Next(), "expected a row")

		var actual string
		require.NoError(t, rows.Scan(&actual))
		assert.Equal(t, expected, actual)
	}
}

// Test table for TestEngine
var engineTests = []struct {
	name               string
	initialStructure   string
	logTable           versionlog.Config
	run                func(ctx context.Context, e *sqlstep.Engine) error
	expectError        error
	expectedRecord     *migration.Record
	validateStatements validateStatements
}{
	/* s0 */ {
		name: "test s0 - reset should create schema, log table and base tables",
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Reset(ctx)
		},
		expectedRecord: &migration.Record{Version: 0, Status: migration.StatusComplete},
		validateStatements: validateStatements{
			"select 1 from testDatabase.settings":            doNothing,
			"select status from testDatabase.migrations_log": expectValue("complete"),
		},
	},
	/* s1 */ {
		name: "test s1 - reset followed by up should apply every migration",
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			if err := e.Reset(ctx); err != nil {
				return err
			}
			return e.Up(ctx, migration.Latest, false)
		},
		expectedRecord: &migration.Record{Version: 3, Status: migration.StatusComplete},
		validateStatements: validateStatements{
			"select name from testDatabase.users": doNothing,
			"select 1 from testDatabase.posts":    doNothing,
			"select 1 from testDatabase.tags":     doNothing,
		},
	},
	/* s2 */ {
		name:             "test s2 - down should revert to the target",
		initialStructure: initDatabaseAtVersion2,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Down(ctx, migration.To(1), false)
		},
		expectedRecord: &migration.Record{Version: 1, Status: migration.StatusComplete},
		validateStatements: validateStatements{
			"select 1 from testDatabase.users": doNothing,
		},
	},
	/* s3 */ {
		name: "test s3 - should work with a custom log table",
		logTable: versionlog.Config{
			Table:         "some_strange_custom_migrations_log_table",
			VersionColumn: "v",
			StatusColumn:  "s",
		},
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			if err := e.Reset(ctx); err != nil {
				return err
			}
			return e.Up(ctx, migration.To(1), false)
		},
		expectedRecord: &migration.Record{Version: 1, Status: migration.StatusComplete},
		validateStatements: validateStatements{
			"select v from testDatabase.some_strange_custom_migrations_log_table": expectValue("1"),
		},
	},
	/* s4 */ {
		name:             "test s4 - install should seed an empty log table",
		initialStructure: initDatabaseWithEmptyTable,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Install(ctx)
		},
		expectedRecord: &migration.Record{Version: 0, Status: migration.StatusUnknown},
	},
	/* s5 */ {
		name:             "test s5 - install should rebuild a log table without status",
		initialStructure: initDatabaseWithOldTable,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Install(ctx)
		},
		expectedRecord: &migration.Record{Version: 2, Status: migration.StatusUnknown},
	},
	/* s6 */ {
		name:             "test s6 - forced up should retry a partial step",
		initialStructure: initDatabaseWithPartialStep,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Up(ctx, migration.Latest, true)
		},
		expectedRecord: &migration.Record{Version: 3, Status: migration.StatusComplete},
	},

	/* e0 */ {
		name:             "test e0 - should fail if migrations_log table has bad structure",
		initialStructure: initDatabaseWithBadTableStructure,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Up(ctx, migration.Latest, false)
		},
		expectError: sqlstep.ErrNotVersioned,
	},
	/* e1 */ {
		name:             "test e1 - should fail if migrations_log table has no status",
		initialStructure: initDatabaseWithOldTable,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Up(ctx, migration.Latest, false)
		},
		expectError: sqlstep.ErrOldSchema,
	},
	/* e2 */ {
		name:             "test e2 - should refuse a partial step without force",
		initialStructure: initDatabaseWithPartialStep,
		run: func(ctx context.Context, e *sqlstep.Engine) error {
			return e.Up(ctx, migration.Latest, false)
		},
		expectError: sqlstep.ErrIncompleteDatabase,
	},
}

func TestEngine(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/mysql")
	}

	runForAllMysqlVersions(t, "Engine", func(t *testing.T, version string, server serverInfo) {
		t.Helper()

		for _, test := range engineTests {
			test := test
			t.Run(test.name, func(t *testing.T) {
				ctx := context.Background()

				if test.initialStructure != "" {
					_, err := server.conn.Exec(test.initialStructure)
					if err != nil {
						t.Fatalf("error when initializing database: %s", err)
					}
				}

				defer func() {
					_, err := server.conn.Exec(dropDatabase)
					if err != nil {
						t.Fatalf("falied to drop database after test: %s", err)
					}
				}()

				dsn := server.dsn("testDatabase")
				require.NoError(t, mysql.PrepareEnvironment(ctx, dsn))

				drv, err := mysql.Open(ctx, dsn)
				require.NoError(t, err)
				defer func() {
					assert.NoError(t, drv.Close())
				}()

				src, err := files.NewFilesSource(migrationsTree, source.Layout{})
				require.NoError(t, err)

				engine := sqlstep.New(drv, src, sqlstep.WithLogTable(test.logTable))

				err = test.run(ctx, engine)

				if test.expectError != nil {
					assert.ErrorIs(t, err, test.expectError)
				} else {
					assert.NoError(t, err)
				}

				if test.expectedRecord != nil {
					record, err := engine.CurrentVersion(ctx)
					if assert.NoError(t, err) {
						assert.Equal(t, *test.expectedRecord, record)
					}
				}

				runValidationStatements(t, test.validateStatements, server.conn)
			})
		}
	})
}

func TestPrepareEnvironment(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/mysql")
	}

	runForAllMysqlVersions(t, "PrepareEnvironment", func(t *testing.T, version string, server serverInfo) {
		t.Helper()

		ctx := context.Background()
		dsn := server.dsn("preparedDatabase")

		_, err := mysql.Open(ctx, dsn)
		require.Error(t, err, "schema should not exist yet")

		require.NoError(t, mysql.PrepareEnvironment(ctx, dsn))
		require.NoError(t, mysql.PrepareEnvironment(ctx, dsn), "should be idempotent")

		drv, err := mysql.Open(ctx, dsn)
		require.NoError(t, err)
		defer func() {
			assert.NoError(t, drv.Close())
		}()

		assert.Equal(t, "preparedDatabase", drv.DatabaseName())
		require.NoError(t, drv.DropDatabase(ctx))
	})
}

func TestDatabaseNameFromDSN(t *testing.T) {
	t.Parallel()

	name, err := mysql.DatabaseNameFromDSN("root:secret@tcp(localhost:3306)/app?parseTime=true")
	assert.NoError(t, err)
	assert.Equal(t, "app", name)

	_, err = mysql.DatabaseNameFromDSN("root:secret@tcp(localhost:3306)/")
	assert.ErrorIs(t, err, mysql.ErrNoDatabaseName)

	_, err = mysql.DatabaseNameFromDSN("not a dsn")
	assert.Error(t, err)
}

func TestWithMultiStatements(t *testing.T) {
	t.Parallel()

	dsn, err := mysql.WithMultiStatements("root:secret@tcp(localhost:3306)/app")
	assert.NoError(t, err)
	assert.Contains(t, dsn, "multiStatements=true")

	name, err := mysql.DatabaseNameFromDSN(dsn)
	assert.NoError(t, err)
	assert.Equal(t, "app", name)

	_, err = mysql.WithMultiStatements("not a dsn")
	assert.Error(t, err)
}

//
// --- utility stuff ---------------------
//

type serverInfo struct {
	conn     *sql.DB
	endpoint string
	password string
}

func (s serverInfo) dsn(database string) string {
	return fmt.Sprintf("root:%s@tcp(%s)/%s", s.password, s.endpoint, database)
}

func runForAllMysqlVersions(t *testing.T, baseName string, test func(t *testing.T, version string, server serverInfo)) {
	t.Helper()

	for _, version := range versions {
		version := version
		testName := fmt.Sprintf("%s@%s", baseName, version)
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			rootPassword := randomPassword()
			t.Logf("%s - root password: %s", testName, rootPassword)

			ctx, mysqlC := makeTestContainer(t, version, rootPassword)
			defer func() {
				err := mysqlC.Terminate(ctx)
				if err != nil {
					t.Fatalf("failed to terminate test container: %s", err)
				}
			}()

			server := connect(ctx, t, mysqlC, rootPassword)
			defer func() {
				err := server.conn.Close()
				if err != nil {
					t.Fatalf("failed to close connection to test database: %s", err)
				}
			}()

			test(t, version, server)
		})
	}
}

func makeTestContainer(t *testing.T, version string, rootPassword string) (context.Context, testcontainers.Container) {
	t.Helper()

	var env map[string]string

	if strings.HasPrefix(version, "mariadb") {
		env = map[string]string{
			"MARIADB_ROOT_PASSWORD": rootPassword,
		}
	} else {
		env = map[string]string{
			"MYSQL_ROOT_PASSWORD": rootPassword,
		}
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        version,
		ExposedPorts: []string{"3306/tcp"},
		WaitingFor:   wait.ForListeningPort("3306/tcp"),
		Env:          env,
		Cmd: []string{
			"--table_definition_cache=400",
			"--performance_schema=0",
		},
	}

	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	return ctx, mysqlC
}

func connect(ctx context.Context, t *testing.T, mysqlC testcontainers.Container, rootPassword string) serverInfo {
	t.Helper()

	endpoint, err := mysqlC.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := sql.Open("mysql",
		fmt.Sprintf("root:%s@tcp(%s)/mysql?multiStatements=true", rootPassword, endpoint))
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.PingContext(ctx); err != nil {
		t.Fatalf("failed to reach test database: %s", err)
	}

	return serverInfo{conn: conn, endpoint: endpoint, password: rootPassword}
}

func randomPassword() string {
	const length = 8
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("failed to generate a random password: %w", err))
	}
	return fmt.Sprintf("%x", b)[:length]
}

func runValidationStatements(t *testing.T, validateStatements validateStatements, conn *sql.DB) {
	t.Helper()

	for stmt, validate := range validateStatements {
		func() {
			rows, err := conn.Query(stmt)
			if err != nil {
				t.Fatalf("error when running validation statement \"%s\": %s", stmt, err)
			}
			if err = rows.Err(); err != nil {
				t.Fatalf("error when running validation statement \"%s\": %s", stmt, err)
			}
			defer rows.Close()

			validate(t, rows)
		}()
	}
}
