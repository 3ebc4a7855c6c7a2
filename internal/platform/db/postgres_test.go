package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestConnectRequiresDSN(t *testing.T) {
	_, err := Connect("", Options{})
	require.ErrorContains(t, err, "dsn is required")
}

func TestPingAndClose(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	pg := &Postgres{DB: gormDB}

	mock.ExpectPing()
	mock.ExpectClose()

	require.NoError(t, pg.Ping(context.Background()))
	require.NoError(t, pg.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilPostgresIsSafe(t *testing.T) {
	var pg *Postgres
	require.NoError(t, pg.Close())
	require.Error(t, pg.Ping(context.Background()))
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return gormDB, mock
}

func TestEmbeddedMigrationsDeclareUniqueKeys(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, "0001_deal_governance", migrations[0].Version)

	script := strings.Join(migrations[0].Statements, "\n")
	for _, fragment := range []string{
		"CREATE TABLE IF NOT EXISTS delegations",
		"CREATE TABLE IF NOT EXISTS amendments",
		"ON deal_memberships (deal_id, party_id)",
		"ON deal_parties (invitation_token)",
		"amendment_id TEXT PRIMARY KEY REFERENCES amendments (amendment_id)",
		"PRIMARY KEY (deal_id, party_id)",
	} {
		require.Contains(t, script, fragment)
	}
}

func TestSplitStatementsDropsBlanks(t *testing.T) {
	statements := splitStatements("CREATE TABLE a (id TEXT);\n\n  ;CREATE INDEX i ON a (id);\n")
	require.Equal(t, []string{"CREATE TABLE a (id TEXT)", "CREATE INDEX i ON a (id)"}, statements)
}

func TestApplySkipsRecordedVersions(t *testing.T) {
	gormDB, mock := newMockDB(t)
	migrations := []Migration{
		{Version: "0001_base", Statements: []string{"CREATE TABLE a (id TEXT)"}},
		{Version: "0002_next", Statements: []string{"CREATE TABLE b (id TEXT)", "CREATE INDEX ib ON b (id)"}},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM schema_migrations WHERE version = \$1`).
		WithArgs("0001_base").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM schema_migrations WHERE version = \$1`).
		WithArgs("0002_next").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX ib`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).
		WithArgs("0002_next", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, apply(context.Background(), gormDB, migrations, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollsBackFailedVersion(t *testing.T) {
	gormDB, mock := newMockDB(t)
	migrations := []Migration{
		{Version: "0001_base", Statements: []string{"CREATE TABLE a (id TEXT)", "CREATE TABLE broken"}},
		{Version: "0002_next", Statements: []string{"CREATE TABLE b (id TEXT)"}},
	}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE broken`).WillReturnError(errors.New("syntax error at end of input"))
	mock.ExpectRollback()

	err := apply(context.Background(), gormDB, migrations, nil)
	require.ErrorContains(t, err, "apply migration 0001_base")
	require.NoError(t, mock.ExpectationsWereMet())
}
