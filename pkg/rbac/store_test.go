package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var grantColumns = []string{"id", "user_id", "permission_id", "granted_by", "granted_at", "expires_at", "conditions", "scope"}

func newMockLedger(t *testing.T) (*SQLLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLLedger(db), mock
}

func TestSQLLedger_Append(t *testing.T) {
	ledger, mock := newMockLedger(t)
	expires := testNow.Add(time.Hour)

	mock.ExpectExec("INSERT INTO permission_grants").
		WithArgs(sqlmock.AnyArg(), "u-1", "teams.manage", "admin-1", testNow, expires, "[]", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	grant := &PermissionGrant{UserID: "u-1", Permission: "teams.manage", GrantedBy: "admin-1", GrantedAt: testNow, ExpiresAt: &expires}
	require.NoError(t, ledger.Append(context.Background(), grant))
	assert.NotEmpty(t, grant.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AppendError(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec("INSERT INTO permission_grants").WillReturnError(errors.New("disk full"))

	err := ledger.Append(context.Background(), testGrant("u-1", "teams.manage", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert grant")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_Remove(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec("DELETE FROM permission_grants WHERE user_id").
		WithArgs("u-1", "teams.manage").
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := ledger.Remove(context.Background(), "u-1", "teams.manage")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	mock.ExpectExec("DELETE FROM permission_grants WHERE user_id").WillReturnError(sql.ErrConnDone)
	_, err = ledger.Remove(context.Background(), "u-1", "teams.manage")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_ListForUser(t *testing.T) {
	ledger, mock := newMockLedger(t)
	expires := testNow.Add(time.Hour)

	rows := sqlmock.NewRows(grantColumns).
		AddRow("g-1", "u-1", "teams.manage", "admin-1", testNow, expires,
			`[{"type":"context","rule":"require_approval","value":true}]`, `{"department_id":"dept-1"}`).
		AddRow("g-2", "u-1", "tags.manage", "admin-1", testNow, nil, "[]", nil)
	mock.ExpectQuery("SELECT (.+) FROM permission_grants").WithArgs("u-1").WillReturnRows(rows)

	grants, err := ledger.ListForUser(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, grants, 2)

	assert.Equal(t, "g-1", grants[0].ID)
	require.NotNil(t, grants[0].ExpiresAt)
	assert.True(t, expires.Equal(*grants[0].ExpiresAt))
	require.Len(t, grants[0].Conditions, 1)
	assert.Equal(t, true, grants[0].Conditions[0].Value)
	assert.Equal(t, "dept-1", grants[0].Scope.DepartmentID)

	assert.Nil(t, grants[1].ExpiresAt)
	assert.Empty(t, grants[1].Conditions)
	assert.Nil(t, grants[1].Scope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_ListForUserErrors(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT (.+) FROM permission_grants").WillReturnError(errors.New("connection reset"))
	_, err := ledger.ListForUser(context.Background(), "u-1")
	assert.Error(t, err)

	rows := sqlmock.NewRows(grantColumns).
		AddRow("g-1", "u-1", "teams.manage", "admin-1", testNow, nil, "{not json", nil)
	mock.ExpectQuery("SELECT (.+) FROM permission_grants").WillReturnRows(rows)
	_, err = ledger.ListForUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal conditions")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_RemoveExpired(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectExec("DELETE FROM permission_grants WHERE expires_at IS NOT NULL AND expires_at <=").
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	removed, err := ledger.RemoveExpired(context.Background(), testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_CountGrants(t *testing.T) {
	ledger, mock := newMockLedger(t)

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := ledger.CountGrants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM rbac_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO rbac_migrations").WithArgs(3, sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), db, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rbac_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM rbac_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS permission_grants").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = RunMigrations(context.Background(), db, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openSQLiteDB(t)

	require.NoError(t, RunMigrations(context.Background(), db, nil))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM rbac_migrations").Scan(&count))
	assert.Equal(t, len(GetMigrations()), count)
}
