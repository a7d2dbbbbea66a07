package gorm

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
)

type familyRow struct {
	ID               string `gorm:"column:id;primaryKey"`
	FamilyExternalID string `gorm:"column:family_external_id"`
}

func (familyRow) TableName() string { return "sync_family" }

// setupAdapterMock wires a mocked *sql.DB into a GORM MySQL dialector.
func setupAdapterMock(t *testing.T) (*GormDBAdapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		sqlDB.Close()
	})

	gormDB, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	adapter := NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mysql"}, "audit").(*GormDBAdapter)
	return adapter, mock
}

func TestExecuteQueryResolvesEntityTableName(t *testing.T) {
	adapter, mock := setupAdapterMock(t)

	mock.ExpectQuery("SELECT \\* FROM `sync_family` WHERE `family_external_id` = \\?").
		WithArgs("fam-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "family_external_id"}).AddRow("row-1", "fam-1"))

	var rows []familyRow
	err := adapter.ExecuteQuery(context.Background(), &rows, map[string]interface{}{"family_external_id": "fam-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "row-1", rows[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQueryAdvancedAppliesOrderAndLimit(t *testing.T) {
	adapter, mock := setupAdapterMock(t)

	mock.ExpectQuery("SELECT \\* FROM `sync_family` ORDER BY last_transacted_at desc LIMIT \\?").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var rows []familyRow
	err := adapter.ExecuteQueryAdvanced(context.Background(), &rows, nil, "last_transacted_at desc", 5)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountFiltersByQuery(t *testing.T) {
	adapter, mock := setupAdapterMock(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `sync_family` WHERE `family_external_id` = \\?").
		WithArgs("fam-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := adapter.Count(context.Background(), &familyRow{}, map[string]interface{}{"family_external_id": "fam-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateCreateSkipsTransaction(t *testing.T) {
	adapter, mock := setupAdapterMock(t)

	// SkipDefaultTransaction is enabled, so no BEGIN/COMMIT is expected.
	mock.ExpectExec("INSERT INTO `sync_family`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	row := &familyRow{ID: "row-1", FamilyExternalID: "fam-1"}
	affected, err := adapter.ExecuteUpdate(context.Background(), row, "CREATE", "sync_family", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpdateRejectsUnknownOperation(t *testing.T) {
	adapter, _ := setupAdapterMock(t)

	_, err := adapter.ExecuteUpdate(context.Background(), &familyRow{}, "MERGE", "sync_family", nil)
	assert.Error(t, err)
}

func TestIsTableNotExistError(t *testing.T) {
	assert.True(t, isTableNotExistError(errors.New(`relation "sync_family" does not exist`)))
	assert.True(t, isTableNotExistError(errors.New("Error 1146 (42S02): Table 'audit.sync_family' doesn't exist")))
	assert.True(t, isTableNotExistError(errors.New("no such table: sync_family")))
	assert.False(t, isTableNotExistError(errors.New("connection refused")))
	assert.False(t, isTableNotExistError(nil))
}
