package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tigerroll/famsync/pkg/sync/adaptor/database"
	dbconfig "github.com/tigerroll/famsync/pkg/sync/adaptor/database/config"
	"github.com/tigerroll/famsync/pkg/sync/support/util/logger"
)

// TableNamer represents a struct that has a TableName() string method.
type TableNamer interface {
	TableName() string
}

// applyTableName applies the table name to the GORM DB session if the model
// implements the TableNamer interface, resolving slices to their element
// type.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	val := reflect.ValueOf(model)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}

	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		elemType := val.Type().Elem()
		if elemType.Kind() == reflect.Ptr {
			elemType = elemType.Elem()
		}
		if reflect.New(elemType).Type().Implements(reflect.TypeOf((*TableNamer)(nil)).Elem()) {
			if namer, ok := reflect.New(elemType).Interface().(TableNamer); ok {
				return db.Table(namer.TableName())
			}
		}
	}

	return db.Model(model)
}

// NewGormLogger creates a gorm logger instance for the given level, routed
// through the application logger.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch strings.ToUpper(level) {
	case "SILENT":
		gormLevel = gorm_logger.Silent
	case "ERROR":
		gormLevel = gorm_logger.Error
	case "WARN":
		gormLevel = gorm_logger.Warn
	case "INFO", "DEBUG":
		gormLevel = gorm_logger.Info
	default:
		gormLevel = gorm_logger.Silent
	}

	return gorm_logger.New(
		NewGormWriter(),
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements the gorm logger Writer interface.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	// SQL trace lines are demoted to DEBUG; everything else is INFO.
	if strings.Contains(msg, "[") && strings.Contains(msg, "]") &&
		(strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE")) {
		logger.Debugf("[GORM] %s", msg)
	} else {
		logger.Infof("[GORM] %s", msg)
	}
}

// isTableNotExistError covers the table-not-found errors of the supported
// dialects.
func isTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return (strings.Contains(errMsg, "relation \"") && strings.Contains(errMsg, "\" does not exist")) || // PostgreSQL
		(strings.Contains(errMsg, "Error 1146") && strings.Contains(errMsg, "doesn't exist")) || // MySQL
		strings.Contains(errMsg, "no such table:") // SQLite
}

// GormDBAdapter implements database.DBConnection.
type GormDBAdapter struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    dbconfig.DatabaseConfig
	dbType string
	name   string
}

// NewGormDBAdapter creates a new GormDBAdapter.
func NewGormDBAdapter(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) database.DBConnection {
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatalf("Failed to get underlying *sql.DB: %v", err)
	}

	return &GormDBAdapter{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		dbType: cfg.Type,
		name:   name,
	}
}

// GetGormDB returns the underlying *gorm.DB instance.
// Intended for use within the gorm adaptor package only.
func (a *GormDBAdapter) GetGormDB() *gorm.DB {
	return a.db
}

func (a *GormDBAdapter) Close() error {
	if a.sqlDB != nil {
		logger.Infof("Closing database connection '%s'...", a.name)
		return a.sqlDB.Close()
	}
	return nil
}

func (a *GormDBAdapter) Type() string {
	return a.dbType
}

func (a *GormDBAdapter) Name() string {
	return a.name
}

// IsTableNotExistError implements database.DBConnection.
func (a *GormDBAdapter) IsTableNotExistError(err error) bool {
	return isTableNotExistError(err)
}

// RefreshConnection implements database.DBConnection.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	return a.sqlDB.PingContext(ctx)
}

// Config implements database.DBConnection.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

// GetSQLDB implements database.DBConnection.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return a.sqlDB, nil
}

// ExecuteQuery implements database.DBConnection.
func (a *GormDBAdapter) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, target)

	result := db.Where(query).Find(target)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// ExecuteQueryAdvanced implements database.DBConnection.
func (a *GormDBAdapter) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, target)

	if query != nil {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}

	result := db.Find(target)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// Count implements database.DBConnection.
func (a *GormDBAdapter) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, model)

	if query != nil {
		db = db.Where(query)
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Pluck implements database.DBConnection.
func (a *GormDBAdapter) Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error {
	db := a.db.WithContext(ctx)
	db = applyTableName(db, model)

	if query != nil {
		db = db.Where(query)
	}

	db = db.Distinct()
	if err := db.Pluck(column, target).Error; err != nil {
		return err
	}
	return nil
}

// ExecuteUpdate implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error) {
	db := a.db.WithContext(ctx)
	db = db.Session(&gorm.Session{SkipDefaultTransaction: true})

	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		result = db.Model(model).Where(query).Updates(model)
	case "DELETE":
		if query != nil {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}

	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExecuteUpsert implements database.DBExecutor.
func (a *GormDBAdapter) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error) {
	db := a.db.WithContext(ctx)
	db = db.Session(&gorm.Session{SkipDefaultTransaction: true})

	if tableName != "" {
		db = db.Table(tableName)
	}

	var columns []clause.Column
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}

	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
