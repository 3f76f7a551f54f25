package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const tablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ?
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

const columnsQuery = `
		SELECT
			column_name,
			column_type,
			is_nullable,
			column_key,
			column_default,
			extra
		FROM information_schema.columns
		WHERE table_schema = ?
		AND table_name = ?
		ORDER BY ordinal_position
	`

// QueryExecutor runs read queries against the session database
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error)
	DatabaseName() string
}

// SchemaAnalyzer discovers the tables of the target database and describes their columns
type SchemaAnalyzer struct {
	DB     QueryExecutor
	Logger *logrus.Logger
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(db QueryExecutor, logger *logrus.Logger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		DB:     db,
		Logger: logger,
	}
}

// ListTables returns one undescribed entry per base table, ordered by name
func (sa *SchemaAnalyzer) ListTables(ctx context.Context) ([]models.Table, error) {
	rows, err := sa.DB.ExecuteQuery(ctx, tablesQuery, sa.DB.DatabaseName())
	if err != nil {
		sa.Logger.Errorf("Error getting tables: %v", err)
		return nil, &models.QueryError{SQL: tablesQuery, Err: err}
	}

	tables := make([]models.Table, 0, len(rows))
	for _, row := range rows {
		name, err := stringValue(row, "table_name")
		if err != nil {
			return nil, &models.SchemaError{Err: err}
		}
		tables = append(tables, models.Table{Name: name})
	}
	sa.Logger.Infof("Found %d tables in %s", len(tables), sa.DB.DatabaseName())
	return tables, nil
}

// LoadCatalog replaces the catalog's tables with the tables of the database
func (sa *SchemaAnalyzer) LoadCatalog(ctx context.Context, catalog *models.Catalog) error {
	tables, err := sa.ListTables(ctx)
	if err != nil {
		return err
	}
	catalog.Tables = tables
	catalog.Selected = -1
	return nil
}

// Describe fills in the fields of table, each starting unmapped. A table that is already
// described is left as is, so calling Describe twice never duplicates fields.
func (sa *SchemaAnalyzer) Describe(ctx context.Context, table *models.Table) error {
	if table.Described {
		sa.Logger.Debugf("Table %s already described", table.Name)
		return nil
	}

	rows, err := sa.DB.ExecuteQuery(ctx, columnsQuery, sa.DB.DatabaseName(), table.Name)
	if err != nil {
		sa.Logger.Errorf("Failed to retrieve columns for table %s: %v", table.Name, err)
		return &models.QueryError{SQL: columnsQuery, Err: err}
	}

	fields := make([]models.TableField, 0, len(rows))
	for _, row := range rows {
		fd, err := fieldDescription(row)
		if err != nil {
			return &models.SchemaError{Table: table.Name, Err: err}
		}
		sa.Logger.Debugf("Discovering field '%s' (%s) of table '%s'", fd.Field, fd.Type, table.Name)
		fields = append(fields, models.TableField{Description: fd})
	}

	table.Fields = fields
	table.Described = true
	sa.Logger.Infof("Described table %s: %d fields", table.Name, len(fields))
	return nil
}

func fieldDescription(row map[string]interface{}) (models.FieldDescription, error) {
	var fd models.FieldDescription
	var err error
	if fd.Field, err = stringValue(row, "column_name"); err != nil {
		return fd, err
	}
	if fd.Type, err = stringValue(row, "column_type"); err != nil {
		return fd, err
	}
	if fd.Null, err = stringValue(row, "is_nullable"); err != nil {
		return fd, err
	}
	if fd.Key, err = stringValue(row, "column_key"); err != nil {
		return fd, err
	}
	if fd.Extra, err = stringValue(row, "extra"); err != nil {
		return fd, err
	}
	if v, _ := lookup(row, "column_default"); v != nil {
		def := fmt.Sprintf("%v", v)
		fd.Default = &def
	}
	return fd, nil
}

// stringValue reads a column that must not be NULL. Some MySQL versions report
// information_schema column names in upper case, so both spellings are accepted.
func stringValue(row map[string]interface{}, column string) (string, error) {
	v, ok := lookup(row, column)
	if !ok || v == nil {
		return "", fmt.Errorf("missing %s in schema query result", column)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

func lookup(row map[string]interface{}, column string) (interface{}, bool) {
	if v, ok := row[column]; ok {
		return v, true
	}
	v, ok := row[strings.ToUpper(column)]
	return v, ok
}
