package populator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// StatementExecutor is the part of the session the insert pipeline drives
type StatementExecutor interface {
	BeginTransaction(ctx context.Context) error
	ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error)
}

// DatabasePopulator inserts grid rows into a table inside one open transaction
type DatabasePopulator struct {
	DB     StatementExecutor
	Logger *logrus.Logger
}

// NewDatabasePopulator creates a new database populator
func NewDatabasePopulator(db StatementExecutor, logger *logrus.Logger) *DatabasePopulator {
	return &DatabasePopulator{
		DB:     db,
		Logger: logger,
	}
}

// quoteIdent quotes a MySQL identifier
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// BuildInsert prepares the parameterized INSERT for the mapped fields of table, in field order
func BuildInsert(table *models.Table) (string, []models.TableField, error) {
	fields := table.MappedFields()
	if len(fields) == 0 {
		return "", nil, &models.MappingError{Table: table.Name, Fields: len(table.Fields), Err: models.ErrNoMappedFields}
	}

	columnNames := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		columnNames[i] = quoteIdent(f.Description.Field)
		placeholders[i] = "?"
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table.Name),
		strings.Join(columnNames, ", "),
		strings.Join(placeholders, ", "),
	)
	return insertSQL, fields, nil
}

// PopulateTable opens a transaction and inserts every data row of g into table, sending one
// QueryResult per row on results in grid order. A failed row does not stop the loop. The send
// blocks while results is full. The transaction is left open for the caller to commit or roll
// back. The returned summary carries Err when the run could not start.
func (dp *DatabasePopulator) PopulateTable(ctx context.Context, g *grid.Grid, table *models.Table, results chan<- models.QueryResult) models.InsertSummary {
	summary := models.InsertSummary{RunID: uuid.NewString(), Table: table.Name}

	insertSQL, fields, err := BuildInsert(table)
	if err != nil {
		dp.Logger.Warningf("Not inserting into %s: %v", table.Name, err)
		summary.Err = err
		return summary
	}
	for _, f := range fields {
		col, _ := f.Column()
		if err := g.CheckColumn(col); err != nil {
			dp.Logger.Errorf("Field %s is mapped to a missing column: %v", f.Description.Field, err)
			summary.Err = err
			return summary
		}
	}

	if err := dp.DB.BeginTransaction(ctx); err != nil {
		dp.Logger.Errorf("Error starting transaction for %s: %v", table.Name, err)
		summary.Err = err
		return summary
	}
	dp.Logger.Infof("Inserting %d rows into %s (run %s)", g.DataRows(), table.Name, summary.RunID)

	for r := g.FirstDataRow(); r < g.Rows(); r++ {
		row, err := g.Row(r)
		if err != nil {
			summary.Err = err
			return summary
		}

		params := make([]interface{}, len(fields))
		for i, f := range fields {
			col, _ := f.Column()
			params[i] = row[col].Value
		}

		result := models.QueryResult{RunID: summary.RunID, Row: r, Query: insertSQL, Args: params}
		affected, err := dp.DB.ExecuteStatement(ctx, insertSQL, params...)
		summary.Attempted++
		if err != nil {
			dp.Logger.Warningf("Row %d of %s failed: %v", r, table.Name, err)
			result.Err = &models.QueryError{SQL: insertSQL, Err: err}
			summary.Failed++
		} else {
			result.RowsAffected = affected
			summary.Succeeded++
		}

		select {
		case results <- result:
		case <-ctx.Done():
			summary.Err = ctx.Err()
			return summary
		}
	}

	dp.Logger.Infof("Insert into %s finished: %d succeeded, %d failed", table.Name, summary.Succeeded, summary.Failed)
	return summary
}
