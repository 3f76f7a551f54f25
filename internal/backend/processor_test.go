package backend

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/mysql-csv-importer/internal/connector"
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const customerInsert = "INSERT INTO `customers` (`name`, `age`) VALUES (?, ?)"

var shop = models.Credentials{Host: "localhost", Port: "3306", Database: "shop", User: "importer", Password: "secret"}

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

// startProcessor runs a processor whose sessions are backed by sqlmock
func startProcessor(t *testing.T, logger *logrus.Logger) (*Processor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialer := func(ctx context.Context, creds models.Credentials, logger *logrus.Logger) (*connector.DatabaseConnector, error) {
		dc := connector.NewDatabaseConnector(creds, logger)
		if err := dc.Attach(ctx, db); err != nil {
			return nil, err
		}
		return dc, nil
	}

	p := NewProcessor(logger, WithDialer(dialer))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return p, mock
}

// request sends the command built around a fresh reply channel and waits for the answer
func request[T any](t *testing.T, p *Processor, build func(chan<- T) Command) T {
	t.Helper()
	reply := make(chan T, 1)
	require.NoError(t, p.Send(context.Background(), build(reply)))
	select {
	case v := <-reply:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	var zero T
	return zero
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func connect(t *testing.T, p *Processor, mock sqlmock.Sqlmock, tables ...string) {
	t.Helper()
	rows := sqlmock.NewRows([]string{"table_name"})
	for _, name := range tables {
		rows.AddRow(name)
	}
	mock.ExpectQuery("information_schema.tables").WithArgs("shop").WillReturnRows(rows)

	res := request(t, p, func(r chan<- ConnectResult) Command {
		return ValidateCredentials{Credentials: shop, Reply: r}
	})
	require.NoError(t, res.Err)
	require.Equal(t, len(tables), res.Tables)
}

func expectCustomerColumns(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("information_schema.columns").
		WithArgs("shop", "customers").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable", "column_key", "column_default", "extra"}).
			AddRow("name", "varchar(10)", "NO", "", nil, "").
			AddRow("age", "int", "YES", "", nil, ""))
}

func loadFile(t *testing.T, p *Processor, path string) LoadResult {
	t.Helper()
	return request(t, p, func(r chan<- LoadResult) Command {
		return LoadFile{Path: path, Options: grid.DefaultLoadOptions(), Reply: r}
	})
}

func describe(t *testing.T, p *Processor, index int) DescribeResult {
	t.Helper()
	return request(t, p, func(r chan<- DescribeResult) Command {
		return DescribeTable{Index: index, Reply: r}
	})
}

func TestValidateCredentialsListsTables(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers", "orders")

	verified := request(t, p, func(r chan<- bool) Command { return CredentialsValidated{Reply: r} })
	assert.True(t, verified)

	catalog, ok := p.TryCatalogSnapshot()
	require.True(t, ok)
	require.Len(t, catalog.Tables, 2)
	assert.Equal(t, "customers", catalog.Tables[0].Name)
	assert.False(t, catalog.Tables[0].Described)
	assert.Equal(t, -1, catalog.Selected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateCredentialsBadPort(t *testing.T) {
	p := NewProcessor(createTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	creds := shop
	creds.Port = "not-a-port"
	res := request(t, p, func(r chan<- ConnectResult) Command {
		return ValidateCredentials{Credentials: creds, Reply: r}
	})

	var cerr *models.ConnectionError
	require.True(t, errors.As(res.Err, &cerr))
	assert.Equal(t, models.BadPort, cerr.Kind)

	verified := request(t, p, func(r chan<- bool) Command { return CredentialsValidated{Reply: r} })
	assert.False(t, verified)
}

func TestDescribeRequiresSession(t *testing.T) {
	p, _ := startProcessor(t, createTestLogger())
	res := describe(t, p, 0)
	assert.ErrorIs(t, res.Err, models.ErrNotConnected)
}

func TestLoadFileKeepsGridOnFailure(t *testing.T) {
	p, _ := startProcessor(t, createTestLogger())
	good := writeCSV(t, "good.csv", "name,age\nAda,41\n")

	res := loadFile(t, p, good)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.Cols)
	assert.True(t, res.HasHeader)

	ragged := writeCSV(t, "ragged.csv", "name,age\nAda\n")
	res = loadFile(t, p, ragged)
	var ierr *models.ImportError
	require.True(t, errors.As(res.Err, &ierr))
	assert.Equal(t, 2, ierr.Line)

	res = loadFile(t, p, filepath.Join(t.TempDir(), "missing.csv"))
	require.True(t, errors.As(res.Err, &ierr))

	g, ok := p.TryGridSnapshot()
	require.True(t, ok)
	assert.Equal(t, good, g.Path, "a failed load must leave the previous grid in place")
	assert.Equal(t, 2, g.Rows())
}

func TestDescribeTableMapsHeaders(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers")
	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "id,name\n1,Ada\n2,Grace\n")).Err)

	expectCustomerColumns(mock)
	res := describe(t, p, 0)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Fields)
	assert.Equal(t, []int{0}, res.Mapped)

	catalog, ok := p.TryCatalogSnapshot()
	require.True(t, ok)
	assert.Equal(t, 0, catalog.Selected)
	table := catalog.Tables[0]
	col, mapped := table.Fields[0].Column()
	assert.True(t, mapped)
	assert.Equal(t, 1, col)
	_, mapped = table.Fields[1].Column()
	assert.False(t, mapped, "age has no header and stays unmapped")

	g, ok := p.TryGridSnapshot()
	require.True(t, ok)
	assert.True(t, g.ParsedColumns[1])
	assert.False(t, g.ParsedColumns[0])
	assert.False(t, g.AllParsed)
	header, err := g.Cell(0, 1)
	require.NoError(t, err)
	assert.Nil(t, header.Field, "header cells are never bound")

	// A described table is not queried again
	res = describe(t, p, 0)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Fields)

	res = describe(t, p, 5)
	var serr *models.SchemaError
	require.True(t, errors.As(res.Err, &serr))
	assert.Equal(t, models.TableIndex, serr.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeTableWithoutMatchingHeaders(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers")
	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "a,b\n1,2\n")).Err)

	expectCustomerColumns(mock)
	res := describe(t, p, 0)
	var merr *models.MappingError
	require.True(t, errors.As(res.Err, &merr))
	assert.Equal(t, 2, res.Fields)
	assert.Empty(t, res.Mapped)
}

func TestRemapAndUpdateCell(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers")
	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "name,years\nAda,41\nGrace,85\n")).Err)
	expectCustomerColumns(mock)
	require.NoError(t, describe(t, p, 0).Err)

	remap := func(field, col int) error {
		return request(t, p, func(r chan<- error) Command {
			return RemapField{Table: 0, Field: field, Column: col, Reply: r}
		})
	}
	require.NoError(t, remap(1, 1))

	g, _ := p.TryGridSnapshot()
	assert.True(t, g.AllParsed)

	err := request(t, p, func(r chan<- error) Command {
		return UpdateCell{Row: 2, Column: 1, Value: "eighty", Reply: r}
	})
	require.NoError(t, err)

	col := request(t, p, func(r chan<- ColumnResult) Command {
		return MapAndValidateColumn{Column: 1, Reply: r}
	})
	require.NoError(t, col.Err)
	assert.False(t, col.Parsed)

	g, _ = p.TryGridSnapshot()
	cell, cerr := g.Cell(2, 1)
	require.NoError(t, cerr)
	require.NotNil(t, cell.Outcome)
	assert.Equal(t, models.NotANumber, cell.Outcome.Err.Kind)

	err = request(t, p, func(r chan<- error) Command {
		return UpdateCell{Row: 9, Column: 0, Value: "x", Reply: r}
	})
	var serr *models.SchemaError
	assert.True(t, errors.As(err, &serr))

	require.NoError(t, remap(1, -1))
	catalog, _ := p.TryCatalogSnapshot()
	_, mapped := catalog.Tables[0].Fields[1].Column()
	assert.False(t, mapped)

	assert.True(t, errors.As(remap(1, 7), &serr))
	assert.True(t, errors.As(remap(4, 0), &serr))
}

func TestInsertStreamOrdering(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers")
	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "name,age\nAda,41\nGrace,85\nEdsger,72\n")).Err)
	expectCustomerColumns(mock)
	require.NoError(t, describe(t, p, 0).Err)

	mock.ExpectExec(regexp.QuoteMeta("SET autocommit=0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(customerInsert)).WithArgs("Ada", "41").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(customerInsert)).WithArgs("Grace", "85").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta(customerInsert)).WithArgs("Edsger", "72").WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectRollback()

	ctx := context.Background()
	results := make(chan models.QueryResult, ResultStreamDepth)
	done := make(chan models.InsertSummary, 1)
	rolledBack := make(chan models.QueryResult, 1)
	require.NoError(t, p.Send(ctx, StartInsert{Table: 0, Results: results, Done: done}))
	require.NoError(t, p.Send(ctx, Rollback{Reply: rolledBack}))

	// The third row is held back by the full stream, so the rollback cannot have run yet
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rolledBack)

	var rows []int
	summary, err := DrainInsert(ctx, results, done, func(r models.QueryResult) {
		assert.True(t, r.OK())
		rows = append(rows, r.Row)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, rows)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, "customers", summary.Table)

	select {
	case rb := <-rolledBack:
		assert.NoError(t, rb.Err)
		assert.Equal(t, "ROLLBACK", rb.Query)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for rollback")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTransactionRules(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers")

	res := request(t, p, func(r chan<- models.QueryResult) Command { return Commit{Reply: r} })
	var qerr *models.QueryError
	require.True(t, errors.As(res.Err, &qerr))
	assert.ErrorIs(t, res.Err, models.ErrNoTransaction)

	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "name,age\nAda,41\n")).Err)
	expectCustomerColumns(mock)
	require.NoError(t, describe(t, p, 0).Err)

	mock.ExpectExec(regexp.QuoteMeta("SET autocommit=0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(customerInsert)).WithArgs("Ada", "41").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	insert := func() models.InsertSummary {
		results := make(chan models.QueryResult, ResultStreamDepth)
		done := make(chan models.InsertSummary, 1)
		require.NoError(t, p.Send(context.Background(), StartInsert{Table: 0, Results: results, Done: done}))
		summary, err := DrainInsert(context.Background(), results, done, nil)
		require.NoError(t, err)
		return summary
	}

	first := insert()
	require.NoError(t, first.Err)
	assert.Equal(t, 1, first.Succeeded)

	second := insert()
	assert.ErrorIs(t, second.Err, models.ErrTransactionInProgress)
	assert.Equal(t, 0, second.Attempted)

	res = request(t, p, func(r chan<- models.QueryResult) Command { return Commit{Reply: r} })
	assert.NoError(t, res.Err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonedReplyIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	p, _ := startProcessor(t, logger)

	nobody := make(chan bool)
	require.NoError(t, p.Send(context.Background(), CredentialsValidated{Reply: nobody}))

	// The processor is still alive and answers the next command
	verified := request(t, p, func(r chan<- bool) Command { return CredentialsValidated{Reply: r} })
	assert.False(t, verified)

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "receiver is gone") {
			found = true
		}
	}
	assert.True(t, found, "a dropped reply must be logged")
}

func TestTrySendOnFullQueue(t *testing.T) {
	p := NewProcessor(createTestLogger(), WithQueueSize(1))
	assert.True(t, p.TrySend(CredentialsValidated{}))
	assert.False(t, p.TrySend(CredentialsValidated{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Send(ctx, CredentialsValidated{}), context.Canceled)
}

func TestStartInsertWithoutResultStream(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers")
	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "name,age\nAda,41\n")).Err)
	expectCustomerColumns(mock)
	require.NoError(t, describe(t, p, 0).Err)

	summary := request(t, p, func(r chan<- models.InsertSummary) Command {
		return StartInsert{Table: 0, Done: r}
	})
	assert.ErrorIs(t, summary.Err, models.ErrNoResultStream)
	assert.Zero(t, summary.Attempted)

	// The processor keeps answering and no transaction was opened
	verified := request(t, p, func(r chan<- bool) Command { return CredentialsValidated{Reply: r} })
	assert.True(t, verified)
	res := request(t, p, func(r chan<- models.QueryResult) Command { return Rollback{Reply: r} })
	assert.ErrorIs(t, res.Err, models.ErrNoTransaction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeAnotherTableReleasesPrevious(t *testing.T) {
	p, mock := startProcessor(t, createTestLogger())
	connect(t, p, mock, "customers", "orders")
	require.NoError(t, loadFile(t, p, writeCSV(t, "c.csv", "name,total\nAda,12\n")).Err)

	expectCustomerColumns(mock)
	require.NoError(t, describe(t, p, 0).Err)
	g, _ := p.TryGridSnapshot()
	require.True(t, g.ParsedColumns[0])

	mock.ExpectQuery("information_schema.columns").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable", "column_key", "column_default", "extra"}).
			AddRow("total", "int", "NO", "", nil, ""))
	res := describe(t, p, 1)
	require.NoError(t, res.Err)
	assert.Equal(t, []int{0}, res.Mapped)

	catalog, ok := p.TryCatalogSnapshot()
	require.True(t, ok)
	assert.Equal(t, 1, catalog.Selected)
	assert.Empty(t, catalog.Tables[0].MappedFields(), "customers keeps no mapping")

	g, ok = p.TryGridSnapshot()
	require.True(t, ok)
	name, err := g.Cell(1, 0)
	require.NoError(t, err)
	assert.Nil(t, name.Field)
	assert.False(t, g.ParsedColumns[0])

	total, err := g.Cell(1, 1)
	require.NoError(t, err)
	require.NotNil(t, total.Field)
	assert.Equal(t, "total", total.Field.Field)
	assert.True(t, g.ParsedColumns[1])
	assert.False(t, g.AllParsed, "the name column is not mapped to orders")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateCredentialsFailedListingClearsTables(t *testing.T) {
	first, firstMock, err := sqlmock.New()
	require.NoError(t, err)
	second, secondMock, err := sqlmock.New()
	require.NoError(t, err)
	dbs := []*sql.DB{first, second}

	dialer := func(ctx context.Context, creds models.Credentials, logger *logrus.Logger) (*connector.DatabaseConnector, error) {
		db := dbs[0]
		dbs = dbs[1:]
		dc := connector.NewDatabaseConnector(creds, logger)
		return dc, dc.Attach(ctx, db)
	}
	p := NewProcessor(createTestLogger(), WithDialer(dialer))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	connect(t, p, firstMock, "customers", "orders")

	secondMock.ExpectQuery("information_schema.tables").WithArgs("archive").WillReturnError(errors.New("Access denied"))
	archive := shop
	archive.Database = "archive"
	res := request(t, p, func(r chan<- ConnectResult) Command {
		return ValidateCredentials{Credentials: archive, Reply: r}
	})
	var qerr *models.QueryError
	assert.True(t, errors.As(res.Err, &qerr))

	verified := request(t, p, func(r chan<- bool) Command { return CredentialsValidated{Reply: r} })
	assert.True(t, verified, "the new session stays connected")
	catalog, ok := p.TryCatalogSnapshot()
	require.True(t, ok)
	assert.Empty(t, catalog.Tables, "tables of the previous database are gone")
	assert.Equal(t, -1, catalog.Selected)
	assert.NoError(t, secondMock.ExpectationsWereMet())
}
