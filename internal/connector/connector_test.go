package connector

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func testCredentials() models.Credentials {
	return models.Credentials{
		Host:     "test-host",
		User:     "test-user",
		Password: "test-password",
		Database: "test-database",
		Port:     "3307",
	}
}

// newMockSession returns a connected session backed by sqlmock
func newMockSession(t *testing.T) (*DatabaseConnector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	dc := NewDatabaseConnector(testCredentials(), createTestLogger())
	if err := dc.Attach(context.Background(), db); err != nil {
		t.Fatalf("Expected attach to succeed, got %v", err)
	}
	return dc, mock
}

func TestNewDatabaseConnector(t *testing.T) {
	db := NewDatabaseConnector(testCredentials(), createTestLogger())

	if db.Host != "test-host" {
		t.Errorf("Expected host to be 'test-host', got '%s'", db.Host)
	}
	if db.User != "test-user" {
		t.Errorf("Expected user to be 'test-user', got '%s'", db.User)
	}
	if db.Password != "test-password" {
		t.Errorf("Expected password to be 'test-password', got '%s'", db.Password)
	}
	if db.Database != "test-database" {
		t.Errorf("Expected database to be 'test-database', got '%s'", db.Database)
	}
	if db.Port != "3307" {
		t.Errorf("Expected port to be '3307', got '%s'", db.Port)
	}
	if db.State != Disconnected || db.Verified() {
		t.Error("Expected a new connector to be disconnected")
	}
}

func TestConfig(t *testing.T) {
	db := NewDatabaseConnector(testCredentials(), createTestLogger())
	cfg, err := db.Config()
	if err != nil {
		t.Fatalf("Expected config to build, got %v", err)
	}
	if cfg.Addr != "test-host:3307" {
		t.Errorf("Expected address 'test-host:3307', got '%s'", cfg.Addr)
	}
	if cfg.DBName != "test-database" || cfg.User != "test-user" || cfg.Passwd != "test-password" {
		t.Errorf("Unexpected config: %+v", cfg)
	}

	tests := []struct {
		name string
		edit func(*models.Credentials)
		kind models.ConnectionKind
	}{
		{"non numeric port", func(c *models.Credentials) { c.Port = "abc" }, models.BadPort},
		{"port out of range", func(c *models.Credentials) { c.Port = "70000" }, models.BadPort},
		{"missing host", func(c *models.Credentials) { c.Host = "" }, models.MissingParam},
		{"missing database", func(c *models.Credentials) { c.Database = "" }, models.MissingParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := testCredentials()
			tt.edit(&creds)
			_, err := NewDatabaseConnector(creds, createTestLogger()).Config()
			var cerr *models.ConnectionError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected ConnectionError, got %v", err)
			}
			if cerr.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, cerr.Kind)
			}
		})
	}
}

func TestConnectionErrorClassification(t *testing.T) {
	db := NewDatabaseConnector(testCredentials(), createTestLogger())

	tests := []struct {
		err  error
		kind models.ConnectionKind
	}{
		{&mysql.MySQLError{Number: 1045, Message: "Access denied"}, models.AuthFailed},
		{&mysql.MySQLError{Number: 1049, Message: "Unknown database"}, models.UnknownDB},
		{errors.New("dial tcp: connection refused"), models.NetworkFailure},
	}
	for _, tt := range tests {
		var cerr *models.ConnectionError
		if !errors.As(db.connectionError(tt.err), &cerr) {
			t.Fatalf("Expected ConnectionError for %v", tt.err)
		}
		if cerr.Kind != tt.kind {
			t.Errorf("Expected kind %s for %v, got %s", tt.kind, tt.err, cerr.Kind)
		}
		if !errors.Is(cerr, tt.err) {
			t.Errorf("Expected ConnectionError to wrap %v", tt.err)
		}
	}
}

func TestExecuteQuery(t *testing.T) {
	dc, mock := newMockSession(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT table_name FROM information_schema.tables WHERE table_schema = ?")).
		WithArgs("test-database").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow([]byte("customers")).AddRow("orders"))

	rows, err := dc.ExecuteQuery(context.Background(),
		"SELECT table_name FROM information_schema.tables WHERE table_schema = ?", dc.DatabaseName())
	if err != nil {
		t.Fatalf("Expected query to succeed, got %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0]["table_name"] != "customers" {
		t.Errorf("Expected []byte to be converted to string, got %#v", rows[0]["table_name"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestNotConnected(t *testing.T) {
	dc := NewDatabaseConnector(testCredentials(), createTestLogger())

	if _, err := dc.ExecuteQuery(context.Background(), "SELECT 1"); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from query, got %v", err)
	}
	if _, err := dc.ExecuteStatement(context.Background(), "DELETE FROM t"); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from statement, got %v", err)
	}
	if err := dc.BeginTransaction(context.Background()); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from begin, got %v", err)
	}
	var qerr *models.QueryError
	if err := dc.Commit(); !errors.As(err, &qerr) || qerr.SQL != "COMMIT" {
		t.Errorf("Expected QueryError for COMMIT, got %v", err)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	dc, mock := newMockSession(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("SET autocommit=0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `t` (`a`) VALUES (?)")).
		WithArgs("1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := dc.BeginTransaction(ctx); err != nil {
		t.Fatalf("Expected begin to succeed, got %v", err)
	}
	if !dc.InTransaction() {
		t.Error("Expected an open transaction")
	}
	if err := dc.BeginTransaction(ctx); !errors.Is(err, models.ErrTransactionInProgress) {
		t.Errorf("Expected ErrTransactionInProgress, got %v", err)
	}

	affected, err := dc.ExecuteStatement(ctx, "INSERT INTO `t` (`a`) VALUES (?)", "1")
	if err != nil {
		t.Fatalf("Expected insert to succeed, got %v", err)
	}
	if affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	if err := dc.Commit(); err != nil {
		t.Fatalf("Expected commit to succeed, got %v", err)
	}
	if dc.InTransaction() {
		t.Error("Expected transaction to be closed after commit")
	}

	err = dc.Rollback()
	var qerr *models.QueryError
	if !errors.As(err, &qerr) || !errors.Is(err, models.ErrNoTransaction) {
		t.Errorf("Expected QueryError wrapping ErrNoTransaction, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	dc, mock := newMockSession(t)
	mock.ExpectClose()

	dc.Disconnect()

	if dc.Verified() {
		t.Error("Expected session to be disconnected")
	}
	if dc.State != Disconnected {
		t.Errorf("Expected state disconnected, got %s", dc.State)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}
