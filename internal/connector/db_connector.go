package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// MySQL server error numbers used to classify failed logins
const (
	errAccessDenied    = 1045
	errUnknownDatabase = 1049
)

const dialTimeout = 10 * time.Second

// SessionState is the lifecycle state of a database session
type SessionState int

const (
	Disconnected SessionState = iota
	Connected
)

func (s SessionState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// DatabaseConnector owns a single database connection and the transaction open on it.
// It is not safe for concurrent use; one owner drives it.
type DatabaseConnector struct {
	Host     string
	User     string
	Password string
	Database string
	Port     string
	DB       *sql.DB
	Conn     *sql.Conn
	Tx       *sql.Tx
	State    SessionState
	Logger   *logrus.Logger
}

// NewDatabaseConnector creates a disconnected session for the given credentials
func NewDatabaseConnector(creds models.Credentials, logger *logrus.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Host:     creds.Host,
		User:     creds.User,
		Password: creds.Password,
		Database: creds.Database,
		Port:     creds.Port,
		State:    Disconnected,
		Logger:   logger,
	}
}

// Config builds the driver configuration, rejecting missing parameters and bad ports
func (dc *DatabaseConnector) Config() (*mysql.Config, error) {
	if dc.Host == "" || dc.User == "" || dc.Database == "" {
		return nil, &models.ConnectionError{
			Kind: models.MissingParam,
			Host: dc.Host,
			Port: dc.Port,
			Err:  fmt.Errorf("host, user and database must be provided"),
		}
	}
	if _, err := strconv.ParseUint(dc.Port, 10, 16); err != nil {
		return nil, &models.ConnectionError{Kind: models.BadPort, Host: dc.Host, Port: dc.Port, Err: err}
	}

	cfg := mysql.NewConfig()
	cfg.User = dc.User
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(dc.Host, dc.Port)
	cfg.DBName = dc.Database
	cfg.Timeout = dialTimeout
	return cfg, nil
}

// Connect establishes the session connection to the MySQL database
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	cfg, err := dc.Config()
	if err != nil {
		dc.Logger.Errorf("Invalid connection parameters: %v", err)
		return err
	}

	mc, err := mysql.NewConnector(cfg)
	if err != nil {
		dc.Logger.Errorf("Error configuring MySQL connector: %v", err)
		return dc.connectionError(err)
	}
	return dc.Attach(ctx, sql.OpenDB(mc))
}

// Attach pins one connection of db for the session and verifies it with a ping
func (dc *DatabaseConnector) Attach(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		dc.Logger.Errorf("Error connecting to MySQL database: %v", err)
		db.Close()
		return dc.connectionError(err)
	}
	if err := conn.PingContext(ctx); err != nil {
		dc.Logger.Errorf("Error pinging MySQL database: %v", err)
		conn.Close()
		db.Close()
		return dc.connectionError(err)
	}

	dc.DB = db
	dc.Conn = conn
	dc.State = Connected
	dc.Logger.Infof("Connected to MySQL database: %s", dc.Database)
	return nil
}

func (dc *DatabaseConnector) connectionError(err error) error {
	kind := models.NetworkFailure
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errAccessDenied:
			kind = models.AuthFailed
		case errUnknownDatabase:
			kind = models.UnknownDB
		}
	}
	return &models.ConnectionError{Kind: kind, Host: dc.Host, Port: dc.Port, Err: err}
}

// Verified reports whether the session holds a live connection
func (dc *DatabaseConnector) Verified() bool {
	return dc.State == Connected && dc.Conn != nil
}

// DatabaseName returns the schema the session is bound to
func (dc *DatabaseConnector) DatabaseName() string {
	return dc.Database
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.Tx != nil {
		if err := dc.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			dc.Logger.Warningf("Error rolling back open transaction on disconnect: %v", err)
		}
		dc.Tx = nil
	}
	if dc.Conn != nil {
		dc.Conn.Close()
		dc.Conn = nil
	}
	if dc.DB != nil {
		if err := dc.DB.Close(); err != nil {
			dc.Logger.Errorf("Error closing database connection: %v", err)
		} else {
			dc.Logger.Info("MySQL connection closed")
		}
		dc.DB = nil
	}
	dc.State = Disconnected
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target routes statements through the open transaction when there is one
func (dc *DatabaseConnector) target() (queryer, error) {
	if !dc.Verified() {
		return nil, models.ErrNotConnected
	}
	if dc.Tx != nil {
		return dc.Tx, nil
	}
	return dc.Conn, nil
}

// ExecuteQuery executes a SQL query and returns the results
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error) {
	q, err := dc.target()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Errorf("Error executing query: %v", err)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		dc.Logger.Errorf("Error getting columns: %v", err)
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			dc.Logger.Errorf("Error scanning row: %v", err)
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = val
			}
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		dc.Logger.Errorf("Error iterating rows: %v", err)
		return nil, err
	}

	return results, nil
}

// ExecuteStatement executes a SQL statement and returns the number of affected rows
func (dc *DatabaseConnector) ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error) {
	q, err := dc.target()
	if err != nil {
		return 0, err
	}

	result, err := q.ExecContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Debugf("Error executing statement: %v", err)
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		dc.Logger.Errorf("Error getting affected rows: %v", err)
		return 0, err
	}

	return affected, nil
}

// InTransaction reports whether a transaction is open on the session
func (dc *DatabaseConnector) InTransaction() bool {
	return dc.Tx != nil
}

// BeginTransaction turns autocommit off and opens a transaction on the session connection
func (dc *DatabaseConnector) BeginTransaction(ctx context.Context) error {
	if !dc.Verified() {
		return models.ErrNotConnected
	}
	if dc.Tx != nil {
		return models.ErrTransactionInProgress
	}

	if _, err := dc.Conn.ExecContext(ctx, "SET autocommit=0"); err != nil {
		dc.Logger.Errorf("Error disabling autocommit: %v", err)
		return &models.QueryError{SQL: "SET autocommit=0", Err: err}
	}
	tx, err := dc.Conn.BeginTx(ctx, nil)
	if err != nil {
		dc.Logger.Errorf("Error starting transaction: %v", err)
		return &models.QueryError{SQL: "BEGIN", Err: err}
	}
	dc.Tx = tx
	return nil
}

// Commit commits the open transaction
func (dc *DatabaseConnector) Commit() error {
	return dc.finish("COMMIT", func(tx *sql.Tx) error { return tx.Commit() })
}

// Rollback rolls the open transaction back
func (dc *DatabaseConnector) Rollback() error {
	return dc.finish("ROLLBACK", func(tx *sql.Tx) error { return tx.Rollback() })
}

func (dc *DatabaseConnector) finish(stmt string, end func(*sql.Tx) error) error {
	if !dc.Verified() {
		return &models.QueryError{SQL: stmt, Err: models.ErrNotConnected}
	}
	if dc.Tx == nil {
		return &models.QueryError{SQL: stmt, Err: models.ErrNoTransaction}
	}
	tx := dc.Tx
	dc.Tx = nil
	if err := end(tx); err != nil {
		dc.Logger.Errorf("Error executing %s: %v", stmt, err)
		return &models.QueryError{SQL: stmt, Err: err}
	}
	dc.Logger.Infof("%s executed", stmt)
	return nil
}
