package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a verified session
	ErrNotConnected = errors.New("not connected to a database")
	// ErrNoTransaction is returned by commit/rollback when no transaction is open
	ErrNoTransaction = errors.New("no open transaction")
	// ErrTransactionInProgress is returned when an insert starts while a transaction is still open
	ErrTransactionInProgress = errors.New("a transaction is already open, commit or roll back first")
	// ErrNoMappedFields is returned when an insert is requested for a table without mapped fields
	ErrNoMappedFields = errors.New("no field is mapped to a column")
	// ErrNoResultStream is returned when an insert is requested without a channel for its row results
	ErrNoResultStream = errors.New("insert needs a result stream")
)

// ConnectionKind classifies connection failures
type ConnectionKind string

const (
	BadPort        ConnectionKind = "bad_port"
	MissingParam   ConnectionKind = "missing_parameter"
	AuthFailed     ConnectionKind = "auth_failed"
	UnknownDB      ConnectionKind = "unknown_database"
	NetworkFailure ConnectionKind = "network"
)

// ConnectionError is returned when credentials cannot be turned into a live session
type ConnectionError struct {
	Kind ConnectionKind
	Host string
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s:%s failed (%s): %v", e.Host, e.Port, e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ImportError is returned when the source file cannot be read or parsed
type ImportError struct {
	Path string
	Line int
	Err  error
}

func (e *ImportError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("import %s: line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// IndexKind names what an out-of-range index referred to
type IndexKind string

const (
	TableIndex  IndexKind = "table"
	FieldIndex  IndexKind = "field"
	ColumnIndex IndexKind = "column"
	RowIndex    IndexKind = "row"
)

// SchemaError reports an invalid table, field, column or row index
type SchemaError struct {
	Kind  IndexKind
	Index int
	Len   int
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema %s: %v", e.Table, e.Err)
	}
	if e.Table != "" {
		return fmt.Sprintf("%s index %d out of range for table %s (have %d)", e.Kind, e.Index, e.Table, e.Len)
	}
	return fmt.Sprintf("%s index %d out of range (have %d)", e.Kind, e.Index, e.Len)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// MappingError is the non-fatal outcome of a mapping pass that matched nothing
type MappingError struct {
	Table   string
	Headers int
	Fields  int
	Err     error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mapping %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("no header matched any of the %d fields of %s, map columns manually", e.Fields, e.Table)
}

func (e *MappingError) Unwrap() error { return e.Err }

// ParseKind classifies a per-cell validation failure
type ParseKind string

const (
	TooLong        ParseKind = "too_long"
	TooManyDigits  ParseKind = "too_many_digits"
	NotANumber     ParseKind = "not_a_number"
	OutOfRange     ParseKind = "out_of_range"
	InvalidDate    ParseKind = "invalid_date"
	BadArguments   ParseKind = "bad_arguments"
	UnknownType    ParseKind = "unknown_type"
	NotImplemented ParseKind = "not_implemented"
)

// ParseError is the failed outcome of validating one cell against its field type
type ParseError struct {
	Kind    ParseKind
	Type    string
	Value   string
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// QueryError carries the SQL that failed
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v", e.SQL, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
