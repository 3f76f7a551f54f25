package backend

import (
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// Command is a request for the processor. Reply channels must be buffered with room for one
// value; a reply nobody has room for is dropped and logged.
type Command interface {
	name() string
}

// ConnectResult answers ValidateCredentials
type ConnectResult struct {
	Tables int
	Err    error
}

// ValidateCredentials connects with Credentials and, on success, lists the tables of the database
type ValidateCredentials struct {
	Credentials models.Credentials
	Reply       chan<- ConnectResult
}

// CredentialsValidated asks whether the session holds a verified connection
type CredentialsValidated struct {
	Reply chan<- bool
}

// LoadResult answers LoadFile
type LoadResult struct {
	Rows      int
	Cols      int
	HasHeader bool
	Err       error
}

// LoadFile replaces the grid with the contents of Path. The grid is only replaced on success.
type LoadFile struct {
	Path    string
	Options grid.LoadOptions
	Reply   chan<- LoadResult
}

// DescribeResult answers DescribeTable. Err holds a *models.MappingError when the table was
// described but no header matched.
type DescribeResult struct {
	Fields int
	Mapped []int
	Err    error
}

// DescribeTable describes the table at Index, selects it and maps the grid onto it
type DescribeTable struct {
	Index int
	Reply chan<- DescribeResult
}

// ColumnResult answers MapAndValidateColumn
type ColumnResult struct {
	Parsed bool
	Err    error
}

// MapAndValidateColumn re-validates every bound cell of Column
type MapAndValidateColumn struct {
	Column int
	Reply  chan<- ColumnResult
}

// RemapField maps field Field of table Table to Column. Column -1 removes the mapping.
type RemapField struct {
	Table  int
	Field  int
	Column int
	Reply  chan<- error
}

// UpdateCell replaces the text of one cell and re-validates its column
type UpdateCell struct {
	Row    int
	Column int
	Value  string
	Reply  chan<- error
}

// StartInsert inserts every data row into the table at Table inside a new transaction.
// One QueryResult per row is sent on Results, which applies backpressure when full; the
// summary is sent once on Done after the last row.
type StartInsert struct {
	Table   int
	Results chan<- models.QueryResult
	Done    chan<- models.InsertSummary
}

// Commit commits the transaction opened by StartInsert
type Commit struct {
	Reply chan<- models.QueryResult
}

// Rollback rolls back the transaction opened by StartInsert
type Rollback struct {
	Reply chan<- models.QueryResult
}

func (ValidateCredentials) name() string  { return "ValidateCredentials" }
func (CredentialsValidated) name() string { return "CredentialsValidated" }
func (LoadFile) name() string             { return "LoadFile" }
func (DescribeTable) name() string        { return "DescribeTable" }
func (MapAndValidateColumn) name() string { return "MapAndValidateColumn" }
func (RemapField) name() string           { return "RemapField" }
func (UpdateCell) name() string           { return "UpdateCell" }
func (StartInsert) name() string          { return "StartInsert" }
func (Commit) name() string               { return "Commit" }
func (Rollback) name() string             { return "Rollback" }
