package models

import "fmt"

// FieldDescription is the schema of one target column as reported by the database.
// It is created once when the owning table is described and never changed afterwards.
type FieldDescription struct {
	Field   string
	Type    string
	Null    string
	Key     string
	Default *string
	Extra   string
}

// IsNullable reports whether the column accepts NULL
func (fd FieldDescription) IsNullable() bool {
	return fd.Null == "YES"
}

// TableField is a schema field plus the grid column it is currently mapped to
type TableField struct {
	Description  FieldDescription
	MappedColumn *int
}

// Column returns the mapped grid column, if any
func (tf *TableField) Column() (int, bool) {
	if tf.MappedColumn == nil {
		return 0, false
	}
	return *tf.MappedColumn, true
}

// MapTo assigns the field to a grid column
func (tf *TableField) MapTo(col int) {
	c := col
	tf.MappedColumn = &c
}

// Unmap clears the field's column assignment
func (tf *TableField) Unmap() {
	tf.MappedColumn = nil
}

// Table is one target table. Fields stay empty until the table is described.
type Table struct {
	Name      string
	Fields    []TableField
	Described bool
}

// Field returns the field at index, or a SchemaError when out of range
func (t *Table) Field(index int) (*TableField, error) {
	if index < 0 || index >= len(t.Fields) {
		return nil, &SchemaError{Kind: FieldIndex, Index: index, Len: len(t.Fields), Table: t.Name}
	}
	return &t.Fields[index], nil
}

// MappedFields returns the fields that currently have a column, in field order
func (t *Table) MappedFields() []TableField {
	var mapped []TableField
	for _, f := range t.Fields {
		if f.MappedColumn != nil {
			mapped = append(mapped, f)
		}
	}
	return mapped
}

// Clone returns a deep copy of the table
func (t *Table) Clone() Table {
	out := Table{Name: t.Name, Described: t.Described}
	if t.Fields != nil {
		out.Fields = make([]TableField, len(t.Fields))
		for i, f := range t.Fields {
			out.Fields[i] = TableField{Description: f.Description}
			if col, ok := f.Column(); ok {
				out.Fields[i].MapTo(col)
			}
		}
	}
	return out
}

// ClearMappings unmaps every field of the table
func (t *Table) ClearMappings() {
	for i := range t.Fields {
		t.Fields[i].Unmap()
	}
}

// Catalog holds every table discovered in the target database
type Catalog struct {
	Tables   []Table
	Selected int
}

// NewCatalog creates an empty catalog with no table selected
func NewCatalog() *Catalog {
	return &Catalog{Selected: -1}
}

// Table returns the table at index, or a SchemaError when out of range
func (c *Catalog) Table(index int) (*Table, error) {
	if index < 0 || index >= len(c.Tables) {
		return nil, &SchemaError{Kind: TableIndex, Index: index, Len: len(c.Tables)}
	}
	return &c.Tables[index], nil
}

// SelectedTable returns the currently selected table
func (c *Catalog) SelectedTable() (*Table, bool) {
	if c.Selected < 0 || c.Selected >= len(c.Tables) {
		return nil, false
	}
	return &c.Tables[c.Selected], true
}

// Clone returns a deep copy of the catalog
func (c *Catalog) Clone() *Catalog {
	out := &Catalog{Selected: c.Selected, Tables: make([]Table, len(c.Tables))}
	for i := range c.Tables {
		out.Tables[i] = c.Tables[i].Clone()
	}
	return out
}

// Credentials holds the connection parameters for one session
type Credentials struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Remember bool
}

// Address returns user@host:port/database, never including the password
func (c Credentials) Address() string {
	return fmt.Sprintf("%s@%s:%s/%s", c.User, c.Host, c.Port, c.Database)
}

// QueryResult is the outcome of one executed statement
type QueryResult struct {
	RunID        string
	Row          int
	Query        string
	Args         []interface{}
	RowsAffected int64
	Err          error
}

// OK reports whether the statement succeeded
func (qr QueryResult) OK() bool {
	return qr.Err == nil
}

// InsertSummary is delivered once on the terminal signal of an insert stream
type InsertSummary struct {
	RunID     string
	Table     string
	Attempted int
	Succeeded int
	Failed    int
	Err       error
}
