package grid

import (
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// Outcome is the validation result of a cell. A nil Err means the value is valid.
type Outcome struct {
	Err *models.ParseError
}

// OK reports whether the cell passed validation
func (o *Outcome) OK() bool {
	return o != nil && o.Err == nil
}

// Cell is one entry of the imported data
type Cell struct {
	Value   string
	Field   *models.FieldDescription
	Outcome *Outcome
}

// Assign binds the cell to a field and drops any previous outcome
func (c *Cell) Assign(fd *models.FieldDescription) {
	c.Field = fd
	c.Outcome = nil
}

// Grid is the imported data set. Rows are rectangular; when HasHeader is set row 0 holds
// the header labels and data starts at row 1.
type Grid struct {
	Path          string
	HasHeader     bool
	ParsedColumns map[int]bool
	AllParsed     bool

	rows [][]Cell
	cols int
}

// New creates an empty grid
func New() *Grid {
	return &Grid{
		ParsedColumns: make(map[int]bool),
		AllParsed:     true,
	}
}

// FromRecords builds a grid from raw records. The first record is treated as the header
// row when hasHeader is set. Without a header no empty row is inserted: row 0 holds the
// first data record.
func FromRecords(path string, records [][]string, hasHeader bool) *Grid {
	g := New()
	g.Path = path
	g.HasHeader = hasHeader && len(records) > 0
	for _, rec := range records {
		row := make([]Cell, len(rec))
		for i, v := range rec {
			row[i] = Cell{Value: v}
		}
		if len(rec) > g.cols {
			g.cols = len(rec)
		}
		g.rows = append(g.rows, row)
	}
	for i := range g.rows {
		for len(g.rows[i]) < g.cols {
			g.rows[i] = append(g.rows[i], Cell{})
		}
	}
	g.RefreshParsed()
	return g
}

// Rows returns the number of rows including the header row
func (g *Grid) Rows() int {
	return len(g.rows)
}

// Cols returns the number of columns
func (g *Grid) Cols() int {
	return g.cols
}

// FirstDataRow returns the index of the first non-header row
func (g *Grid) FirstDataRow() int {
	if g.HasHeader {
		return 1
	}
	return 0
}

// DataRows returns the number of rows that are not the header
func (g *Grid) DataRows() int {
	n := len(g.rows) - g.FirstDataRow()
	if n < 0 {
		return 0
	}
	return n
}

// Empty reports whether the grid has no rows
func (g *Grid) Empty() bool {
	return len(g.rows) == 0
}

// Headers returns the header labels, or nil when the grid has no header row
func (g *Grid) Headers() []string {
	if !g.HasHeader || len(g.rows) == 0 {
		return nil
	}
	headers := make([]string, len(g.rows[0]))
	for i, c := range g.rows[0] {
		headers[i] = c.Value
	}
	return headers
}

// Cell returns the cell at row, col
func (g *Grid) Cell(row, col int) (*Cell, error) {
	if row < 0 || row >= len(g.rows) {
		return nil, &models.SchemaError{Kind: models.RowIndex, Index: row, Len: len(g.rows)}
	}
	if err := g.CheckColumn(col); err != nil {
		return nil, err
	}
	return &g.rows[row][col], nil
}

// Row returns the cells of one row
func (g *Grid) Row(row int) ([]Cell, error) {
	if row < 0 || row >= len(g.rows) {
		return nil, &models.SchemaError{Kind: models.RowIndex, Index: row, Len: len(g.rows)}
	}
	return g.rows[row], nil
}

// CheckColumn returns a SchemaError when col is out of range
func (g *Grid) CheckColumn(col int) error {
	if col < 0 || col >= g.cols {
		return &models.SchemaError{Kind: models.ColumnIndex, Index: col, Len: g.cols}
	}
	return nil
}

// DataCells returns pointers to every non-header cell of a column, top to bottom
func (g *Grid) DataCells(col int) ([]*Cell, error) {
	if err := g.CheckColumn(col); err != nil {
		return nil, err
	}
	cells := make([]*Cell, 0, g.DataRows())
	for r := g.FirstDataRow(); r < len(g.rows); r++ {
		cells = append(cells, &g.rows[r][col])
	}
	return cells, nil
}

// AssignColumn binds every data cell of a column to fd. A nil fd unbinds the column.
func (g *Grid) AssignColumn(col int, fd *models.FieldDescription) error {
	cells, err := g.DataCells(col)
	if err != nil {
		return err
	}
	var shared *models.FieldDescription
	if fd != nil {
		d := *fd
		shared = &d
	}
	for _, c := range cells {
		c.Assign(shared)
	}
	delete(g.ParsedColumns, col)
	g.RefreshParsed()
	return nil
}

// MarkColumn records whether every data cell of a column validated
func (g *Grid) MarkColumn(col int, parsed bool) {
	if parsed {
		g.ParsedColumns[col] = true
	} else {
		delete(g.ParsedColumns, col)
	}
	g.RefreshParsed()
}

// RefreshParsed recomputes AllParsed from the fully validated columns
func (g *Grid) RefreshParsed() {
	count := 0
	for col, ok := range g.ParsedColumns {
		if ok && col < g.cols {
			count++
		}
	}
	g.AllParsed = count == g.cols
}

// Clone returns a deep copy of the grid
func (g *Grid) Clone() *Grid {
	out := &Grid{
		Path:          g.Path,
		HasHeader:     g.HasHeader,
		AllParsed:     g.AllParsed,
		ParsedColumns: make(map[int]bool, len(g.ParsedColumns)),
		cols:          g.cols,
		rows:          make([][]Cell, len(g.rows)),
	}
	for k, v := range g.ParsedColumns {
		out.ParsedColumns[k] = v
	}
	for i, row := range g.rows {
		out.rows[i] = make([]Cell, len(row))
		for j, c := range row {
			nc := Cell{Value: c.Value}
			if c.Field != nil {
				fd := *c.Field
				nc.Field = &fd
			}
			if c.Outcome != nil {
				o := *c.Outcome
				nc.Outcome = &o
			}
			out.rows[i][j] = nc
		}
	}
	return out
}
