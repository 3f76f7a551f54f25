package mapper

import (
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/internal/validator"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// Unmapped is the column value that removes a field's mapping
const Unmapped = -1

// FieldMapper assigns grid columns to table fields and validates the mapped columns
type FieldMapper struct {
	Logger *logrus.Logger
}

// NewFieldMapper creates a new field mapper
func NewFieldMapper(logger *logrus.Logger) *FieldMapper {
	return &FieldMapper{Logger: logger}
}

// MapFields matches every field of table against the header row by exact, case-sensitive
// name. When several headers carry the same name the last one wins. Each mapped column is
// validated right away. It returns the indices of the fields that were mapped.
//
// Without a header row, or with an empty grid, nothing is mapped and no error is returned.
// When the preconditions hold but no header matches, a *models.MappingError is returned.
func (fm *FieldMapper) MapFields(g *grid.Grid, table *models.Table) ([]int, error) {
	if !g.HasHeader || g.Empty() {
		fm.Logger.Debugf("Skipping automatic mapping for %s: grid has no header row", table.Name)
		return nil, nil
	}

	headers := g.Headers()
	var mapped []int
	for fi := range table.Fields {
		name := table.Fields[fi].Description.Field
		match := Unmapped
		for col, header := range headers {
			if header == name {
				match = col
			}
		}
		if match == Unmapped {
			continue
		}
		if old, ok := table.Fields[fi].Column(); ok && old != match {
			if err := g.AssignColumn(old, nil); err != nil {
				return nil, err
			}
		}
		fm.assign(table, fi, match)
		mapped = append(mapped, fi)
	}

	if len(mapped) == 0 {
		fm.Logger.Warningf("No header of %s matched a field of table %s", g.Path, table.Name)
		return nil, &models.MappingError{Table: table.Name, Headers: len(headers), Fields: len(table.Fields)}
	}

	for _, fi := range mapped {
		col, ok := table.Fields[fi].Column()
		if !ok {
			continue
		}
		if err := fm.bindAndValidate(g, table.Fields[fi].Description, col); err != nil {
			return mapped, err
		}
	}
	fm.Logger.Infof("Mapped %d of %d fields of table %s", len(mapped), len(table.Fields), table.Name)
	return mapped, nil
}

// Remap assigns field fieldIndex of table to column col, or unmaps it when col is Unmapped.
// Any other field that held col loses it, since a column feeds at most one field.
func (fm *FieldMapper) Remap(g *grid.Grid, table *models.Table, fieldIndex, col int) error {
	field, err := table.Field(fieldIndex)
	if err != nil {
		return err
	}
	if col != Unmapped {
		if err := g.CheckColumn(col); err != nil {
			return err
		}
	}

	if old, ok := field.Column(); ok && old != col {
		if err := g.AssignColumn(old, nil); err != nil {
			return err
		}
	}

	if col == Unmapped {
		field.Unmap()
		fm.Logger.Infof("Unmapped field %s.%s", table.Name, field.Description.Field)
		return nil
	}

	fm.assign(table, fieldIndex, col)
	fm.Logger.Infof("Mapped field %s.%s to column %d", table.Name, field.Description.Field, col)
	return fm.bindAndValidate(g, field.Description, col)
}

// Release unbinds every column mapped to a field of table and clears the table's mappings
func (fm *FieldMapper) Release(g *grid.Grid, table *models.Table) {
	for _, f := range table.MappedFields() {
		col, _ := f.Column()
		if err := g.AssignColumn(col, nil); err != nil {
			fm.Logger.Debugf("Column %d of %s already gone: %v", col, table.Name, err)
		}
	}
	table.ClearMappings()
	fm.Logger.Debugf("Released the mappings of table %s", table.Name)
}

// assign maps one field to col and takes col away from every other field
func (fm *FieldMapper) assign(table *models.Table, fieldIndex, col int) {
	for i := range table.Fields {
		if i == fieldIndex {
			continue
		}
		if c, ok := table.Fields[i].Column(); ok && c == col {
			fm.Logger.Debugf("Column %d taken from field %s", col, table.Fields[i].Description.Field)
			table.Fields[i].Unmap()
		}
	}
	table.Fields[fieldIndex].MapTo(col)
}

func (fm *FieldMapper) bindAndValidate(g *grid.Grid, fd models.FieldDescription, col int) error {
	if err := g.AssignColumn(col, &fd); err != nil {
		return err
	}
	parsed, err := validator.ValidateColumn(g, col)
	if err != nil {
		return err
	}
	fm.Logger.Debugf("Column %d validated against %s (%s): parsed=%t", col, fd.Field, fd.Type, parsed)
	return nil
}
