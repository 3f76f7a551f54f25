// Package profile reads and writes import profiles: the target table, how the file is laid out
// and manual field to column assignments that override the automatic header mapping.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
	"gopkg.in/yaml.v3"
)

// Profile describes one repeatable import
type Profile struct {
	Table     string    `yaml:"table"`
	Delimiter string    `yaml:"delimiter,omitempty"`
	Header    *bool     `yaml:"header,omitempty"`
	Mappings  []Mapping `yaml:"mappings,omitempty"`
}

// Mapping assigns a field either to a column index or to the column with a given header label.
// With neither set the field is unmapped.
type Mapping struct {
	Field  string `yaml:"field"`
	Column *int   `yaml:"column,omitempty"`
	Header string `yaml:"header,omitempty"`
}

// Assignment is a resolved mapping: field index and column, -1 to unmap
type Assignment struct {
	Field  int
	Column int
}

// LoadYAML reads a profile from a YAML file
func LoadYAML(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return p, nil
}

// WriteYAML writes the profile to a YAML file at the given path
func (p *Profile) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// FromTable captures the current mappings of table and the file layout as a profile. Unmapped
// fields are recorded without a column so that replaying the profile unmaps them too.
func FromTable(table *models.Table, opts grid.LoadOptions) *Profile {
	header := opts.HasHeader
	p := &Profile{Table: table.Name, Header: &header}
	if opts.Delimiter != 0 {
		p.Delimiter = string(opts.Delimiter)
	}
	for _, f := range table.Fields {
		m := Mapping{Field: f.Description.Field}
		if col, ok := f.Column(); ok {
			c := col
			m.Column = &c
		}
		p.Mappings = append(p.Mappings, m)
	}
	return p
}

// LoadOptions applies the profile's file layout on top of base
func (p *Profile) LoadOptions(base grid.LoadOptions) (grid.LoadOptions, error) {
	opts := base
	if p.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(p.Delimiter)
		if size != len(p.Delimiter) || r == utf8.RuneError {
			return opts, fmt.Errorf("delimiter must be a single character, got %q", p.Delimiter)
		}
		opts.Delimiter = r
	}
	if p.Header != nil {
		opts.HasHeader = *p.Header
	}
	return opts, nil
}

// TableIndex finds the profile's table in the catalog
func (p *Profile) TableIndex(catalog *models.Catalog) (int, error) {
	for i, t := range catalog.Tables {
		if t.Name == p.Table {
			return i, nil
		}
	}
	return -1, fmt.Errorf("table %q not found in database", p.Table)
}

// Resolve turns the profile's mappings into field and column indices for table, looking up
// header labels in headers
func (p *Profile) Resolve(table *models.Table, headers []string) ([]Assignment, error) {
	assignments := make([]Assignment, 0, len(p.Mappings))
	for _, m := range p.Mappings {
		fi := fieldIndex(table, m.Field)
		if fi < 0 {
			return nil, fmt.Errorf("profile maps unknown field %q of table %s", m.Field, table.Name)
		}

		col := -1
		switch {
		case m.Column != nil:
			col = *m.Column
		case m.Header != "":
			col = headerIndex(headers, m.Header)
			if col < 0 {
				return nil, fmt.Errorf("profile maps field %q to missing header %q", m.Field, m.Header)
			}
		}
		assignments = append(assignments, Assignment{Field: fi, Column: col})
	}
	return assignments, nil
}

func fieldIndex(table *models.Table, name string) int {
	for i, f := range table.Fields {
		if f.Description.Field == name {
			return i
		}
	}
	return -1
}

// headerIndex returns the last column labelled name, matching the automatic mapping
func headerIndex(headers []string, name string) int {
	idx := -1
	for i, h := range headers {
		if h == name {
			idx = i
		}
	}
	return idx
}
