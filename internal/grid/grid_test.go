package grid

import (
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func load(t *testing.T, opts LoadOptions, content string) (*Grid, error) {
	t.Helper()
	return NewLoader(opts, createTestLogger()).Load("test.csv", strings.NewReader(content))
}

func TestLoadWithHeader(t *testing.T) {
	g, err := load(t, DefaultLoadOptions(), "\uFEFFname,age\nAda,41\nGrace,85\n")
	require.NoError(t, err)

	assert.Equal(t, 3, g.Rows())
	assert.Equal(t, 2, g.Cols())
	assert.True(t, g.HasHeader)
	assert.Equal(t, 1, g.FirstDataRow())
	assert.Equal(t, 2, g.DataRows())
	assert.Equal(t, []string{"name", "age"}, g.Headers(), "the byte order mark is not part of the first label")
	assert.False(t, g.AllParsed, "no column has been validated yet")

	cell, err := g.Cell(2, 0)
	require.NoError(t, err)
	assert.Equal(t, "Grace", cell.Value)
	assert.Nil(t, cell.Field)
	assert.Nil(t, cell.Outcome)
}

func TestLoadWithoutHeader(t *testing.T) {
	opts := DefaultLoadOptions()
	opts.HasHeader = false
	g, err := load(t, opts, "Ada,41\n")
	require.NoError(t, err)

	assert.False(t, g.HasHeader)
	assert.Nil(t, g.Headers())
	assert.Equal(t, 0, g.FirstDataRow())
	assert.Equal(t, 1, g.DataRows())
}

func TestLoadOptions(t *testing.T) {
	opts := LoadOptions{Delimiter: ';', HasHeader: true, TrimLeadingSpace: true, Comment: '#'}
	g, err := load(t, opts, "# exported\nname; city\nAda; London\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "city"}, g.Headers())
	row, err := g.Row(1)
	require.NoError(t, err)
	assert.Equal(t, "London", row[1].Value)
}

func TestLoadEmptyFile(t *testing.T) {
	g, err := load(t, DefaultLoadOptions(), "")
	require.NoError(t, err)
	assert.True(t, g.Empty())
	assert.Equal(t, 0, g.Cols())
	assert.False(t, g.HasHeader)
	assert.True(t, g.AllParsed, "a grid without columns has nothing left to validate")
}

func TestLoadRaggedFile(t *testing.T) {
	_, err := load(t, DefaultLoadOptions(), "a,b\n1,2\n3\n")
	var ierr *models.ImportError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "test.csv", ierr.Path)
	assert.Equal(t, 3, ierr.Line)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := NewLoader(DefaultLoadOptions(), createTestLogger()).LoadFile("/does/not/exist.csv")
	var ierr *models.ImportError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, 0, ierr.Line)
}

func TestFromRecordsPadsRows(t *testing.T) {
	g := FromRecords("mem", [][]string{{"a"}, {"1", "2", "3"}}, false)
	assert.Equal(t, 3, g.Cols())
	row, err := g.Row(0)
	require.NoError(t, err)
	require.Len(t, row, 3)
	assert.Equal(t, "", row[2].Value)
	assert.Equal(t, "a", row[0].Value, "without a header row 0 is the first record")
	assert.Equal(t, 0, g.FirstDataRow())
	assert.Equal(t, 2, g.DataRows())
	assert.Nil(t, g.Headers())
}

func TestIndexChecks(t *testing.T) {
	g := FromRecords("mem", [][]string{{"a", "b"}, {"1", "2"}}, true)

	_, err := g.Cell(5, 0)
	var serr *models.SchemaError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, models.RowIndex, serr.Kind)

	_, err = g.DataCells(2)
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, models.ColumnIndex, serr.Kind)

	_, err = g.Row(-1)
	assert.Error(t, err)
}

func TestAssignColumnSkipsHeader(t *testing.T) {
	g := FromRecords("mem", [][]string{{"age"}, {"41"}, {"85"}}, true)
	fd := &models.FieldDescription{Field: "age", Type: "int"}
	require.NoError(t, g.AssignColumn(0, fd))

	header, _ := g.Cell(0, 0)
	assert.Nil(t, header.Field)
	cells, err := g.DataCells(0)
	require.NoError(t, err)
	for _, c := range cells {
		require.NotNil(t, c.Field)
		assert.Equal(t, "int", c.Field.Type)
	}

	fd.Type = "varchar(3)"
	assert.Equal(t, "int", cells[0].Field.Type, "cells keep their own copy of the description")

	g.MarkColumn(0, true)
	assert.True(t, g.AllParsed)
	require.NoError(t, g.AssignColumn(0, nil))
	assert.False(t, g.AllParsed)
	assert.Nil(t, cells[1].Field)
}

func TestParsedColumnsTrackAllParsed(t *testing.T) {
	g := FromRecords("mem", [][]string{{"a", "b"}, {"1", "2"}}, true)
	g.MarkColumn(0, true)
	assert.False(t, g.AllParsed)
	g.MarkColumn(1, true)
	assert.True(t, g.AllParsed)
	g.MarkColumn(0, false)
	assert.False(t, g.AllParsed)
}

func TestClone(t *testing.T) {
	g := FromRecords("mem", [][]string{{"a"}, {"1"}}, true)
	require.NoError(t, g.AssignColumn(0, &models.FieldDescription{Field: "a", Type: "int"}))
	g.MarkColumn(0, true)

	c := g.Clone()
	cell, _ := c.Cell(1, 0)
	cell.Value = "changed"
	c.MarkColumn(0, false)

	orig, _ := g.Cell(1, 0)
	assert.Equal(t, "1", orig.Value)
	assert.True(t, g.ParsedColumns[0])
	assert.True(t, g.AllParsed)
}
