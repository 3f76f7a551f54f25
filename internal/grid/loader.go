package grid

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const utf8BOM = "\uFEFF"

// LoadOptions controls how a delimited file is read
type LoadOptions struct {
	Delimiter        rune
	HasHeader        bool
	TrimLeadingSpace bool
	Comment          rune
}

// DefaultLoadOptions reads comma separated files with a header record
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Delimiter: ',', HasHeader: true}
}

// Loader reads delimited files into grids
type Loader struct {
	Options LoadOptions
	Logger  *logrus.Logger
}

// NewLoader creates a new loader
func NewLoader(opts LoadOptions, logger *logrus.Logger) *Loader {
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	return &Loader{Options: opts, Logger: logger}
}

// LoadFile reads the file at path. Every value is kept as raw text. On failure no grid
// is returned, so a caller holding a previous grid keeps it.
func (l *Loader) LoadFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		l.Logger.Errorf("Error opening import file %s: %v", path, err)
		return nil, &models.ImportError{Path: path, Err: err}
	}
	defer f.Close()

	g, err := l.Load(path, f)
	if err != nil {
		return nil, err
	}
	l.Logger.Infof("Loaded %s: %d rows, %d columns, header=%t", path, g.Rows(), g.Cols(), g.HasHeader)
	return g, nil
}

// Load reads delimited records from r. path is only used for error context.
func (l *Loader) Load(path string, r io.Reader) (*Grid, error) {
	reader := csv.NewReader(r)
	reader.Comma = l.Options.Delimiter
	reader.Comment = l.Options.Comment
	reader.TrimLeadingSpace = l.Options.TrimLeadingSpace
	reader.FieldsPerRecord = 0

	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}
			l.Logger.Errorf("Error parsing %s: %v", path, err)
			return nil, &models.ImportError{Path: path, Line: line, Err: err}
		}
		if len(records) == 0 && len(rec) > 0 {
			rec[0] = strings.TrimPrefix(rec[0], utf8BOM)
		}
		records = append(records, rec)
	}

	return FromRecords(path, records, l.Options.HasHeader), nil
}
