package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/internal/validator"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const (
	maxSampleString = 20
	sampleDays      = 3650
)

// DataGenerator generates sample import files whose values fit the declared column types
type DataGenerator struct {
	Faker  faker.Faker
	Logger *logrus.Logger
}

// NewDataGenerator creates a new data generator
func NewDataGenerator(logger *logrus.Logger) *DataGenerator {
	return &DataGenerator{
		Faker:  faker.New(),
		Logger: logger,
	}
}

// Skip reports whether a field is left out of sample files because the database fills it
func Skip(fd models.FieldDescription) bool {
	return strings.Contains(strings.ToLower(fd.Extra), "auto_increment")
}

// GenerateData generates the text of one cell for a field
func (dg *DataGenerator) GenerateData(fd models.FieldDescription) string {
	ts := validator.SplitType(fd.Type)
	length, scale, hasArgs := numbers(ts.Args)

	switch ts.Name {
	case "char":
		// CHAR(n) is filled to its declared width
		return dg.Faker.RandomStringWithLength(int(length))
	case "varchar":
		if hint, ok := dg.byName(fd.Field); ok && len([]rune(hint)) <= int(length) {
			return hint
		}
		return dg.generateString(length)
	case "text":
		if hint, ok := dg.byName(fd.Field); ok {
			return hint
		}
		return dg.Faker.Lorem().Sentence(4)
	case "int":
		return fmt.Sprintf("%d", dg.Faker.IntBetween(0, 100000))
	case "tinyint":
		return fmt.Sprintf("%d", dg.Faker.IntBetween(0, 127))
	case "decimal":
		return dg.generateDecimal(length, scale, 0)
	case "double":
		if !hasArgs {
			return fmt.Sprintf("%d.%02d", dg.Faker.IntBetween(0, 9999), dg.Faker.IntBetween(0, 99))
		}
		// The fractional part must be longer than the declared scale
		return dg.generateDecimal(length, scale, 1)
	case "date":
		return dg.generateTime().Format("2006-01-02")
	case "datetime":
		return dg.generateTime().Format("2006-01-02 15:04:05")
	case "enum":
		return firstEnumValue(ts.Args)
	default:
		dg.Logger.Warningf("No specific generator for type %s, using default string", ts.Name)
		return dg.Faker.Lorem().Word()
	}
}

// byName picks a realistic value from the field name
func (dg *DataGenerator) byName(field string) (string, bool) {
	columnName := strings.ToLower(field)
	switch {
	case strings.Contains(columnName, "email"):
		return dg.Faker.Internet().Email(), true
	case strings.Contains(columnName, "first"):
		return dg.Faker.Person().FirstName(), true
	case strings.Contains(columnName, "last"):
		return dg.Faker.Person().LastName(), true
	case strings.Contains(columnName, "name"):
		return dg.Faker.Person().Name(), true
	case strings.Contains(columnName, "city"):
		return dg.Faker.Address().City(), true
	case strings.Contains(columnName, "country"):
		return dg.Faker.Address().Country(), true
	case strings.Contains(columnName, "phone"):
		return dg.Faker.Phone().Number(), true
	case strings.Contains(columnName, "url") || strings.Contains(columnName, "website"):
		return dg.Faker.Internet().URL(), true
	}
	return "", false
}

// generateString generates a string no longer than maxLength
func (dg *DataGenerator) generateString(maxLength uint64) string {
	if maxLength == 0 {
		return ""
	}
	if maxLength > maxSampleString {
		maxLength = maxSampleString
	}
	return dg.Faker.RandomStringWithLength(dg.Faker.IntBetween(1, int(maxLength)))
}

// generateDecimal builds a number with at most precision-scale integer digits and
// scale+extra fractional digits
func (dg *DataGenerator) generateDecimal(precision, scale, extra uint64) string {
	intDigits := 1
	if precision > scale+1 {
		intDigits = dg.Faker.IntBetween(1, int(precision-scale))
	}
	value := dg.Faker.Numerify(strings.Repeat("#", intDigits))
	if frac := scale + extra; frac > 0 {
		value += "." + dg.Faker.Numerify(strings.Repeat("#", int(frac)))
	}
	return value
}

func (dg *DataGenerator) generateTime() time.Time {
	return time.Now().Truncate(time.Second).Add(-time.Duration(dg.Faker.IntBetween(0, sampleDays*24)) * time.Hour)
}

// numbers reads up to two numeric type arguments, e.g. "(6,2)"
func numbers(args string) (first, second uint64, ok bool) {
	inner := strings.Trim(strings.TrimSpace(args), "()")
	if inner == "" {
		return 0, 0, false
	}
	parts := strings.Split(inner, ",")
	if _, err := fmt.Sscan(strings.TrimSpace(parts[0]), &first); err != nil {
		return 0, 0, false
	}
	if len(parts) > 1 {
		if _, err := fmt.Sscan(strings.TrimSpace(parts[1]), &second); err != nil {
			return first, 0, true
		}
	}
	return first, second, true
}

func firstEnumValue(args string) string {
	inner := strings.Trim(strings.TrimSpace(args), "()")
	first, _, _ := strings.Cut(inner, ",")
	return strings.Trim(strings.TrimSpace(first), `'"`)
}

// GenerateRecords generates a header record followed by n data records for table
func (dg *DataGenerator) GenerateRecords(table *models.Table, n int) [][]string {
	var fields []models.FieldDescription
	for _, f := range table.Fields {
		if !Skip(f.Description) {
			fields = append(fields, f.Description)
		}
	}

	header := make([]string, len(fields))
	for i, fd := range fields {
		header[i] = fd.Field
	}
	records := [][]string{header}
	for r := 0; r < n; r++ {
		record := make([]string, len(fields))
		for i, fd := range fields {
			record[i] = dg.GenerateData(fd)
		}
		records = append(records, record)
	}
	dg.Logger.Debugf("Generated %d sample rows for %s", n, table.Name)
	return records
}

// WriteCSV writes n sample rows for table, with a header record, to w
func (dg *DataGenerator) WriteCSV(w io.Writer, table *models.Table, n int, delimiter rune) error {
	writer := csv.NewWriter(w)
	if delimiter != 0 {
		writer.Comma = delimiter
	}
	if err := writer.WriteAll(dg.GenerateRecords(table, n)); err != nil {
		return fmt.Errorf("writing sample for %s: %w", table.Name, err)
	}
	dg.Logger.Infof("Wrote %d sample rows for table %s", n, table.Name)
	return nil
}
