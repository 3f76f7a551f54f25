// Package validator checks raw cell text against the declared SQL type of its target field.
//
// Validation never fails the caller: every outcome is stored on the cell as a value, either
// success or a *models.ParseError describing why the text does not fit the column.
package validator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const (
	zeroDate     = "0000-00-00"
	zeroDateTime = "0000-00-00 00:00:00"

	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// TypeSpec is a declared column type split into name, parenthesized arguments and trailing
// modifiers, e.g. "int(10) unsigned" -> {int, (10), [unsigned]}
type TypeSpec struct {
	Name      string
	Args      string
	Modifiers []string
}

// Unsigned reports whether the type carries the unsigned modifier
func (ts TypeSpec) Unsigned() bool {
	for _, m := range ts.Modifiers {
		if m == "unsigned" {
			return true
		}
	}
	return false
}

// SplitType splits a declared type such as "decimal(6,2)" into its parts
func SplitType(decl string) TypeSpec {
	decl = strings.TrimSpace(decl)
	var ts TypeSpec

	open := strings.Index(decl, "(")
	if open < 0 {
		parts := strings.Fields(decl)
		if len(parts) == 0 {
			return ts
		}
		ts.Name = strings.ToLower(parts[0])
		ts.Modifiers = lowerAll(parts[1:])
		return ts
	}

	ts.Name = strings.ToLower(strings.TrimSpace(decl[:open]))
	closing := strings.LastIndex(decl, ")")
	if closing < open {
		ts.Args = decl[open:]
		return ts
	}
	ts.Args = decl[open : closing+1]
	ts.Modifiers = lowerAll(strings.Fields(decl[closing+1:]))
	return ts
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

// typeArgs is the parsed argument list of a declared type
type typeArgs struct {
	Numbers []uint64
	Values  []string
	IsList  bool
}

// parseArgs parses "(6,2)" into numbers. A first token starting with a quote marks an enum
// value list instead.
func parseArgs(args string) (typeArgs, error) {
	var ta typeArgs
	inner := strings.TrimSpace(args)
	if inner == "" {
		return ta, nil
	}
	inner = strings.TrimPrefix(inner, "(")
	inner = strings.TrimSuffix(inner, ")")

	tokens := strings.Split(inner, ",")
	first := strings.TrimSpace(tokens[0])
	if strings.HasPrefix(first, "'") || strings.HasPrefix(first, "\"") {
		ta.IsList = true
		for _, tok := range tokens {
			ta.Values = append(ta.Values, strings.TrimSpace(tok))
		}
		return ta, nil
	}

	for _, tok := range tokens {
		n, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 32)
		if err != nil {
			return ta, fmt.Errorf("invalid type argument %q", tok)
		}
		ta.Numbers = append(ta.Numbers, n)
	}
	return ta, nil
}

// Validate checks value against the declared type of fd. A nil result means the value is valid.
func Validate(value string, fd models.FieldDescription) *models.ParseError {
	ts := SplitType(fd.Type)
	args, err := parseArgs(ts.Args)
	if err != nil {
		return fail(models.BadArguments, ts.Name, value, err.Error())
	}

	switch ts.Name {
	case "char":
		return validateChar(ts, args, value)
	case "varchar":
		return validateVarchar(ts, args, value)
	case "text":
		return nil
	case "decimal":
		return validateDecimal(ts, args, value)
	case "double":
		return validateDouble(ts, args, value)
	case "int":
		return validateInteger(ts, value, 32)
	case "tinyint":
		return validateInteger(ts, value, 8)
	case "date":
		return validateTime(ts, value, zeroDate, dateLayout)
	case "datetime":
		return validateTime(ts, value, zeroDateTime, dateTimeLayout)
	case "enum":
		return fail(models.NotImplemented, ts.Name, value, "enum validation is not implemented")
	default:
		return fail(models.UnknownType, ts.Name, value, fmt.Sprintf("Unknown type: %s", ts.Name))
	}
}

func fail(kind models.ParseKind, typeName, value, msg string) *models.ParseError {
	return &models.ParseError{Kind: kind, Type: typeName, Value: value, Message: msg}
}

func lengthArg(ts TypeSpec, args typeArgs, value string) (uint64, *models.ParseError) {
	if args.IsList || len(args.Numbers) == 0 {
		return 0, fail(models.BadArguments, ts.Name, value, fmt.Sprintf("%s needs a length argument", ts.Name))
	}
	return args.Numbers[0], nil
}

// validateChar keeps the boundary the importer has always used: a CHAR(n) value is accepted
// only when it is longer than n characters.
func validateChar(ts TypeSpec, args typeArgs, value string) *models.ParseError {
	n, perr := lengthArg(ts, args, value)
	if perr != nil {
		return perr
	}
	if uint64(utf8.RuneCountInString(value)) > n {
		return nil
	}
	return fail(models.TooLong, ts.Name, value, "Too long")
}

func validateVarchar(ts TypeSpec, args typeArgs, value string) *models.ParseError {
	n, perr := lengthArg(ts, args, value)
	if perr != nil {
		return perr
	}
	if uint64(utf8.RuneCountInString(value)) <= n {
		return nil
	}
	return fail(models.TooLong, ts.Name, value, "Too long")
}

// digits counts the digits before and after the decimal point
func digits(value string) (before, after uint64) {
	intPart, fracPart, _ := strings.Cut(value, ".")
	for _, r := range intPart {
		if r >= '0' && r <= '9' {
			before++
		}
	}
	for _, r := range fracPart {
		if r >= '0' && r <= '9' {
			after++
		}
	}
	return before, after
}

func parseFinite(ts TypeSpec, value string) *models.ParseError {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fail(models.NotANumber, ts.Name, value, "Not a number")
	}
	return nil
}

func precisionScale(ts TypeSpec, args typeArgs, value string) (uint64, uint64, *models.ParseError) {
	if args.IsList || len(args.Numbers) == 0 {
		return 0, 0, fail(models.BadArguments, ts.Name, value, fmt.Sprintf("%s needs precision and scale", ts.Name))
	}
	if len(args.Numbers) == 1 {
		return args.Numbers[0], 0, nil
	}
	return args.Numbers[0], args.Numbers[1], nil
}

func validateDecimal(ts TypeSpec, args typeArgs, value string) *models.ParseError {
	p, s, perr := precisionScale(ts, args, value)
	if perr != nil {
		return perr
	}
	if perr := parseFinite(ts, value); perr != nil {
		return perr
	}
	before, after := digits(value)
	if before <= p && after >= s {
		return nil
	}
	return fail(models.TooManyDigits, ts.Name, value, "too many numbers")
}

// validateDouble keeps the importer's historical rule: the fractional digits must exceed the
// declared scale.
func validateDouble(ts TypeSpec, args typeArgs, value string) *models.ParseError {
	if perr := parseFinite(ts, value); perr != nil {
		return perr
	}
	if ts.Args == "" {
		return nil
	}
	p, s, perr := precisionScale(ts, args, value)
	if perr != nil {
		return perr
	}
	before, after := digits(value)
	if before <= p && after > s {
		return nil
	}
	return fail(models.TooManyDigits, ts.Name, value, "too many numbers")
}

func validateInteger(ts TypeSpec, value string, bits int) *models.ParseError {
	var err error
	if ts.Unsigned() {
		_, err = strconv.ParseUint(value, 10, bits)
	} else {
		_, err = strconv.ParseInt(value, 10, bits)
	}
	if err == nil {
		return nil
	}
	kind := models.NotANumber
	if errors.Is(err, strconv.ErrRange) {
		kind = models.OutOfRange
	}
	return fail(kind, ts.Name, value, "Number too big or not a number.")
}

func validateTime(ts TypeSpec, value, sentinel, layout string) *models.ParseError {
	if value == sentinel {
		return nil
	}
	if _, err := time.Parse(layout, value); err != nil {
		return fail(models.InvalidDate, ts.Name, value, fmt.Sprintf("Invalid date: %v", err))
	}
	return nil
}

// ValidateCell stores the validation outcome on c. Cells without a field are left untouched.
func ValidateCell(c *grid.Cell) {
	if c.Field == nil {
		return
	}
	c.Outcome = &grid.Outcome{Err: Validate(c.Value, *c.Field)}
}

// ValidateColumn validates every data cell of col that has a field and records on the grid
// whether the whole column passed. A column passes when each data cell is bound and valid.
func ValidateColumn(g *grid.Grid, col int) (bool, error) {
	cells, err := g.DataCells(col)
	if err != nil {
		return false, err
	}
	parsed := true
	for _, c := range cells {
		if c.Field == nil {
			parsed = false
			continue
		}
		ValidateCell(c)
		if !c.Outcome.OK() {
			parsed = false
		}
	}
	g.MarkColumn(col, parsed)
	return parsed, nil
}
