package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

// maxReportedErrors caps the cell errors listed under the mapping report
const maxReportedErrors = 10

// SetupLogging creates the importer's logger. The level comes from logLevel, then
// MYSQL_LOG_LEVEL, then defaults to info. Logs go to stderr so reports on stdout stay clean.
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(GetEnvOrDefault("MYSQL_LOG_LEVEL", "info"))
	if logLevel != "" {
		level, err = logrus.ParseLevel(logLevel)
	}
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads connection defaults from envFile when it exists and reports
// whether host, user and database are all known afterwards. The password is not required
// because it may come from the credential store.
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	if err := godotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		}
	} else {
		logger.Infof("Loaded environment variables from %s", envFile)
	}

	var missingVars []string
	for _, v := range []string{"MYSQL_HOST", "MYSQL_USER", "MYSQL_DATABASE"} {
		if os.Getenv(v) == "" {
			missingVars = append(missingVars, v)
		}
	}
	if len(missingVars) > 0 {
		logger.Debugf("Not set in the environment: %s", strings.Join(missingVars, ", "))
		return false
	}
	return true
}

// GetEnvOrDefault gets an environment variable or returns a default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(creds models.Credentials, logger *logrus.Logger) bool {
	if creds.Host == "" {
		logger.Error("Database host is required")
		return false
	}

	if creds.User == "" {
		logger.Error("Database user is required")
		return false
	}

	if creds.Password == "" { // Empty password is allowed
		logger.Warning("Database password is empty")
	}

	if creds.Database == "" {
		logger.Error("Database name is required")
		return false
	}

	if _, err := strconv.ParseUint(creds.Port, 10, 16); err != nil {
		logger.Errorf("Invalid port number: %s", creds.Port)
		return false
	}

	return true
}

// columnStatus summarizes the validation state of one mapped column
func columnStatus(g *grid.Grid, col int) string {
	cells, err := g.DataCells(col)
	if err != nil {
		return "missing column"
	}
	failed := 0
	for _, c := range cells {
		if c.Outcome != nil && !c.Outcome.OK() {
			failed++
		}
	}
	if g.ParsedColumns[col] {
		return pterm.FgGreen.Sprintf("ok (%d rows)", len(cells))
	}
	return pterm.FgRed.Sprintf("%d of %d rows invalid", failed, len(cells))
}

// RenderMappingReport renders how the fields of table map onto the grid and how the mapped
// columns validated
func RenderMappingReport(table *models.Table, g *grid.Grid) (string, error) {
	headers := g.Headers()
	data := pterm.TableData{{"Field", "Type", "Null", "Column", "Header", "Status"}}
	for _, f := range table.Fields {
		column, header, status := "-", "-", "unmapped"
		if col, ok := f.Column(); ok {
			column = strconv.Itoa(col)
			if col < len(headers) {
				header = headers[col]
			}
			status = columnStatus(g, col)
		}
		data = append(data, []string{f.Description.Field, f.Description.Type, f.Description.Null, column, header, status})
	}

	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", fmt.Errorf("rendering mapping report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprintf("Table %s <- %s", table.Name, g.Path))
	sb.WriteString("\n")
	sb.WriteString(rendered)

	var items []pterm.BulletListItem
	for _, f := range table.Fields {
		col, ok := f.Column()
		if !ok {
			continue
		}
		cells, err := g.DataCells(col)
		if err != nil {
			continue
		}
		for i, c := range cells {
			if c.Outcome == nil || c.Outcome.OK() {
				continue
			}
			if len(items) == maxReportedErrors {
				break
			}
			items = append(items, pterm.BulletListItem{
				Level: 0,
				Text:  fmt.Sprintf("row %d, %s: %q %s", g.FirstDataRow()+i, f.Description.Field, c.Value, c.Outcome.Err.Message),
			})
		}
	}
	if len(items) > 0 {
		list, err := pterm.DefaultBulletList.WithItems(items).Srender()
		if err != nil {
			return "", fmt.Errorf("rendering cell errors: %w", err)
		}
		sb.WriteString("\n")
		sb.WriteString(list)
	}
	return sb.String(), nil
}

// PrintMappingReport prints the mapping report of table
func PrintMappingReport(table *models.Table, g *grid.Grid, logger *logrus.Logger) {
	report, err := RenderMappingReport(table, g)
	if err != nil {
		logger.Errorf("%v", err)
		return
	}
	pterm.Println(report)
}

// RenderInsertSummary renders the outcome of an insert run
func RenderInsertSummary(summary models.InsertSummary, finish models.QueryResult) string {
	title := pterm.NewStyle(pterm.FgGreen, pterm.Bold).Sprint("Import Completed")
	outcome := "committed"
	if finish.Query == "ROLLBACK" {
		outcome = "rolled back"
	}
	if summary.Err != nil || finish.Err != nil || summary.Failed > 0 {
		title = pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint("Import Failed")
	}

	details := fmt.Sprintf("Table: %s\nRun: %s\nRows attempted: %d\nRows inserted: %d\nRows failed: %d\nTransaction: %s",
		summary.Table, summary.RunID, summary.Attempted, summary.Succeeded, summary.Failed, outcome)
	if summary.Err != nil {
		details += fmt.Sprintf("\nError: %v", summary.Err)
	}
	if finish.Err != nil {
		details += fmt.Sprintf("\n%s failed: %v", finish.Query, finish.Err)
	}
	return pterm.DefaultBox.WithTitle(title).WithPadding(1).Sprint(details)
}

// PrintInsertSummary prints the outcome of an insert run
func PrintInsertSummary(summary models.InsertSummary, finish models.QueryResult) {
	pterm.Println(RenderInsertSummary(summary, finish))
}
