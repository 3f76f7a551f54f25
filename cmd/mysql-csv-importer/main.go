package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vitebski/mysql-csv-importer/internal/backend"
	"github.com/vitebski/mysql-csv-importer/internal/credstore"
	"github.com/vitebski/mysql-csv-importer/internal/utils"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

func main() {
	var (
		host     string
		user     string
		password string
		database string
		port     string
		envFile  string
		logLevel string
		remember bool
		opts     importOptions
	)

	rootCmd := &cobra.Command{
		Use:   "mysql-csv-importer",
		Short: "A tool to import CSV files into MySQL tables",
		Long: `MySQL CSV Importer

A Go tool that loads a delimited file, maps its columns onto the fields of a
MySQL table, validates every value against the declared column types and
inserts the rows inside a single transaction.`,
		Run: func(cmd *cobra.Command, args []string) {
			// Setup logging
			logger := utils.SetupLogging(logLevel)

			// Load environment variables
			utils.LoadEnvironmentVariables(envFile, logger)

			// Get connection parameters from environment if not provided
			creds := models.Credentials{
				Host:     host,
				User:     user,
				Password: password,
				Database: database,
				Port:     port,
				Remember: remember,
			}
			if creds.Host == "" {
				creds.Host = utils.GetEnvOrDefault("MYSQL_HOST", "localhost")
			}
			if creds.User == "" {
				creds.User = utils.GetEnvOrDefault("MYSQL_USER", "root")
			}
			if creds.Password == "" {
				creds.Password = os.Getenv("MYSQL_PASSWORD")
			}
			if creds.Database == "" {
				creds.Database = os.Getenv("MYSQL_DATABASE")
			}
			if creds.Port == "" {
				creds.Port = utils.GetEnvOrDefault("MYSQL_PORT", "3306")
			}

			// Validate connection parameters
			if !utils.ValidateConnectionParams(creds, logger) {
				os.Exit(1)
			}

			// The credential store is only opened when it can be of use
			var secrets *credstore.Store
			if creds.Remember || opts.Forget || creds.Password == "" {
				s, err := credstore.Open(logger)
				if err != nil {
					logger.Warningf("Credential store unavailable: %v", err)
				} else {
					secrets = s
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			proc := backend.NewProcessor(logger)
			stopped := make(chan struct{})
			go func() {
				proc.Run(ctx)
				close(stopped)
			}()

			im := &importer{proc: proc, secrets: secrets, logger: logger}
			err := im.run(ctx, creds, opts)

			// Stopping the processor closes the session and rolls back anything left open
			stop()
			<-stopped

			if err != nil {
				logger.Errorf("Import failed: %v", err)
				os.Exit(1)
			}
		},
	}

	// Define flags
	rootCmd.Flags().StringVarP(&host, "host", "H", "", "MySQL host (default: localhost)")
	rootCmd.Flags().StringVarP(&user, "user", "u", "", "MySQL user (default: root)")
	rootCmd.Flags().StringVarP(&password, "password", "p", "", "MySQL password")
	rootCmd.Flags().StringVarP(&database, "database", "d", "", "MySQL database name")
	rootCmd.Flags().StringVarP(&port, "port", "P", "", "MySQL port (default: 3306)")
	rootCmd.Flags().StringVarP(&envFile, "env-file", "e", ".env", "Path to .env file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&remember, "remember", "r", false, "Remember the password in the OS credential store")
	rootCmd.Flags().StringVarP(&opts.File, "file", "f", "", "Delimited file to import")
	rootCmd.Flags().StringVarP(&opts.Table, "table", "t", "", "Target table")
	rootCmd.Flags().StringVarP(&opts.Delimiter, "delimiter", "s", "", "Field delimiter (default: ,)")
	rootCmd.Flags().BoolVar(&opts.NoHeader, "no-header", false, "The first row is data, not column names")
	rootCmd.Flags().StringVar(&opts.ProfilePath, "profile", "", "YAML import profile with table, layout and manual mappings")
	rootCmd.Flags().StringVar(&opts.SaveProfile, "save-profile", "", "Write the resolved mapping to this YAML profile")
	rootCmd.Flags().BoolVar(&opts.Forget, "forget", false, "Remove the remembered password for this connection")
	rootCmd.Flags().BoolVarP(&opts.Commit, "commit", "c", false, "Commit the inserted rows (default: roll back)")
	rootCmd.Flags().BoolVar(&opts.AllowPartial, "allow-partial", false, "Commit even when some rows failed")
	rootCmd.Flags().IntVar(&opts.Sample, "sample", 0, "Write this many generated rows for the table to --file instead of importing")
	rootCmd.Flags().BoolVarP(&opts.AnalyzeOnly, "analyze-only", "a", false, "Only print the mapping report without inserting data")

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
