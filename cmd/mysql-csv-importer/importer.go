package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/internal/backend"
	"github.com/vitebski/mysql-csv-importer/internal/credstore"
	"github.com/vitebski/mysql-csv-importer/internal/generator"
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/internal/profile"
	"github.com/vitebski/mysql-csv-importer/internal/utils"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const (
	snapshotAttempts = 100
	snapshotInterval = 10 * time.Millisecond
)

// importOptions is everything the import run needs besides the connection parameters
type importOptions struct {
	File         string
	Table        string
	Delimiter    string
	NoHeader     bool
	ProfilePath  string
	SaveProfile  string
	Forget       bool
	Commit       bool
	AllowPartial bool
	AnalyzeOnly  bool
	Sample       int
}

// importer drives one import through the command processor
type importer struct {
	proc    *backend.Processor
	secrets *credstore.Store
	logger  *logrus.Logger
}

// call sends the command built around a fresh reply channel and waits for the answer
func call[T any](ctx context.Context, proc *backend.Processor, build func(chan<- T) backend.Command) (T, error) {
	var zero T
	reply := make(chan T, 1)
	if err := proc.Send(ctx, build(reply)); err != nil {
		return zero, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// snapshot retries a non-blocking read until the processor releases its lock
func snapshot[T any](ctx context.Context, try func() (T, bool)) (T, error) {
	for i := 0; i < snapshotAttempts; i++ {
		if v, ok := try(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(snapshotInterval):
		}
	}
	var zero T
	return zero, errors.New("importer state stayed locked")
}

func (im *importer) connect(ctx context.Context, creds models.Credentials) error {
	if im.secrets != nil && im.secrets.Fill(&creds) {
		im.logger.Info("Using remembered password")
	}

	res, err := call(ctx, im.proc, func(r chan<- backend.ConnectResult) backend.Command {
		return backend.ValidateCredentials{Credentials: creds, Reply: r}
	})
	if err != nil {
		return err
	}
	if res.Err != nil {
		return fmt.Errorf("failed to connect to database: %w", res.Err)
	}
	im.logger.Infof("Found %d tables in %s", res.Tables, creds.Database)

	if creds.Remember && im.secrets != nil {
		if err := im.secrets.Save(creds); err != nil {
			im.logger.Warningf("Password not remembered: %v", err)
		}
	}
	return nil
}

func (im *importer) forget(creds models.Credentials) error {
	if im.secrets == nil {
		return errors.New("credential store unavailable")
	}
	if err := im.secrets.Forget(creds); err != nil {
		return err
	}
	im.logger.Infof("Forgot the password for %s", credstore.Key(creds))
	return nil
}

func (im *importer) run(ctx context.Context, creds models.Credentials, opts importOptions) error {
	if opts.Forget {
		if err := im.forget(creds); err != nil {
			return err
		}
		if opts.File == "" && opts.Table == "" && opts.ProfilePath == "" {
			return nil
		}
	}

	var prof *profile.Profile
	if opts.ProfilePath != "" {
		p, err := profile.LoadYAML(opts.ProfilePath)
		if err != nil {
			return err
		}
		prof = p
		if opts.Table == "" {
			opts.Table = prof.Table
		}
	}
	if opts.File == "" || opts.Table == "" {
		return errors.New("both an import file and a target table are required")
	}

	loadOpts := grid.DefaultLoadOptions()
	loadOpts.HasHeader = !opts.NoHeader
	if opts.Delimiter != "" {
		layout := &profile.Profile{Delimiter: opts.Delimiter}
		o, err := layout.LoadOptions(loadOpts)
		if err != nil {
			return err
		}
		loadOpts = o
	}
	if prof != nil {
		o, err := prof.LoadOptions(loadOpts)
		if err != nil {
			return err
		}
		loadOpts = o
	}

	if err := im.connect(ctx, creds); err != nil {
		return err
	}
	if opts.Sample > 0 {
		return im.writeSample(ctx, opts, loadOpts.Delimiter)
	}

	loaded, err := call(ctx, im.proc, func(r chan<- backend.LoadResult) backend.Command {
		return backend.LoadFile{Path: opts.File, Options: loadOpts, Reply: r}
	})
	if err != nil {
		return err
	}
	if loaded.Err != nil {
		return loaded.Err
	}
	im.logger.Infof("Loaded %d rows and %d columns from %s", loaded.Rows, loaded.Cols, opts.File)

	tableIndex, err := im.describe(ctx, opts.Table)
	if err != nil {
		return err
	}

	if prof != nil {
		if err := im.applyProfile(ctx, prof, tableIndex); err != nil {
			return err
		}
	}

	catalog, err := snapshot(ctx, im.proc.TryCatalogSnapshot)
	if err != nil {
		return err
	}
	g, err := snapshot(ctx, im.proc.TryGridSnapshot)
	if err != nil {
		return err
	}
	table := &catalog.Tables[tableIndex]
	utils.PrintMappingReport(table, g, im.logger)

	if opts.SaveProfile != "" {
		if err := profile.FromTable(table, loadOpts).WriteYAML(opts.SaveProfile); err != nil {
			return err
		}
		im.logger.Infof("Saved the mapping of %s to %s", table.Name, opts.SaveProfile)
	}

	if opts.AnalyzeOnly {
		im.logger.Info("Analyze-only mode, exiting without inserting data")
		return nil
	}
	if !g.AllParsed {
		im.logger.Warning("Some columns did not validate; rows with invalid values may be rejected by the database")
	}

	summary, err := im.insert(ctx, tableIndex, g.DataRows())
	if err != nil {
		return err
	}

	finish := im.finish(ctx, opts, summary)
	utils.PrintInsertSummary(summary, finish)

	if summary.Err != nil {
		return summary.Err
	}
	if finish.Err != nil {
		return finish.Err
	}
	if summary.Failed > 0 && !opts.AllowPartial {
		return fmt.Errorf("%d of %d rows failed", summary.Failed, summary.Attempted)
	}
	return nil
}

// describe finds the table by name, describes it and maps the loaded grid onto it.
// A mapping that matched no header is only a warning.
func (im *importer) describe(ctx context.Context, name string) (int, error) {
	catalog, err := snapshot(ctx, im.proc.TryCatalogSnapshot)
	if err != nil {
		return -1, err
	}
	tableIndex, err := (&profile.Profile{Table: name}).TableIndex(catalog)
	if err != nil {
		return -1, err
	}

	described, err := call(ctx, im.proc, func(r chan<- backend.DescribeResult) backend.Command {
		return backend.DescribeTable{Index: tableIndex, Reply: r}
	})
	if err != nil {
		return -1, err
	}
	var merr *models.MappingError
	switch {
	case errors.As(described.Err, &merr):
		im.logger.Warningf("%v", merr)
	case described.Err != nil:
		return -1, described.Err
	}
	return tableIndex, nil
}

// writeSample writes generated rows for the target table to the import file path
func (im *importer) writeSample(ctx context.Context, opts importOptions, delimiter rune) error {
	tableIndex, err := im.describe(ctx, opts.Table)
	if err != nil {
		return err
	}
	catalog, err := snapshot(ctx, im.proc.TryCatalogSnapshot)
	if err != nil {
		return err
	}

	f, err := os.Create(opts.File)
	if err != nil {
		return fmt.Errorf("creating sample file: %w", err)
	}
	defer f.Close()

	dg := generator.NewDataGenerator(im.logger)
	if err := dg.WriteCSV(f, &catalog.Tables[tableIndex], opts.Sample, delimiter); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %d sample rows for %s to %s\n", opts.Sample, opts.Table, opts.File)
	return nil
}

// applyProfile replays the profile's manual assignments after the automatic mapping
func (im *importer) applyProfile(ctx context.Context, prof *profile.Profile, tableIndex int) error {
	catalog, err := snapshot(ctx, im.proc.TryCatalogSnapshot)
	if err != nil {
		return err
	}
	g, err := snapshot(ctx, im.proc.TryGridSnapshot)
	if err != nil {
		return err
	}
	assignments, err := prof.Resolve(&catalog.Tables[tableIndex], g.Headers())
	if err != nil {
		return err
	}

	for _, a := range assignments {
		res, err := call(ctx, im.proc, func(r chan<- error) backend.Command {
			return backend.RemapField{Table: tableIndex, Field: a.Field, Column: a.Column, Reply: r}
		})
		if err != nil {
			return err
		}
		if res != nil {
			return fmt.Errorf("applying profile: %w", res)
		}
	}
	im.logger.Infof("Applied %d profile mappings", len(assignments))
	return nil
}

func (im *importer) insert(ctx context.Context, tableIndex, rows int) (models.InsertSummary, error) {
	results := make(chan models.QueryResult, backend.ResultStreamDepth)
	done := make(chan models.InsertSummary, 1)
	if err := im.proc.Send(ctx, backend.StartInsert{Table: tableIndex, Results: results, Done: done}); err != nil {
		return models.InsertSummary{}, err
	}

	bar, err := pterm.DefaultProgressbar.WithTotal(rows).WithTitle("Inserting rows").Start()
	if err != nil {
		im.logger.Debugf("Progress bar unavailable: %v", err)
		bar = nil
	}
	summary, err := backend.DrainInsert(ctx, results, done, func(r models.QueryResult) {
		if !r.OK() {
			im.logger.Warningf("Row %d failed: %v", r.Row, r.Err)
		}
		if bar != nil {
			bar.Increment()
		}
	})
	if bar != nil {
		bar.Stop()
	}
	return summary, err
}

// finish commits when asked to and the run allows it, and rolls back otherwise
func (im *importer) finish(ctx context.Context, opts importOptions, summary models.InsertSummary) models.QueryResult {
	if summary.Err != nil && summary.Attempted == 0 {
		// Nothing was written; there may be no transaction to end
		return models.QueryResult{Query: "ROLLBACK"}
	}

	commit := opts.Commit && summary.Err == nil && (summary.Failed == 0 || opts.AllowPartial)
	build := func(r chan<- models.QueryResult) backend.Command { return backend.Rollback{Reply: r} }
	if commit {
		build = func(r chan<- models.QueryResult) backend.Command { return backend.Commit{Reply: r} }
	} else if opts.Commit {
		im.logger.Warning("Not committing because rows failed; use --allow-partial to keep the rows that succeeded")
	}

	res, err := call(ctx, im.proc, build)
	if err != nil {
		return models.QueryResult{Query: "ROLLBACK", Err: err}
	}
	return res
}
