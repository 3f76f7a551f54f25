// Package backend runs the command processor: a single goroutine that owns the database
// session and applies every command from the presentation layer in arrival order.
//
// Commands are handled one at a time and to completion, database round trips included,
// so an insert stream and a rollback can never touch the connection at the same time.
// The grid and the schema catalog are published through lock-guarded Shared values that the
// presentation layer may read without blocking.
package backend

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-csv-importer/internal/analyzer"
	"github.com/vitebski/mysql-csv-importer/internal/connector"
	"github.com/vitebski/mysql-csv-importer/internal/grid"
	"github.com/vitebski/mysql-csv-importer/internal/mapper"
	"github.com/vitebski/mysql-csv-importer/internal/populator"
	"github.com/vitebski/mysql-csv-importer/internal/validator"
	"github.com/vitebski/mysql-csv-importer/pkg/models"
)

const (
	// DefaultQueueSize is how many commands may wait for the processor
	DefaultQueueSize = 8
	// ResultStreamDepth is the buffer callers should give the per-row insert stream
	ResultStreamDepth = 2
)

// Dialer turns credentials into a connected session
type Dialer func(ctx context.Context, creds models.Credentials, logger *logrus.Logger) (*connector.DatabaseConnector, error)

// DialMySQL connects to MySQL with the go-sql-driver
func DialMySQL(ctx context.Context, creds models.Credentials, logger *logrus.Logger) (*connector.DatabaseConnector, error) {
	dc := connector.NewDatabaseConnector(creds, logger)
	if err := dc.Connect(ctx); err != nil {
		return nil, err
	}
	return dc, nil
}

// Option configures a Processor
type Option func(*Processor)

// WithDialer replaces the function used to open sessions
func WithDialer(d Dialer) Option {
	return func(p *Processor) { p.dial = d }
}

// WithQueueSize sets the command queue capacity
func WithQueueSize(n int) Option {
	return func(p *Processor) { p.queueSize = n }
}

// Processor owns the session, the grid and the catalog
type Processor struct {
	Grid    *Shared[*grid.Grid]
	Catalog *Shared[*models.Catalog]
	Logger  *logrus.Logger

	commands  chan Command
	queueSize int
	dial      Dialer
	session   *connector.DatabaseConnector
	mapper    *mapper.FieldMapper
}

// NewProcessor creates a processor with an empty grid and catalog
func NewProcessor(logger *logrus.Logger, opts ...Option) *Processor {
	p := &Processor{
		Grid:      NewShared(grid.New()),
		Catalog:   NewShared(models.NewCatalog()),
		Logger:    logger,
		queueSize: DefaultQueueSize,
		dial:      DialMySQL,
		mapper:    mapper.NewFieldMapper(logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.commands = make(chan Command, p.queueSize)
	return p
}

// Send queues cmd, waiting for room or for ctx to end
func (p *Processor) Send(ctx context.Context, cmd Command) error {
	select {
	case p.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend queues cmd only if the queue has room
func (p *Processor) TrySend(cmd Command) bool {
	select {
	case p.commands <- cmd:
		return true
	default:
		p.Logger.Warningf("Command queue full, dropped %s", cmd.name())
		return false
	}
}

// Run processes commands until ctx ends, then closes the session
func (p *Processor) Run(ctx context.Context) error {
	defer func() {
		if p.session != nil {
			p.session.Disconnect()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-p.commands:
			p.Logger.Debugf("Processing %s", cmd.name())
			p.handle(ctx, cmd)
		}
	}
}

func (p *Processor) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case ValidateCredentials:
		deliver(p, c.Reply, p.validateCredentials(ctx, c.Credentials), c.name())
	case CredentialsValidated:
		deliver(p, c.Reply, p.verified(), c.name())
	case LoadFile:
		deliver(p, c.Reply, p.loadFile(c.Path, c.Options), c.name())
	case DescribeTable:
		deliver(p, c.Reply, p.describeTable(ctx, c.Index), c.name())
	case MapAndValidateColumn:
		deliver(p, c.Reply, p.validateColumn(c.Column), c.name())
	case RemapField:
		deliver(p, c.Reply, p.remapField(c.Table, c.Field, c.Column), c.name())
	case UpdateCell:
		deliver(p, c.Reply, p.updateCell(c.Row, c.Column, c.Value), c.name())
	case StartInsert:
		deliver(p, c.Done, p.startInsert(ctx, c.Table, c.Results), c.name())
	case Commit:
		deliver(p, c.Reply, p.finish("COMMIT", p.commit), c.name())
	case Rollback:
		deliver(p, c.Reply, p.finish("ROLLBACK", p.rollback), c.name())
	default:
		p.Logger.Errorf("Unknown command %T", cmd)
	}
}

// deliver sends a reply without blocking. A nil channel means the caller wanted no reply.
func deliver[T any](p *Processor, reply chan<- T, v T, command string) {
	if reply == nil {
		return
	}
	select {
	case reply <- v:
	default:
		p.Logger.Warningf("Failed to send %s reply: receiver is gone", command)
	}
}

func (p *Processor) verified() bool {
	return p.session != nil && p.session.Verified()
}

func (p *Processor) validateCredentials(ctx context.Context, creds models.Credentials) ConnectResult {
	session, err := p.dial(ctx, creds, p.Logger)
	if err != nil {
		p.Logger.Errorf("Credentials for %s rejected: %v", creds.Address(), err)
		return ConnectResult{Err: err}
	}
	if p.session != nil {
		p.session.Disconnect()
	}
	p.session = session
	p.Logger.Infof("Session verified for %s", creds.Address())

	// The old tables belong to the previous session, so they go even when listing fails
	fresh := models.NewCatalog()
	err = analyzer.NewSchemaAnalyzer(session, p.Logger).LoadCatalog(ctx, fresh)
	p.Catalog.Update(func(c *models.Catalog) {
		c.Tables = fresh.Tables
		c.Selected = -1
		p.Grid.Update(unbindAll)
	})
	if err != nil {
		return ConnectResult{Err: err}
	}
	return ConnectResult{Tables: len(fresh.Tables)}
}

// unbindAll removes every field binding from the grid
func unbindAll(g *grid.Grid) {
	for col := 0; col < g.Cols(); col++ {
		if err := g.AssignColumn(col, nil); err != nil {
			return
		}
	}
}

func (p *Processor) loadFile(path string, opts grid.LoadOptions) LoadResult {
	g, err := grid.NewLoader(opts, p.Logger).LoadFile(path)
	if err != nil {
		return LoadResult{Err: err}
	}

	p.Catalog.Update(func(c *models.Catalog) {
		for i := range c.Tables {
			c.Tables[i].ClearMappings()
		}
		if t, ok := c.SelectedTable(); ok && t.Described {
			if _, err := p.mapper.MapFields(g, t); err != nil {
				p.Logger.Warningf("Automatic mapping after load: %v", err)
			}
		}
		p.Grid.Replace(g)
	})
	return LoadResult{Rows: g.Rows(), Cols: g.Cols(), HasHeader: g.HasHeader}
}

func (p *Processor) describeTable(ctx context.Context, index int) DescribeResult {
	if !p.verified() {
		return DescribeResult{Err: models.ErrNotConnected}
	}

	var table models.Table
	var lookupErr error
	p.Catalog.Update(func(c *models.Catalog) {
		t, err := c.Table(index)
		if err != nil {
			lookupErr = err
			return
		}
		table = models.Table{Name: t.Name, Described: t.Described}
	})
	if lookupErr != nil {
		p.Logger.Warningf("Describe rejected: %v", lookupErr)
		return DescribeResult{Err: lookupErr}
	}

	if !table.Described {
		if err := analyzer.NewSchemaAnalyzer(p.session, p.Logger).Describe(ctx, &table); err != nil {
			return DescribeResult{Err: err}
		}
	}

	var result DescribeResult
	p.Catalog.Update(func(c *models.Catalog) {
		t, err := c.Table(index)
		if err != nil {
			result.Err = err
			return
		}
		if !t.Described {
			t.Fields = table.Fields
			t.Described = true
		}
		if prev, ok := c.SelectedTable(); ok && c.Selected != index {
			p.Grid.Update(func(g *grid.Grid) { p.mapper.Release(g, prev) })
		}
		c.Selected = index
		result.Fields = len(t.Fields)
		p.Grid.Update(func(g *grid.Grid) {
			result.Mapped, result.Err = p.mapper.MapFields(g, t)
		})
	})
	return result
}

func (p *Processor) validateColumn(col int) ColumnResult {
	var result ColumnResult
	p.Grid.Update(func(g *grid.Grid) {
		result.Parsed, result.Err = validator.ValidateColumn(g, col)
	})
	if result.Err != nil {
		p.Logger.Warningf("Column validation rejected: %v", result.Err)
	}
	return result
}

func (p *Processor) remapField(tableIndex, fieldIndex, col int) error {
	var err error
	p.Catalog.Update(func(c *models.Catalog) {
		t, lookupErr := c.Table(tableIndex)
		if lookupErr != nil {
			err = lookupErr
			return
		}
		p.Grid.Update(func(g *grid.Grid) {
			err = p.mapper.Remap(g, t, fieldIndex, col)
		})
	})
	if err != nil {
		p.Logger.Warningf("Remap rejected: %v", err)
	}
	return err
}

func (p *Processor) updateCell(row, col int, value string) error {
	var err error
	p.Grid.Update(func(g *grid.Grid) {
		cell, cellErr := g.Cell(row, col)
		if cellErr != nil {
			err = cellErr
			return
		}
		cell.Value = value
		if cell.Field != nil {
			_, err = validator.ValidateColumn(g, col)
		}
	})
	if err != nil {
		p.Logger.Warningf("Cell update rejected: %v", err)
	}
	return err
}

func (p *Processor) startInsert(ctx context.Context, tableIndex int, results chan<- models.QueryResult) models.InsertSummary {
	if !p.verified() {
		return models.InsertSummary{Err: models.ErrNotConnected}
	}
	if results == nil {
		p.Logger.Warning("Insert rejected: no result stream")
		return models.InsertSummary{Err: models.ErrNoResultStream}
	}

	var table *models.Table
	var g *grid.Grid
	var lookupErr error
	p.Catalog.Update(func(c *models.Catalog) {
		t, err := c.Table(tableIndex)
		if err != nil {
			lookupErr = err
			return
		}
		clone := t.Clone()
		table = &clone
		p.Grid.Update(func(cur *grid.Grid) { g = cur.Clone() })
	})
	if lookupErr != nil {
		p.Logger.Warningf("Insert rejected: %v", lookupErr)
		return models.InsertSummary{Err: lookupErr}
	}

	return populator.NewDatabasePopulator(p.session, p.Logger).PopulateTable(ctx, g, table, results)
}

// TryGridSnapshot copies the grid if it is not locked right now
func (p *Processor) TryGridSnapshot() (*grid.Grid, bool) {
	var snap *grid.Grid
	ok := p.Grid.TryView(func(g *grid.Grid) { snap = g.Clone() })
	return snap, ok
}

// TryCatalogSnapshot copies the catalog if it is not locked right now
func (p *Processor) TryCatalogSnapshot() (*models.Catalog, bool) {
	var snap *models.Catalog
	ok := p.Catalog.TryView(func(c *models.Catalog) { snap = c.Clone() })
	return snap, ok
}

func (p *Processor) commit() error   { return p.session.Commit() }
func (p *Processor) rollback() error { return p.session.Rollback() }

func (p *Processor) finish(stmt string, end func() error) models.QueryResult {
	result := models.QueryResult{Query: stmt}
	if !p.verified() {
		result.Err = &models.QueryError{SQL: stmt, Err: models.ErrNotConnected}
		return result
	}
	if err := end(); err != nil {
		var qerr *models.QueryError
		if !errors.As(err, &qerr) {
			err = &models.QueryError{SQL: stmt, Err: err}
		}
		result.Err = err
	}
	return result
}
