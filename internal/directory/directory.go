// Package directory maps department names to their notification addresses.
// The static table ships with the binary; an optional sheet-backed source
// can override it, with the static table as fallback when the source fails.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Defaults is the built-in department table.
func Defaults() []protocol.Department {
	return []protocol.Department{
		{Name: "TI - Tecnologia da Informação", Email: "ti@kx3.com.br"},
		{Name: "RH - Recursos Humanos", Email: "rh@kx3.com.br"},
		{Name: "Financeiro", Email: "financeiro@kx3.com.br"},
		{Name: "Comercial", Email: "comercial@kx3.com.br"},
		{Name: "Suporte Técnico", Email: "suporte@kx3.com.br"},
	}
}

// Source supplies an external department table.
type Source interface {
	Departments(ctx context.Context) ([]protocol.Department, error)
}

// Directory is the read interface tools consume during a tool invocation.
type Directory struct {
	mu          sync.RWMutex
	departments []protocol.Department

	source Source
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a directory seeded with the static defaults. source may be nil.
func New(source Source, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		departments: Defaults(),
		source:      source,
		logger:      logger,
	}
}

// List returns all known departments.
func (d *Directory) List() []protocol.Department {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]protocol.Department, len(d.departments))
	copy(out, d.departments)
	return out
}

// Lookup returns the department with the given name.
func (d *Directory) Lookup(name string) (protocol.Department, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, dept := range d.departments {
		if dept.Name == name {
			return dept, true
		}
	}
	return protocol.Department{}, false
}

// Refresh pulls the table from the external source. On failure the current
// table stays in place, so a broken mirror degrades to last-known-good.
func (d *Directory) Refresh(ctx context.Context) error {
	if d.source == nil {
		return nil
	}
	depts, err := d.source.Departments(ctx)
	if err != nil {
		d.logger.Warn("department refresh failed, keeping current table", "error", err)
		return fmt.Errorf("directory: refresh: %w", err)
	}
	if len(depts) == 0 {
		d.logger.Warn("department source returned no rows, keeping current table")
		return nil
	}

	d.mu.Lock()
	d.departments = depts
	d.mu.Unlock()
	d.logger.Info("department table refreshed", "departments", len(depts))
	return nil
}

// StartRefresh schedules periodic refreshes (cron expression or @every form)
// and runs one immediate refresh. Blocks until the context is cancelled.
func (d *Directory) StartRefresh(ctx context.Context, schedule string) error {
	if d.source == nil {
		return nil
	}

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(schedule, func() { d.Refresh(context.Background()) }); err != nil {
		return fmt.Errorf("directory: invalid schedule %q: %w", schedule, err)
	}

	d.Refresh(ctx)
	d.cron.Start()
	d.logger.Info("department refresh scheduled", "schedule", schedule)

	<-ctx.Done()
	d.cron.Stop()
	return ctx.Err()
}

// SheetSource reads the department table from a spreadsheet range of
// name/email pairs (first row is the header).
type SheetSource struct {
	Reader ValuesReader
	Range  string
}

// ValuesReader is the slice of the sheets client the source needs.
type ValuesReader interface {
	Values(ctx context.Context, rng string) ([][]string, error)
}

func (s *SheetSource) Departments(ctx context.Context) ([]protocol.Department, error) {
	rows, err := s.Reader.Values(ctx, s.Range)
	if err != nil {
		return nil, err
	}

	var depts []protocol.Department
	for i, row := range rows {
		if i == 0 || len(row) < 2 || row[0] == "" || row[1] == "" {
			continue
		}
		depts = append(depts, protocol.Department{Name: row[0], Email: row[1]})
	}
	return depts, nil
}
