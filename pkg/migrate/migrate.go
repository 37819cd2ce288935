// Package migrate applies the goose schema that backs the ledger.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/coursepay/pkg/db"
	"github.com/angelmondragon/coursepay/pkg/migrate/migrations"
)

// SourceDir is where new migration files are written during development.
const SourceDir = "pkg/migrate/migrations"

// Status describes one known migration.
type Status struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

// Runner wraps a goose provider bound to one database and one migration set.
type Runner struct {
	provider *goose.Provider
}

// NewRunner reads migrations from fsys, or from the embedded schema when fsys is nil.
func NewRunner(sqlDB *sql.DB, driver string, fsys fs.FS) (*Runner, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql database required")
	}
	if fsys == nil {
		fsys = migrations.FS
	}
	dialect := goose.DialectPostgres
	if driver == db.DriverSQLite {
		dialect = goose.DialectSQLite3
		fsys = sqliteSource{FS: fsys}
	}
	provider, err := goose.NewProvider(dialect, sqlDB, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Runner{provider: provider}, nil
}

// Up applies every pending migration and returns how many ran.
func (r *Runner) Up(ctx context.Context) (int, error) {
	results, err := r.provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("goose up: %w", err)
	}
	return len(results), nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	if _, err := r.provider.Down(ctx); err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To moves the schema up or down until target is the current version.
func (r *Runner) To(ctx context.Context, target int64) (int, error) {
	current, err := r.provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	var results []*goose.MigrationResult
	switch {
	case target > current:
		results, err = r.provider.UpTo(ctx, target)
	case target < current:
		results, err = r.provider.DownTo(ctx, target)
	}
	if err != nil {
		return len(results), fmt.Errorf("goose migrate to %d: %w", target, err)
	}
	return len(results), nil
}

// Status lists every migration with whether it has been applied.
func (r *Runner) Status(ctx context.Context) ([]Status, error) {
	rows, err := r.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]Status, 0, len(rows))
	for _, row := range rows {
		out = append(out, Status{
			Version:   row.Source.Version,
			Path:      row.Source.Path,
			Applied:   row.State == goose.StateApplied,
			AppliedAt: row.AppliedAt,
		})
	}
	return out, nil
}

// ApplyEmbedded brings sqlDB to the latest embedded schema.
func ApplyEmbedded(ctx context.Context, sqlDB *sql.DB, driver string) (int, error) {
	runner, err := NewRunner(sqlDB, driver, nil)
	if err != nil {
		return 0, err
	}
	return runner.Up(ctx)
}
