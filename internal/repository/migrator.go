package repository

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

// GooseMigrator implements Migrator on top of a goose provider.
type GooseMigrator struct {
	provider *goose.Provider
	logger   zerolog.Logger
}

// NewGooseMigrator creates a migrator for the SQL files at the root of fsys.
func NewGooseMigrator(dialect goose.Dialect, db *sql.DB, fsys fs.FS, logger zerolog.Logger) (*GooseMigrator, error) {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}

	return &GooseMigrator{
		provider: provider,
		logger:   logger.With().Str("component", "migrator").Logger(),
	}, nil
}

// Up applies all pending migrations.
func (m *GooseMigrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, res := range results {
		m.logger.Info().
			Int64("version", res.Source.Version).
			Str("source", res.Source.Path).
			Dur("duration", res.Duration).
			Msg("applied migration")
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *GooseMigrator) Down(ctx context.Context) error {
	res, err := m.provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}

	m.logger.Info().
		Int64("version", res.Source.Version).
		Str("source", res.Source.Path).
		Msg("rolled back migration")
	return nil
}

// Version returns the current schema version.
func (m *GooseMigrator) Version(ctx context.Context) (int64, error) {
	return m.provider.GetDBVersion(ctx)
}

// Status returns the state of every known migration.
func (m *GooseMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]MigrationStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, MigrationStatus{
			Version: st.Source.Version,
			Source:  st.Source.Path,
			Applied: st.State == goose.StateApplied,
		})
	}
	return out, nil
}

var _ Migrator = (*GooseMigrator)(nil)
