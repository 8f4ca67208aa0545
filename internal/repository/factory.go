package repository

import (
	"context"
)

// Repositories holds all repository instances.
type Repositories struct {
	User UserRepository
	File FileRepository
}

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.HealthChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Migrator applies and inspects schema migrations.
type Migrator interface {
	// Up applies all pending migrations.
	Up(ctx context.Context) error

	// Down rolls back the most recent migration.
	Down(ctx context.Context) error

	// Version returns the current schema version.
	Version(ctx context.Context) (int64, error)

	// Status returns one line per known migration.
	Status(ctx context.Context) ([]MigrationStatus, error)
}

// MigrationStatus describes one migration and whether it is applied.
type MigrationStatus struct {
	Version int64
	Source  string
	Applied bool
}

// Store bundles the repositories with the connection that backs them.
type Store struct {
	Repos    *Repositories
	Database DatabaseHealth
	Migrator Migrator
}
