// Package database holds timeouts and connection helpers shared by the record store backends.
package database

import (
	"context"
	"time"
)

// Timeouts applied to record store operations.
const (
	// DefaultQueryTimeout bounds reads (GetBySpecimenID, ListAll, Ping).
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds a single stage upsert.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMigrationTimeout bounds schema migrations.
	DefaultMigrationTimeout = 60 * time.Second
)

// QueryContext creates a context with DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext creates a context with DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// MigrationContext creates a context with DefaultMigrationTimeout.
func MigrationContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultMigrationTimeout)
}
