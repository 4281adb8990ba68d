// Package recordstore persists SpecimenRecords. Each pipeline stage writes only
// the field group it owns through a single atomic insert-or-update, so repeated
// and concurrent writes for the same specimen converge to one row.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/models"
)

var (
	ErrNotFound    = errors.New("specimen not found")
	ErrUnknownType = errors.New("unknown record store type")
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Store is the record store used by the workers and the gateway read surface.
type Store interface {
	// UpsertMorphometrics writes the morphometric fields, and the location when
	// both coordinates are set. The classification field is never touched.
	UpsertMorphometrics(ctx context.Context, specimenID string, u models.MorphometricUpdate) error

	// UpsertClassification writes the predicted label, creating the row when it
	// does not exist. Morphometric and location fields are never touched.
	UpsertClassification(ctx context.Context, specimenID, label string) error

	// Get returns ErrNotFound when no row exists for specimenID.
	Get(ctx context.Context, specimenID string) (*models.SpecimenRecord, error)

	// List returns records ordered by updatedAt descending.
	List(ctx context.Context, limit int) ([]*models.SpecimenRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the configured Store. Postgres schemas are migrated first when
// cfg.MigrateOnStart is set; the SQLite schema is always applied on open.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Type {
	case "postgres":
		if cfg.MigrateOnStart {
			if err := MigrateUp(cfg.Postgres.DSN()); err != nil {
				return nil, err
			}
		}
		return NewPostgresStore(ctx, cfg.Postgres.DSN(), cfg.Postgres.MaxConns)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// location returns the coordinates to store; a half-set pair is dropped.
func location(u models.MorphometricUpdate) (lat, lon *float64) {
	if u.Latitude == nil || u.Longitude == nil {
		return nil, nil
	}
	return u.Latitude, u.Longitude
}

func nowUTC() time.Time { return time.Now().UTC() }
