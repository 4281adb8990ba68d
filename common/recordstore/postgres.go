package recordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oceanlab/specimen-stack/common/database"
	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/models"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a pooled PostgreSQL store.
func NewPostgresStore(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := database.QueryContext(ctx)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, failure.Transient(fmt.Errorf("failed to ping database: %w", err))
	}

	return &PostgresStore{pool: pool, now: nowUTC}, nil
}

// UpsertMorphometrics writes the morphometric field group.
func (s *PostgresStore) UpsertMorphometrics(ctx context.Context, specimenID string, u models.MorphometricUpdate) error {
	query := `
		INSERT INTO specimens (specimen_id, area, perimeter, width, height, aspect_ratio,
			latitude, longitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (specimen_id) DO UPDATE SET
			area = EXCLUDED.area,
			perimeter = EXCLUDED.perimeter,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			aspect_ratio = EXCLUDED.aspect_ratio,
			latitude = COALESCE(EXCLUDED.latitude, specimens.latitude),
			longitude = COALESCE(EXCLUDED.longitude, specimens.longitude),
			updated_at = EXCLUDED.updated_at
	`

	lat, lon := location(u)
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, query,
		specimenID, u.Area, u.Perimeter, u.Width, u.Height, u.AspectRatio,
		lat, lon, s.now(),
	)
	if err != nil {
		return classifyPgError(fmt.Errorf("failed to upsert morphometrics: %w", err))
	}
	return nil
}

// UpsertClassification writes the classification field group.
func (s *PostgresStore) UpsertClassification(ctx context.Context, specimenID, label string) error {
	query := `
		INSERT INTO specimens (specimen_id, predicted_label, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (specimen_id) DO UPDATE SET
			predicted_label = EXCLUDED.predicted_label,
			updated_at = EXCLUDED.updated_at
	`

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, query, specimenID, label, s.now()); err != nil {
		return classifyPgError(fmt.Errorf("failed to upsert classification: %w", err))
	}
	return nil
}

const selectColumns = `
	specimen_id, area, perimeter, width, height, aspect_ratio,
	predicted_label, latitude, longitude, created_at, updated_at
`

// Get retrieves a record by specimen ID.
func (s *PostgresStore) Get(ctx context.Context, specimenID string) (*models.SpecimenRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM specimens WHERE specimen_id = $1`

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	r, err := scanRecord(s.pool.QueryRow(ctx, query, specimenID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyPgError(fmt.Errorf("failed to get specimen: %w", err))
	}
	return r, nil
}

// List retrieves the most recently updated records.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*models.SpecimenRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM specimens ORDER BY updated_at DESC, specimen_id ASC LIMIT $1`

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to list specimens: %w", err))
	}
	defer rows.Close()

	records := make([]*models.SpecimenRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan specimen: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(fmt.Errorf("failed to iterate specimens: %w", err))
	}
	return records, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*models.SpecimenRecord, error) {
	r := &models.SpecimenRecord{}
	err := row.Scan(
		&r.SpecimenID, &r.Area, &r.Perimeter, &r.Width, &r.Height, &r.AspectRatio,
		&r.PredictedLabel, &r.Latitude, &r.Longitude, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// classifyPgError marks data and constraint violations (SQLSTATE classes 22
// and 23) as Malformed; everything else is treated as a store outage.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return failure.Malformed(err)
		}
	}
	return failure.Transient(err)
}
