package recordstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/oceanlab/specimen-stack/common/database"
	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/models"
)

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

// SQLiteStore implements Store with an embedded SQLite database. Timestamps are
// stored as unix nanoseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection serialises writers and keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migCtx, cancel := database.MigrationContext(ctx)
	defer cancel()
	if _, err := db.ExecContext(migCtx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, now: nowUTC}, nil
}

// UpsertMorphometrics writes the morphometric field group.
func (s *SQLiteStore) UpsertMorphometrics(ctx context.Context, specimenID string, u models.MorphometricUpdate) error {
	query := `
		INSERT INTO specimens (specimen_id, area, perimeter, width, height, aspect_ratio,
			latitude, longitude, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?9)
		ON CONFLICT (specimen_id) DO UPDATE SET
			area = excluded.area,
			perimeter = excluded.perimeter,
			width = excluded.width,
			height = excluded.height,
			aspect_ratio = excluded.aspect_ratio,
			latitude = COALESCE(excluded.latitude, specimens.latitude),
			longitude = COALESCE(excluded.longitude, specimens.longitude),
			updated_at = excluded.updated_at
	`

	lat, lon := location(u)
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, query,
		specimenID, u.Area, u.Perimeter, u.Width, u.Height, u.AspectRatio,
		nullFloat(lat), nullFloat(lon), s.now().UnixNano(),
	)
	if err != nil {
		return classifySQLiteError(fmt.Errorf("upsert morphometrics: %w", err))
	}
	return nil
}

// UpsertClassification writes the classification field group.
func (s *SQLiteStore) UpsertClassification(ctx context.Context, specimenID, label string) error {
	query := `
		INSERT INTO specimens (specimen_id, predicted_label, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?3)
		ON CONFLICT (specimen_id) DO UPDATE SET
			predicted_label = excluded.predicted_label,
			updated_at = excluded.updated_at
	`

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, query, specimenID, label, s.now().UnixNano()); err != nil {
		return classifySQLiteError(fmt.Errorf("upsert classification: %w", err))
	}
	return nil
}

// Get retrieves a record by specimen ID.
func (s *SQLiteStore) Get(ctx context.Context, specimenID string) (*models.SpecimenRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM specimens WHERE specimen_id = ?`

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, specimenID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifySQLiteError(fmt.Errorf("get specimen: %w", err))
	}
	return r, nil
}

// List retrieves the most recently updated records.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*models.SpecimenRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM specimens ORDER BY updated_at DESC, specimen_id ASC LIMIT ?`

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("list specimens: %w", err))
	}
	defer rows.Close()

	records := make([]*models.SpecimenRecord, 0)
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan specimen: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError(fmt.Errorf("iterate specimens: %w", err))
	}
	return records, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*models.SpecimenRecord, error) {
	var (
		r                       models.SpecimenRecord
		area, perimeter, aspect sql.NullFloat64
		lat, lon                sql.NullFloat64
		width, height           sql.NullInt64
		label                   sql.NullString
		createdAt, updatedAt    int64
	)
	err := row.Scan(
		&r.SpecimenID, &area, &perimeter, &width, &height, &aspect,
		&label, &lat, &lon, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Area = floatPtr(area)
	r.Perimeter = floatPtr(perimeter)
	r.AspectRatio = floatPtr(aspect)
	r.Latitude = floatPtr(lat)
	r.Longitude = floatPtr(lon)
	r.Width = intPtr(width)
	r.Height = intPtr(height)
	if label.Valid {
		r.PredictedLabel = &label.String
	}
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

// classifySQLiteError marks constraint violations as Malformed; lock contention
// and I/O failures are Transient.
func classifySQLiteError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return failure.Malformed(err)
	}
	return failure.Transient(err)
}
