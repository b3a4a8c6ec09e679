package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zonemap/zonemap/pkg/auth"
	"github.com/zonemap/zonemap/pkg/geo"
	"github.com/zonemap/zonemap/pkg/logx"
)

// SQLiteStore implements Store on a local sqlite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	logger *logx.Logger
}

// NewSQLiteStore opens (creating if necessary) the measurement database at
// dbPath and ensures the schema exists.
func NewSQLiteStore(dbPath string, logger *logx.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		logger: logger,
	}

	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("measurement_store_initialized", "database_path", dbPath)

	return s, nil
}

// initializeSchema creates the necessary tables and indexes.
func (s *SQLiteStore) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		network_type TEXT NOT NULL,
		rsrq REAL,
		sinr REAL,
		cqi INTEGER,
		download_mbps REAL,
		upload_mbps REAL,
		latency_ms REAL,
		quality_score INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credentials (
		user_id TEXT PRIMARY KEY,
		secret_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_user ON measurements(user_id);
	CREATE INDEX IF NOT EXISTS idx_measurements_user_score ON measurements(user_id, quality_score);
	CREATE INDEX IF NOT EXISTS idx_measurements_recorded_at ON measurements(recorded_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append inserts a single measurement.
func (s *SQLiteStore) Append(ctx context.Context, m *Measurement) error {
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO measurements
			(user_id, latitude, longitude, network_type, rsrq, sinr, cqi,
			 download_mbps, upload_mbps, latency_ms, quality_score, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Coordinate.Lat, m.Coordinate.Lon, m.NetworkType,
		m.RSRQ, m.SINR, m.CQI,
		m.DownloadMbps, m.UploadMbps, m.LatencyMs,
		m.QualityScore, m.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}

	return nil
}

// AppendBatch inserts all measurements in a single transaction.
func (s *SQLiteStore) AppendBatch(ctx context.Context, ms []*Measurement) error {
	if len(ms) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements
			(user_id, latitude, longitude, network_type, rsrq, sinr, cqi,
			 download_mbps, upload_mbps, latency_ms, quality_score, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range ms {
		if m.RecordedAt.IsZero() {
			m.RecordedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			m.UserID, m.Coordinate.Lat, m.Coordinate.Lon, m.NetworkType,
			m.RSRQ, m.SINR, m.CQI,
			m.DownloadMbps, m.UploadMbps, m.LatencyMs,
			m.QualityScore, m.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to insert measurement in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	s.logger.Debug("measurement_batch_persisted", "count", len(ms))

	return nil
}

// FindBestNearby returns the highest-scoring measurement for userID within
// radiusM meters of center, or nil when none qualifies.
//
// Candidates are prefiltered with a latitude/longitude bounding box in SQL,
// then filtered exactly with the haversine distance. Equal scores are
// ordered by quality_score DESC, recorded_at DESC, id DESC; the timestamp
// component is an implementation detail callers must not rely on.
func (s *SQLiteStore) FindBestNearby(ctx context.Context, userID string, center geo.Coordinate, radiusM float64) (*Measurement, error) {
	latDelta := radiusM / 111320.0

	// Longitude degrees shrink with latitude; near the poles the box covers
	// every longitude.
	lonDelta := 180.0
	if cosLat := math.Cos(center.Lat * math.Pi / 180); cosLat > 0.01 {
		lonDelta = latDelta / cosLat
	}

	query := `
		SELECT id, user_id, latitude, longitude, network_type,
		       COALESCE(rsrq, 0), COALESCE(sinr, 0), COALESCE(cqi, 0),
		       COALESCE(download_mbps, 0), COALESCE(upload_mbps, 0), COALESCE(latency_ms, 0),
		       quality_score, recorded_at
		FROM measurements
		WHERE user_id = ?
		  AND latitude BETWEEN ? AND ?`
	args := []interface{}{userID, center.Lat - latDelta, center.Lat + latDelta}

	// The longitude predicate wraps at the antimeridian: a box that crosses
	// ±180° splits into two ranges OR'd together.
	lonMin := center.Lon - lonDelta
	lonMax := center.Lon + lonDelta
	switch {
	case lonDelta >= 180:
		// Box spans all longitudes.
	case lonMin < -180:
		query += `
		  AND (longitude >= ? OR longitude <= ?)`
		args = append(args, lonMin+360, lonMax)
	case lonMax > 180:
		query += `
		  AND (longitude >= ? OR longitude <= ?)`
		args = append(args, lonMin, lonMax-360)
	default:
		query += `
		  AND longitude BETWEEN ? AND ?`
		args = append(args, lonMin, lonMax)
	}

	query += `
		ORDER BY quality_score DESC, recorded_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m := &Measurement{}
		if err := rows.Scan(
			&m.ID, &m.UserID, &m.Coordinate.Lat, &m.Coordinate.Lon, &m.NetworkType,
			&m.RSRQ, &m.SINR, &m.CQI,
			&m.DownloadMbps, &m.UploadMbps, &m.LatencyMs,
			&m.QualityScore, &m.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}

		if geo.Distance(center, m.Coordinate) <= radiusM {
			return m, nil
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate measurements: %w", err)
	}

	return nil, nil
}

// LookupCredential returns the bcrypt secret hash for a user. An unknown
// user yields auth.ErrUnknownUser; any other failure is a store error and is
// reported as such so authentication can distinguish outage from rejection.
func (s *SQLiteStore) LookupCredential(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT secret_hash FROM credentials WHERE user_id = ?`, userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no credential for %s: %w", userID, auth.ErrUnknownUser)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up credential for %s: %w", userID, err)
	}
	return hash, nil
}

// UpsertCredential stores or replaces the bcrypt secret hash for a user.
func (s *SQLiteStore) UpsertCredential(ctx context.Context, userID, secretHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, secret_hash) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET secret_hash = excluded.secret_hash`,
		userID, secretHash,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential for %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
