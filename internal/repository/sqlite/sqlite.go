// Package sqlite implements the scan store on a local SQLite database. The
// full job is stored as a JSON document alongside indexed columns for the
// fields queries filter on.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"netwatch/internal/domain"
	"netwatch/internal/repository"
)

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	network    TEXT NOT NULL,
	scan_type  TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scans_started_at ON scans(started_at);
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
`

// Store is the SQLite-backed scan store.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and runs migrations.
// Scans left in running state by a previous process are marked failed, since
// their goroutines died with it.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open scan db: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log.With().Str("component", "scanstore").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.recoverInterrupted(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate scan db: %w", err)
	}
	return nil
}

// recoverInterrupted rewrites rows stranded in non-terminal states.
func (s *Store) recoverInterrupted() error {
	rows, err := s.db.Query(`SELECT data FROM scans WHERE status IN ('pending', 'running')`)
	if err != nil {
		return fmt.Errorf("query interrupted scans: %w", err)
	}
	var stranded []domain.ScanJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return err
		}
		var job domain.ScanJob
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		stranded = append(stranded, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, job := range stranded {
		job.Status = domain.ScanFailed
		job.ErrorMessage = "scan interrupted by system restart"
		now := time.Now().UTC()
		job.CompletedAt = &now
		if err := s.Save(job); err != nil {
			return err
		}
		s.log.Warn().Str("scan_id", job.ScanID).Msg("marked interrupted scan as failed")
	}
	return nil
}

// Save implements repository.ScanStore.
func (s *Store) Save(job domain.ScanJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal scan %s: %w", job.ScanID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scans (scan_id, status, network, scan_type, started_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			status = excluded.status,
			data = excluded.data`,
		job.ScanID, string(job.Status), job.Network, string(job.ScanType),
		job.StartedAt.UTC().Unix(), string(data))
	if err != nil {
		return fmt.Errorf("save scan %s: %w", job.ScanID, err)
	}
	return nil
}

// Get implements repository.ScanStore.
func (s *Store) Get(scanID string) (domain.ScanJob, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM scans WHERE scan_id = ?`, scanID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScanJob{}, fmt.Errorf("%w: %s", repository.ErrNotFound, scanID)
	}
	if err != nil {
		return domain.ScanJob{}, fmt.Errorf("get scan %s: %w", scanID, err)
	}
	var job domain.ScanJob
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.ScanJob{}, fmt.Errorf("decode scan %s: %w", scanID, err)
	}
	return job, nil
}

// List implements repository.ScanStore.
func (s *Store) List(limit int) ([]domain.ScanJob, error) {
	query := `SELECT data FROM scans ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ScanJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var job domain.ScanJob
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Warn().Err(err).Msg("skipping undecodable scan row")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete implements repository.ScanStore.
func (s *Store) Delete(scanID string) error {
	res, err := s.db.Exec(`DELETE FROM scans WHERE scan_id = ?`, scanID)
	if err != nil {
		return fmt.Errorf("delete scan %s: %w", scanID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", repository.ErrNotFound, scanID)
	}
	return nil
}

// DeleteOlderThan implements repository.ScanStore.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM scans WHERE started_at < ?`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup scans: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("old scans purged")
	}
	return int(n), nil
}

// Close implements repository.ScanStore.
func (s *Store) Close() error {
	return s.db.Close()
}
