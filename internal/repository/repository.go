// Package repository defines the persistence contract for completed scans.
package repository

import (
	"errors"
	"time"

	"netwatch/internal/domain"
)

// ErrNotFound is returned when a scan id has no stored row.
var ErrNotFound = errors.New("scan not found")

// ScanStore persists scan jobs across restarts. Implementations must be safe
// for concurrent use.
type ScanStore interface {
	// Save inserts or replaces a scan row.
	Save(job domain.ScanJob) error
	// Get returns one scan by id, or ErrNotFound.
	Get(scanID string) (domain.ScanJob, error)
	// List returns up to limit scans, newest first. limit <= 0 means all.
	List(limit int) ([]domain.ScanJob, error)
	// Delete removes one scan, or returns ErrNotFound.
	Delete(scanID string) error
	// DeleteOlderThan removes scans started before cutoff, returning how
	// many rows went away.
	DeleteOlderThan(cutoff time.Time) (int, error)
	Close() error
}
