// Package scanjob owns the lifecycle of discovery scans: background
// execution, progress tracking, persistence of finished jobs and promotion
// of discovered hosts into the device registry.
package scanjob

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"netwatch/internal/domain"
	"netwatch/internal/repository"
	"netwatch/internal/scanner"
)

// ErrScanNotFound is returned for scan ids that are neither active nor
// stored.
var ErrScanNotFound = errors.New("scan not found")

// ErrScanNotCompleted is returned when an operation needs a successfully
// finished scan.
var ErrScanNotCompleted = errors.New("scan has not completed")

// ErrScanRunning is returned when deleting a scan that is still in flight.
var ErrScanRunning = errors.New("scan is still running")

// defaultGrace is how long a terminal job stays queryable in memory before
// reads have to hit the store.
const defaultGrace = 5 * time.Minute

// Prober is the scanner surface the manager drives.
type Prober interface {
	Sweep(ctx context.Context, network string) (*scanner.SweepResult, error)
	PortScan(ctx context.Context, ips []string, ports []int) map[string][]int
	Enrich(ctx context.Context, ips []string, communities []string) map[string]scanner.Enrichment
}

// DeviceRegistry is the registry surface needed to promote discovered hosts.
type DeviceRegistry interface {
	CreateDevice(rec domain.DeviceRecord) error
	GenerateDeviceID(name, host string) string
}

// StartOptions tune one scan.
type StartOptions struct {
	Name        string
	Ports       []int
	Communities []string
}

// Manager runs scans in the background and serves their state. Safe for
// concurrent use.
type Manager struct {
	prober   Prober
	store    repository.ScanStore
	registry DeviceRegistry
	log      zerolog.Logger
	grace    time.Duration

	mu     sync.Mutex
	active map[string]*domain.ScanJob

	now   func() time.Time
	newID func() string
	// evict is swappable in tests; the default delays by grace.
	evict func(m *Manager, scanID string)
}

// NewManager builds a scan manager.
func NewManager(prober Prober, store repository.ScanStore, registry DeviceRegistry, log zerolog.Logger) *Manager {
	return &Manager{
		prober:   prober,
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "scanjob").Logger(),
		grace:    defaultGrace,
		active:   make(map[string]*domain.ScanJob),
		now:      time.Now,
		newID:    uuid.NewString,
		evict: func(m *Manager, scanID string) {
			time.AfterFunc(m.grace, func() {
				m.mu.Lock()
				delete(m.active, scanID)
				m.mu.Unlock()
			})
		},
	}
}

// StartScan validates the request, registers a pending job and launches it
// in the background. Invalid networks fail synchronously; everything after
// that is reported through the job's status.
func (m *Manager) StartScan(ctx context.Context, network string, scanType domain.ScanType, opts StartOptions) (string, error) {
	if _, _, err := scanner.ExpandCIDR(network); err != nil {
		return "", err
	}

	job := &domain.ScanJob{
		ScanID:    m.newID(),
		ScanName:  opts.Name,
		Network:   network,
		ScanType:  scanType,
		Status:    domain.ScanPending,
		StartedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.active[job.ScanID] = job
	m.mu.Unlock()
	// An unpersisted job would be invisible to crash recovery, so a setup
	// i/o failure belongs to the caller, not the background task.
	if err := m.store.Save(*job); err != nil {
		m.mu.Lock()
		delete(m.active, job.ScanID)
		m.mu.Unlock()
		return "", fmt.Errorf("persist scan %s: %w", job.ScanID, err)
	}

	m.log.Info().
		Str("scan_id", job.ScanID).
		Str("network", network).
		Str("scan_type", string(scanType)).
		Msg("scan started")

	// The scan outlives the request that started it.
	go m.run(context.WithoutCancel(ctx), job.ScanID, opts)
	return job.ScanID, nil
}

func (m *Manager) run(ctx context.Context, scanID string, opts StartOptions) {
	m.update(scanID, func(job *domain.ScanJob) {
		job.Status = domain.ScanRunning
	})

	job, ok := m.snapshot(scanID)
	if !ok {
		return
	}

	devices, total, err := m.execute(ctx, job, opts)
	if err != nil {
		m.finish(scanID, func(j *domain.ScanJob) {
			j.Status = domain.ScanFailed
			j.ErrorMessage = err.Error()
		})
		m.log.Error().Err(err).Str("scan_id", scanID).Msg("scan failed")
		return
	}

	m.finish(scanID, func(j *domain.ScanJob) {
		j.Status = domain.ScanCompleted
		j.TotalHosts = total
		j.ScannedHosts = total
		j.DiscoveredDevices = devices
	})
	m.log.Info().Str("scan_id", scanID).Int("devices", len(devices)).Msg("scan completed")
}

// execute runs the scan stages appropriate for the scan type.
func (m *Manager) execute(ctx context.Context, job domain.ScanJob, opts StartOptions) ([]domain.DiscoveredDevice, int, error) {
	sweep, err := m.prober.Sweep(ctx, job.Network)
	if err != nil {
		return nil, 0, fmt.Errorf("sweep %s: %w", job.Network, err)
	}

	m.update(job.ScanID, func(j *domain.ScanJob) {
		j.TotalHosts = sweep.TotalHosts
		j.ScannedHosts = len(sweep.Hosts)
	})

	ips := make([]string, len(sweep.Hosts))
	rtt := make(map[string]float64, len(sweep.Hosts))
	for i, h := range sweep.Hosts {
		ips[i] = h.IP
		rtt[h.IP] = h.ResponseTimeMs
	}

	var openPorts map[string][]int
	var extra map[string]scanner.Enrichment
	switch job.ScanType {
	case domain.ScanTypePort:
		openPorts = m.prober.PortScan(ctx, ips, opts.Ports)
	case domain.ScanTypeFull:
		openPorts = m.prober.PortScan(ctx, ips, opts.Ports)
		extra = m.prober.Enrich(ctx, ips, opts.Communities)
	}

	devices := make([]domain.DiscoveredDevice, 0, len(ips))
	for _, ip := range ips {
		dev := domain.DiscoveredDevice{
			IP:             ip,
			ResponseTimeMs: rtt[ip],
			OpenPorts:      openPorts[ip],
		}
		if e, ok := extra[ip]; ok {
			dev.Hostname = e.Hostname
			dev.SystemDescription = e.SysDescr
			dev.SNMPCommunity = e.Community
		}
		// The agent answering during enrichment proves SNMP works even when
		// the TCP probe never saw port 161.
		snmpAnswered := dev.SNMPCommunity != "" || dev.SystemDescription != ""
		cls := scanner.Classify(dev.OpenPorts, dev.SystemDescription, snmpAnswered)
		dev.DeviceType = cls.DeviceType
		dev.SuggestedProtocols = cls.SuggestedProtocols
		dev.ConfidenceScore = cls.Confidence
		devices = append(devices, dev)
	}
	return devices, sweep.TotalHosts, nil
}

// update mutates an active job in place. Terminal jobs are never touched.
func (m *Manager) update(scanID string, fn func(*domain.ScanJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[scanID]
	if !ok || job.Status.Terminal() {
		return
	}
	fn(job)
}

// finish moves a job to a terminal state, persists it and schedules its
// eviction from the in-memory map.
func (m *Manager) finish(scanID string, fn func(*domain.ScanJob)) {
	m.mu.Lock()
	job, ok := m.active[scanID]
	if !ok || job.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	fn(job)
	done := m.now().UTC()
	job.CompletedAt = &done
	saved := *job
	m.mu.Unlock()

	if err := m.store.Save(saved); err != nil {
		m.log.Error().Err(err).Str("scan_id", scanID).Msg("failed to persist finished scan")
	}
	m.evict(m, scanID)
}

func (m *Manager) snapshot(scanID string) (domain.ScanJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[scanID]
	if !ok {
		return domain.ScanJob{}, false
	}
	return *job, true
}

// GetScanStatus returns the current state of a scan, active or stored.
func (m *Manager) GetScanStatus(scanID string) (domain.ScanJob, error) {
	if job, ok := m.snapshot(scanID); ok {
		return job, nil
	}
	job, err := m.store.Get(scanID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ScanJob{}, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	return job, err
}

// GetScanHistory returns summaries of recent scans, newest first. Active
// jobs shadow their stored rows.
func (m *Manager) GetScanHistory(limit int) ([]domain.ScanSummary, error) {
	stored, err := m.store.List(0)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	merged := make(map[string]domain.ScanJob, len(stored)+len(m.active))
	for _, job := range stored {
		merged[job.ScanID] = job
	}
	for id, job := range m.active {
		merged[id] = *job
	}
	m.mu.Unlock()

	summaries := make([]domain.ScanSummary, 0, len(merged))
	for _, job := range merged {
		summaries = append(summaries, job.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// DeleteScanResult removes a finished scan. In-flight scans cannot be
// deleted; an absent id is a no-op.
func (m *Manager) DeleteScanResult(scanID string) error {
	m.mu.Lock()
	if job, ok := m.active[scanID]; ok {
		if !job.Status.Terminal() {
			m.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrScanRunning, scanID)
		}
		delete(m.active, scanID)
	}
	m.mu.Unlock()

	err := m.store.Delete(scanID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// CleanupOldResults removes stored scans older than the given number of
// days, returning how many were purged.
func (m *Manager) CleanupOldResults(days int) (int, error) {
	if days < 1 {
		days = 30
	}
	cutoff := m.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	return m.store.DeleteOlderThan(cutoff)
}

// AddReport summarizes a device promotion run.
type AddReport struct {
	Added    []string `json:"added"`
	Failed   int      `json:"failed"`
	Messages []string `json:"messages,omitempty"`
}

// AutoAddDevicesFromScan registers every device a completed scan found.
// Individual failures do not stop the rest; the report carries both sides.
func (m *Manager) AutoAddDevicesFromScan(scanID string) (*AddReport, error) {
	job, err := m.GetScanStatus(scanID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.ScanCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrScanNotCompleted, scanID, job.Status)
	}

	report := &AddReport{}
	for _, dev := range job.DiscoveredDevices {
		name := dev.Hostname
		if name == "" {
			name = dev.IP
		}
		rec := domain.DeviceRecord{
			ID:               m.registry.GenerateDeviceID(name, dev.IP),
			Name:             name,
			Host:             dev.IP,
			DeviceType:       dev.DeviceType,
			EnabledProtocols: dev.SuggestedProtocols,
			Description:      dev.SystemDescription,
		}
		if hasProtocol(dev.SuggestedProtocols, domain.ProtocolSNMP) {
			community := dev.SNMPCommunity
			if community == "" {
				community = "public"
			}
			rec.Credentials.SNMPCommunity = community
		}

		if err := m.registry.CreateDevice(rec); err != nil {
			report.Failed++
			report.Messages = append(report.Messages, fmt.Sprintf("%s: %v", dev.IP, err))
			continue
		}
		report.Added = append(report.Added, rec.ID)
	}

	m.log.Info().
		Str("scan_id", scanID).
		Int("added", len(report.Added)).
		Int("failed", report.Failed).
		Msg("scan devices promoted to registry")
	return report, nil
}

func hasProtocol(protocols []string, proto string) bool {
	for _, p := range protocols {
		if p == proto {
			return true
		}
	}
	return false
}
