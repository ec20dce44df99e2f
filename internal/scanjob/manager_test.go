package scanjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"netwatch/internal/domain"
	"netwatch/internal/repository"
	"netwatch/internal/scanner"
)

type fakeProber struct {
	sweepErr error
	alive    []scanner.AliveHost
	total    int
	ports    map[string][]int
	enrich   map[string]scanner.Enrichment

	portScans   int
	enrichCalls int
}

func (f *fakeProber) Sweep(context.Context, string) (*scanner.SweepResult, error) {
	if f.sweepErr != nil {
		return nil, f.sweepErr
	}
	return &scanner.SweepResult{TotalHosts: f.total, Hosts: f.alive}, nil
}

func (f *fakeProber) PortScan(context.Context, []string, []int) map[string][]int {
	f.portScans++
	return f.ports
}

func (f *fakeProber) Enrich(context.Context, []string, []string) map[string]scanner.Enrichment {
	f.enrichCalls++
	return f.enrich
}

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]domain.ScanJob
	saveErr error
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]domain.ScanJob)} }

func (s *memStore) Save(job domain.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.jobs[job.ScanID] = job
	return nil
}

func (s *memStore) Get(id string) (domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ScanJob{}, repository.ErrNotFound
	}
	return job, nil
}

func (s *memStore) List(limit int) ([]domain.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScanJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out, nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *memStore) DeleteOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.StartedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Close() error { return nil }

type fakeRegistry struct {
	mu      sync.Mutex
	created []domain.DeviceRecord
	failOn  string
}

func (r *fakeRegistry) CreateDevice(rec domain.DeviceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.Host == r.failOn {
		return errors.New("duplicate host")
	}
	r.created = append(r.created, rec)
	return nil
}

func (r *fakeRegistry) GenerateDeviceID(name, host string) string {
	return fmt.Sprintf("%s-%s", name, host)
}

func newTestManager(prober *fakeProber) (*Manager, *memStore, *fakeRegistry) {
	store := newMemStore()
	registry := &fakeRegistry{}
	m := NewManager(prober, store, registry, zerolog.Nop())
	// Keep terminal jobs in memory; eviction timing is tested separately.
	m.evict = func(*Manager, string) {}
	return m, store, registry
}

func waitTerminal(t *testing.T, m *Manager, scanID string) domain.ScanJob {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		job, err := m.GetScanStatus(scanID)
		if err != nil {
			t.Fatalf("GetScanStatus: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		select {
		case <-deadline:
			t.Fatalf("scan %s never reached a terminal state", scanID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartScanRejectsBadNetwork(t *testing.T) {
	m, _, _ := newTestManager(&fakeProber{})
	if _, err := m.StartScan(context.Background(), "999.999.0.0/24", domain.ScanTypePing, StartOptions{}); err == nil {
		t.Error("invalid network must fail synchronously")
	}
}

func TestStartScanSurfacesPersistenceFailure(t *testing.T) {
	m, store, _ := newTestManager(&fakeProber{total: 1})
	store.saveErr = errors.New("disk full")

	_, err := m.StartScan(context.Background(), "10.0.0.1/32", domain.ScanTypePing, StartOptions{})
	if err == nil {
		t.Fatal("setup i/o failure must be returned to the caller")
	}

	// The job must not linger in the active table either.
	history, herr := m.GetScanHistory(0)
	if herr != nil {
		t.Fatal(herr)
	}
	if len(history) != 0 {
		t.Errorf("history = %v, want empty after failed setup", history)
	}
}

func TestFullScanLifecycle(t *testing.T) {
	prober := &fakeProber{
		total: 6,
		alive: []scanner.AliveHost{{IP: "10.0.0.1", ResponseTimeMs: 1.2}, {IP: "10.0.0.2", ResponseTimeMs: 3.4}},
		ports: map[string][]int{
			"10.0.0.1": {22, 161},
			"10.0.0.2": {80, 443},
		},
		enrich: map[string]scanner.Enrichment{
			"10.0.0.1": {Hostname: "core-rtr", SysDescr: "Cisco IOS XE", Community: "private"},
		},
	}
	m, store, _ := newTestManager(prober)

	scanID, err := m.StartScan(context.Background(), "10.0.0.0/29", domain.ScanTypeFull, StartOptions{Name: "lab"})
	if err != nil {
		t.Fatal(err)
	}

	job := waitTerminal(t, m, scanID)
	if job.Status != domain.ScanCompleted {
		t.Fatalf("status = %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.ScanName != "lab" || job.TotalHosts != 6 || job.CompletedAt == nil {
		t.Errorf("job = %+v", job)
	}
	if len(job.DiscoveredDevices) != 2 {
		t.Fatalf("devices = %d, want 2", len(job.DiscoveredDevices))
	}

	rtr := job.DiscoveredDevices[0]
	if rtr.Hostname != "core-rtr" || rtr.DeviceType != domain.DeviceTypeRouter || rtr.SNMPCommunity != "private" {
		t.Errorf("router device = %+v", rtr)
	}
	if rtr.ConfidenceScore <= 0.3 {
		t.Errorf("confidence = %v, want boosted", rtr.ConfidenceScore)
	}

	// Terminal job must be persisted.
	stored, err := store.Get(scanID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.ScanCompleted {
		t.Error("completed scan not persisted")
	}
}

func TestPingScanSkipsPortAndEnrichStages(t *testing.T) {
	prober := &fakeProber{total: 2, alive: []scanner.AliveHost{{IP: "10.0.0.1"}}}
	m, _, _ := newTestManager(prober)

	scanID, _ := m.StartScan(context.Background(), "10.0.0.0/30", domain.ScanTypePing, StartOptions{})
	job := waitTerminal(t, m, scanID)

	if prober.portScans != 0 || prober.enrichCalls != 0 {
		t.Error("ping scan must not port scan or enrich")
	}
	dev := job.DiscoveredDevices[0]
	if len(dev.SuggestedProtocols) != 1 || dev.SuggestedProtocols[0] != domain.ProtocolPing {
		t.Errorf("protocols = %v, want [ping]", dev.SuggestedProtocols)
	}
}

func TestFullScanSuggestsSNMPWhenOnlyAgentAnswers(t *testing.T) {
	// SNMP is UDP: a device can answer the enrichment probe while the TCP
	// port scan sees nothing open at all.
	prober := &fakeProber{
		total: 1,
		alive: []scanner.AliveHost{{IP: "10.0.0.5"}},
		ports: map[string][]int{},
		enrich: map[string]scanner.Enrichment{
			"10.0.0.5": {SysDescr: "Cisco IOS Software, C2960", Community: "public"},
		},
	}
	m, _, registry := newTestManager(prober)

	scanID, _ := m.StartScan(context.Background(), "10.0.0.5/32", domain.ScanTypeFull, StartOptions{})
	job := waitTerminal(t, m, scanID)

	dev := job.DiscoveredDevices[0]
	if !hasProtocol(dev.SuggestedProtocols, domain.ProtocolSNMP) {
		t.Errorf("protocols = %v, want snmp for answering agent", dev.SuggestedProtocols)
	}
	if dev.DeviceType != domain.DeviceTypeRouter {
		t.Errorf("type = %s, want router from sysDescr", dev.DeviceType)
	}

	// The working community must survive promotion into the registry.
	if _, err := m.AutoAddDevicesFromScan(scanID); err != nil {
		t.Fatal(err)
	}
	if len(registry.created) != 1 || registry.created[0].Credentials.SNMPCommunity != "public" {
		t.Errorf("created = %+v, want record with discovered community", registry.created)
	}
}

func TestSweepFailureMarksScanFailed(t *testing.T) {
	m, store, _ := newTestManager(&fakeProber{sweepErr: errors.New("network unreachable")})

	scanID, err := m.StartScan(context.Background(), "10.0.0.0/30", domain.ScanTypePing, StartOptions{})
	if err != nil {
		t.Fatal(err)
	}
	job := waitTerminal(t, m, scanID)
	if job.Status != domain.ScanFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.ErrorMessage == "" || job.CompletedAt == nil {
		t.Error("failed job missing error message or completion time")
	}

	stored, err := store.Get(scanID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.ScanFailed {
		t.Error("failed scan not persisted")
	}
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	m, _, _ := newTestManager(&fakeProber{total: 1})
	scanID, _ := m.StartScan(context.Background(), "10.0.0.1/32", domain.ScanTypePing, StartOptions{})
	waitTerminal(t, m, scanID)

	m.update(scanID, func(j *domain.ScanJob) { j.Status = domain.ScanRunning })
	m.finish(scanID, func(j *domain.ScanJob) { j.Status = domain.ScanFailed })

	job, _ := m.GetScanStatus(scanID)
	if job.Status != domain.ScanCompleted {
		t.Errorf("terminal job mutated to %s", job.Status)
	}
}

func TestGetScanStatusUnknown(t *testing.T) {
	m, _, _ := newTestManager(&fakeProber{})
	if _, err := m.GetScanStatus("ghost"); !errors.Is(err, ErrScanNotFound) {
		t.Errorf("err = %v, want ErrScanNotFound", err)
	}
}

func TestHistoryMergesActiveAndStored(t *testing.T) {
	m, store, _ := newTestManager(&fakeProber{total: 1})

	old := domain.ScanJob{
		ScanID:    "stored-1",
		Network:   "10.1.0.0/24",
		Status:    domain.ScanCompleted,
		StartedAt: time.Now().UTC().Add(-time.Hour),
	}
	store.Save(old)

	scanID, _ := m.StartScan(context.Background(), "10.0.0.1/32", domain.ScanTypePing, StartOptions{})
	waitTerminal(t, m, scanID)

	history, err := m.GetScanHistory(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2 (no duplicates)", len(history))
	}
	// Newest first.
	if history[0].ScanID != scanID || history[1].ScanID != "stored-1" {
		t.Errorf("order = %s, %s", history[0].ScanID, history[1].ScanID)
	}

	limited, _ := m.GetScanHistory(1)
	if len(limited) != 1 {
		t.Errorf("limited history = %d, want 1", len(limited))
	}
}

func TestDeleteScanResult(t *testing.T) {
	m, _, _ := newTestManager(&fakeProber{total: 1})
	scanID, _ := m.StartScan(context.Background(), "10.0.0.1/32", domain.ScanTypePing, StartOptions{})
	waitTerminal(t, m, scanID)

	if err := m.DeleteScanResult(scanID); err != nil {
		t.Fatalf("DeleteScanResult: %v", err)
	}
	if _, err := m.GetScanStatus(scanID); !errors.Is(err, ErrScanNotFound) {
		t.Error("scan still retrievable after delete")
	}
	// Deleting an absent scan is a no-op, not an error.
	if err := m.DeleteScanResult(scanID); err != nil {
		t.Errorf("double delete err = %v, want nil", err)
	}
	if err := m.DeleteScanResult("never-existed"); err != nil {
		t.Errorf("delete of unknown id err = %v, want nil", err)
	}
}

func TestAutoAddDevices(t *testing.T) {
	prober := &fakeProber{
		total: 4,
		alive: []scanner.AliveHost{{IP: "10.0.0.1"}, {IP: "10.0.0.2"}, {IP: "10.0.0.3"}},
		ports: map[string][]int{
			"10.0.0.1": {22, 161},
			"10.0.0.2": {161},
			"10.0.0.3": {80},
		},
		enrich: map[string]scanner.Enrichment{
			"10.0.0.1": {Hostname: "rtr1", Community: "private"},
		},
	}
	m, _, registry := newTestManager(prober)
	registry.failOn = "10.0.0.3"

	scanID, _ := m.StartScan(context.Background(), "10.0.0.0/29", domain.ScanTypeFull, StartOptions{})
	waitTerminal(t, m, scanID)

	report, err := m.AutoAddDevicesFromScan(scanID)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Added) != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	var rtr *domain.DeviceRecord
	for i := range registry.created {
		if registry.created[i].Host == "10.0.0.1" {
			rtr = &registry.created[i]
		}
	}
	if rtr == nil {
		t.Fatal("10.0.0.1 not registered")
	}
	if rtr.Name != "rtr1" || rtr.Credentials.SNMPCommunity != "private" {
		t.Errorf("record = %+v", rtr)
	}

	// Second device had no discovered community; SNMP still needs one.
	for _, rec := range registry.created {
		if rec.Host == "10.0.0.2" && rec.Credentials.SNMPCommunity != "public" {
			t.Errorf("default community = %q, want public", rec.Credentials.SNMPCommunity)
		}
	}
}

func TestAutoAddRequiresCompletedScan(t *testing.T) {
	m, store, _ := newTestManager(&fakeProber{})
	store.Save(domain.ScanJob{ScanID: "failed-1", Status: domain.ScanFailed, StartedAt: time.Now()})

	if _, err := m.AutoAddDevicesFromScan("failed-1"); !errors.Is(err, ErrScanNotCompleted) {
		t.Errorf("err = %v, want ErrScanNotCompleted", err)
	}
}

func TestCleanupOldResults(t *testing.T) {
	m, store, _ := newTestManager(&fakeProber{})
	now := time.Now().UTC()
	store.Save(domain.ScanJob{ScanID: "ancient", Status: domain.ScanCompleted, StartedAt: now.Add(-45 * 24 * time.Hour)})
	store.Save(domain.ScanJob{ScanID: "recent", Status: domain.ScanCompleted, StartedAt: now})

	n, err := m.CleanupOldResults(30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := store.Get("recent"); err != nil {
		t.Error("recent scan purged")
	}
}
