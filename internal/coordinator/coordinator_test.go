package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"netwatch/internal/domain"
	"netwatch/internal/monitor"
)

type fakeSource struct {
	mu      sync.Mutex
	devices map[string]domain.DeviceRecord
	reloads int
}

func (s *fakeSource) Get(id string) (domain.DeviceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.devices[id]
	return rec, ok
}

func (s *fakeSource) All() map[string]domain.DeviceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.DeviceRecord, len(s.devices))
	for id, rec := range s.devices {
		out[id] = rec
	}
	return out
}

func (s *fakeSource) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	return nil
}

type countingMonitor struct {
	polls      atomic.Int32
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
	delay      time.Duration
	ifaces     []domain.InterfaceInfo
	ifaceErrs  atomic.Int32
	failIfaces int32
}

func (f *countingMonitor) TestConnection(context.Context) bool {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.polls.Add(1)
	return true
}

func (f *countingMonitor) DeviceInfo(context.Context) (domain.DeviceInfo, error) {
	return domain.DeviceInfo{}, nil
}

func (f *countingMonitor) Interfaces(context.Context) ([]domain.InterfaceInfo, error) {
	if f.ifaceErrs.Add(1) <= f.failIfaces {
		return nil, errors.New("transient walk failure")
	}
	return f.ifaces, nil
}

func (f *countingMonitor) Interface(ctx context.Context, name string) (*domain.InterfaceInfo, error) {
	return nil, monitor.ErrNotSupported
}

func (f *countingMonitor) HealthMetrics(context.Context) (domain.DeviceHealth, error) {
	return domain.DeviceHealth{}, nil
}

func (f *countingMonitor) Protocol() string { return "fake" }

func newTestCoordinator(devices map[string]domain.DeviceRecord, opts Options) (*Coordinator, *countingMonitor) {
	fake := &countingMonitor{}
	c := New(&fakeSource{devices: devices}, opts, zerolog.Nop())
	c.newMonitor = func(domain.DeviceRecord, zerolog.Logger) monitor.ProtocolMonitor { return fake }
	return c, fake
}

func someDevices(n int) map[string]domain.DeviceRecord {
	out := make(map[string]domain.DeviceRecord, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		out[id] = domain.DeviceRecord{ID: id, Host: "10.0.0.1", RetryCount: 1}
	}
	return out
}

func TestGetDeviceStatusUnknownDevice(t *testing.T) {
	c, _ := newTestCoordinator(someDevices(1), Options{})
	_, err := c.GetDeviceStatus(context.Background(), "ghost")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestGetDeviceStatusServedFromCache(t *testing.T) {
	c, fake := newTestCoordinator(someDevices(1), Options{CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := c.GetDeviceStatus(context.Background(), "a"); err != nil {
			t.Fatal(err)
		}
	}
	if n := fake.polls.Load(); n != 1 {
		t.Errorf("device polled %d times, want 1 (cache)", n)
	}

	c.ClearCache("a")
	if _, err := c.GetDeviceStatus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if n := fake.polls.Load(); n != 2 {
		t.Errorf("polls after invalidation = %d, want 2", n)
	}
}

func TestConcurrencyBound(t *testing.T) {
	c, fake := newTestCoordinator(someDevices(8), Options{MaxConcurrent: 2})
	fake.delay = 20 * time.Millisecond

	c.GetAllDeviceStatus(context.Background())

	if max := fake.maxSeen.Load(); max > 2 {
		t.Errorf("max concurrent polls = %d, want <= 2", max)
	}
	if n := fake.polls.Load(); n != 8 {
		t.Errorf("polls = %d, want 8", n)
	}
}

func TestGetMultipleOmitsUnknown(t *testing.T) {
	c, _ := newTestCoordinator(someDevices(2), Options{})
	out := c.GetMultipleDeviceStatus(context.Background(), []string{"a", "ghost", "b"})
	if len(out) != 2 {
		t.Errorf("len = %d, want 2", len(out))
	}
	if _, ok := out["ghost"]; ok {
		t.Error("unknown id present in result")
	}
}

func TestGetDeviceInterfacesRetries(t *testing.T) {
	devices := someDevices(1)
	rec := devices["a"]
	rec.RetryCount = 3
	devices["a"] = rec

	c, fake := newTestCoordinator(devices, Options{})
	fake.failIfaces = 2
	fake.ifaces = []domain.InterfaceInfo{{Name: "eth0"}}

	ifaces, err := c.GetDeviceInterfaces(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetDeviceInterfaces: %v", err)
	}
	if len(ifaces) != 1 || ifaces[0].Name != "eth0" {
		t.Errorf("ifaces = %v", ifaces)
	}
	if n := fake.ifaceErrs.Load(); n != 3 {
		t.Errorf("attempts = %d, want 3 (two failures then success)", n)
	}
}

func TestReloadDropsMonitorsAndCache(t *testing.T) {
	src := &fakeSource{devices: someDevices(1)}
	fake := &countingMonitor{}
	built := atomic.Int32{}
	c := New(src, Options{CacheTTL: time.Minute}, zerolog.Nop())
	c.newMonitor = func(domain.DeviceRecord, zerolog.Logger) monitor.ProtocolMonitor {
		built.Add(1)
		return fake
	}

	if _, err := c.GetDeviceStatus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := c.ReloadDevices(); err != nil {
		t.Fatal(err)
	}
	if src.reloads != 1 {
		t.Error("source not reloaded")
	}
	if _, err := c.GetDeviceStatus(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if built.Load() != 2 {
		t.Errorf("monitors built = %d, want rebuild after reload", built.Load())
	}
	if fake.polls.Load() != 2 {
		t.Error("cache should be empty after reload")
	}
}

func TestTestDeviceConnection(t *testing.T) {
	c, _ := newTestCoordinator(map[string]domain.DeviceRecord{
		"a": {ID: "a", Host: "127.0.0.1", TimeoutSeconds: 1,
			EnabledProtocols: []string{domain.ProtocolPing, domain.ProtocolREST}},
	}, Options{})

	results, err := c.TestDeviceConnection(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	// ping is not a monitorable protocol and must be skipped.
	if _, ok := results[domain.ProtocolPing]; ok {
		t.Error("ping should not appear in connection test results")
	}
	if _, ok := results[domain.ProtocolREST]; !ok {
		t.Error("rest missing from connection test results")
	}
}
