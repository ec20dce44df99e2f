// Package coordinator schedules device polls: it owns one monitor per
// device, serves results through the TTL cache, retries transient failures
// and bounds how many devices are polled at once.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"netwatch/internal/cache"
	"netwatch/internal/domain"
	"netwatch/internal/monitor"
)

// ErrDeviceNotFound is returned for ids the registry does not know.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceSource is the registry view the coordinator needs.
type DeviceSource interface {
	Get(id string) (domain.DeviceRecord, bool)
	All() map[string]domain.DeviceRecord
	Reload() error
}

// Options tune the coordinator. Zero values fall back to sane defaults.
type Options struct {
	CacheTTL      time.Duration
	MaxConcurrent int
}

// Coordinator is the single entry point for all polling operations. Safe for
// concurrent use.
type Coordinator struct {
	source DeviceSource
	cache  *cache.Cache
	sem    *semaphore.Weighted
	log    zerolog.Logger

	mu       sync.Mutex
	monitors map[string]monitor.ProtocolMonitor

	// newMonitor is swappable in tests.
	newMonitor func(rec domain.DeviceRecord, log zerolog.Logger) monitor.ProtocolMonitor
}

// New builds a coordinator over the given device source.
func New(source DeviceSource, opts Options, log zerolog.Logger) *Coordinator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 300 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	return &Coordinator{
		source:     source,
		cache:      cache.New(opts.CacheTTL),
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		log:        log.With().Str("component", "coordinator").Logger(),
		monitors:   make(map[string]monitor.ProtocolMonitor),
		newMonitor: monitor.New,
	}
}

func (c *Coordinator) device(id string) (domain.DeviceRecord, monitor.ProtocolMonitor, error) {
	rec, ok := c.source.Get(id)
	if !ok {
		return domain.DeviceRecord{}, nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.monitors[id]
	if !ok {
		m = c.newMonitor(rec, c.log)
		c.monitors[id] = m
	}
	return rec, m, nil
}

// GetDeviceStatus returns the full poll result for one device, served from
// cache when fresh.
func (c *Coordinator) GetDeviceStatus(ctx context.Context, id string) (*domain.DeviceStatus, error) {
	if v, ok := c.cache.Get(id, cache.SectionStatus); ok {
		status := v.(domain.DeviceStatus)
		return &status, nil
	}

	rec, m, err := c.device(id)
	if err != nil {
		return nil, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	status := monitor.CollectStatus(ctx, m, rec, c.log)
	c.sem.Release(1)

	c.cache.Set(id, cache.SectionStatus, status)
	return &status, nil
}

// GetDeviceInterfaces returns the device's interface table, retrying
// transient failures with backoff.
func (c *Coordinator) GetDeviceInterfaces(ctx context.Context, id string) ([]domain.InterfaceInfo, error) {
	if v, ok := c.cache.Get(id, cache.SectionInterfaces); ok {
		return v.([]domain.InterfaceInfo), nil
	}

	rec, m, err := c.device(id)
	if err != nil {
		return nil, err
	}
	ifaces, err := monitor.WithRetry(ctx, rec.RetryCount, func() ([]domain.InterfaceInfo, error) {
		return m.Interfaces(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("interfaces for %s: %w", id, err)
	}
	c.cache.Set(id, cache.SectionInterfaces, ifaces)
	return ifaces, nil
}

// GetDeviceInterface returns one interface by name.
func (c *Coordinator) GetDeviceInterface(ctx context.Context, id, name string) (*domain.InterfaceInfo, error) {
	ifaces, err := c.GetDeviceInterfaces(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if ifaces[i].Name == name {
			return &ifaces[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s on %s", monitor.ErrInterfaceNotFound, name, id)
}

// GetDeviceHealth returns resource metrics for one device, retrying
// transient failures with backoff.
func (c *Coordinator) GetDeviceHealth(ctx context.Context, id string) (*domain.DeviceHealth, error) {
	if v, ok := c.cache.Get(id, cache.SectionHealth); ok {
		health := v.(domain.DeviceHealth)
		return &health, nil
	}

	rec, m, err := c.device(id)
	if err != nil {
		return nil, err
	}
	health, err := monitor.WithRetry(ctx, rec.RetryCount, func() (domain.DeviceHealth, error) {
		return m.HealthMetrics(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("health for %s: %w", id, err)
	}
	c.cache.Set(id, cache.SectionHealth, health)
	return &health, nil
}

// TestDeviceConnection probes every enabled monitorable protocol and reports
// which ones answered. Never cached.
func (c *Coordinator) TestDeviceConnection(ctx context.Context, id string) (map[string]bool, error) {
	rec, ok := c.source.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	results := make(map[string]bool)
	for _, proto := range rec.EnabledProtocols {
		m := monitor.ForProtocol(proto, rec, c.log)
		if m == nil {
			continue
		}
		results[proto] = m.TestConnection(ctx)
	}
	return results, nil
}

// GetMultipleDeviceStatus polls several devices concurrently, bounded by the
// coordinator's concurrency limit. Unknown ids are omitted from the result.
func (c *Coordinator) GetMultipleDeviceStatus(ctx context.Context, ids []string) map[string]domain.DeviceStatus {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]domain.DeviceStatus, len(ids))
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status, err := c.GetDeviceStatus(ctx, id)
			if err != nil {
				if !errors.Is(err, ErrDeviceNotFound) {
					c.log.Warn().Err(err).Str("device_id", id).Msg("status poll failed")
				}
				return
			}
			mu.Lock()
			out[id] = *status
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return out
}

// GetAllDeviceStatus polls every registered device.
func (c *Coordinator) GetAllDeviceStatus(ctx context.Context) map[string]domain.DeviceStatus {
	all := c.source.All()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	return c.GetMultipleDeviceStatus(ctx, ids)
}

// ReloadDevices re-reads the registry, drops all monitors and clears the
// cache so the next poll sees fresh configuration.
func (c *Coordinator) ReloadDevices() error {
	if err := c.source.Reload(); err != nil {
		return err
	}
	c.mu.Lock()
	c.monitors = make(map[string]monitor.ProtocolMonitor)
	c.mu.Unlock()
	c.cache.Clear()
	c.log.Info().Msg("device configuration reloaded")
	return nil
}

// ClearCache drops cached results for one device, or everything when id is
// empty.
func (c *Coordinator) ClearCache(id string) {
	if id == "" {
		c.cache.Clear()
		return
	}
	c.cache.Invalidate(id)
}
