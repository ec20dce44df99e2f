// Package scanner discovers hosts on a network: ping sweeps, TCP port
// probes, reverse DNS and SNMP enrichment, and classification of what was
// found. The external nmap tool is used when present, with a pure-Go
// fallback otherwise.
package scanner

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPorts are the service ports probed when the caller does not choose
// their own set.
var DefaultPorts = []int{22, 23, 80, 161, 443, 8080, 8443, 9000}

// maxHosts caps how many addresses a single scan will touch.
const maxHosts = 1000

// Config tunes a Scanner. Zero values fall back to defaults.
type Config struct {
	Ports         []int
	Timeout       time.Duration
	MaxConcurrent int
	Communities   []string
}

func (c *Config) applyDefaults() {
	if len(c.Ports) == 0 {
		c.Ports = DefaultPorts
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 50
	}
	if len(c.Communities) == 0 {
		c.Communities = []string{"public"}
	}
}

// Scanner runs discovery operations. Safe for concurrent use; each call is
// independent.
type Scanner struct {
	cfg Config
	log zerolog.Logger

	// pingHost is swappable in tests.
	pingHost func(ctx context.Context, ip string, timeout time.Duration) (float64, bool)
	// nmapSweep is the fast path when the external tool is available.
	nmapSweep func(ctx context.Context, targets []string, timeout time.Duration) (map[string]float64, error)
}

// New builds a scanner with the given config.
func New(cfg Config, log zerolog.Logger) *Scanner {
	cfg.applyDefaults()
	s := &Scanner{
		cfg: cfg,
		log: log.With().Str("component", "scanner").Logger(),
	}
	s.pingHost = execPing
	s.nmapSweep = runNmapSweep
	return s
}

// AliveHost is one address that answered the sweep.
type AliveHost struct {
	IP             string
	ResponseTimeMs float64
}

// SweepResult is the outcome of a ping sweep over a network range.
type SweepResult struct {
	TotalHosts int
	Hosts      []AliveHost
	Truncated  bool
}

// ExpandCIDR lists the usable addresses of a network range. Network and
// broadcast addresses are trimmed for /30 and larger IPv4 networks; the list
// is capped at maxHosts.
func ExpandCIDR(network string) ([]string, bool, error) {
	ip, ipnet, err := net.ParseCIDR(network)
	if err != nil {
		// A bare address scans as a single host.
		if parsed := net.ParseIP(network); parsed != nil {
			return []string{network}, false, nil
		}
		return nil, false, fmt.Errorf("invalid network %q: %w", network, err)
	}

	ones, bits := ipnet.Mask.Size()
	var ips []string
	truncated := false
	for addr := ip.Mask(ipnet.Mask); ipnet.Contains(addr); addr = nextIP(addr) {
		if len(ips) >= maxHosts {
			truncated = true
			break
		}
		ips = append(ips, addr.String())
	}

	// Drop network and broadcast addresses on real IPv4 subnets.
	if bits == 32 && ones < 31 && len(ips) > 2 && !truncated {
		ips = ips[1 : len(ips)-1]
	} else if bits == 32 && ones < 31 && truncated && len(ips) > 1 {
		ips = ips[1:]
	}
	return ips, truncated, nil
}

func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// Sweep finds alive hosts in a network range. The external nmap tool is
// preferred; any failure there falls back to a concurrent ping sweep.
func (s *Scanner) Sweep(ctx context.Context, network string) (*SweepResult, error) {
	ips, truncated, err := ExpandCIDR(network)
	if err != nil {
		return nil, err
	}
	if truncated {
		s.log.Warn().Str("network", network).Int("cap", maxHosts).Msg("scan range truncated")
	}

	result := &SweepResult{TotalHosts: len(ips), Truncated: truncated}

	if alive, err := s.nmapSweep(ctx, ips, s.sweepDeadline(len(ips))); err == nil {
		for ip, rtt := range alive {
			result.Hosts = append(result.Hosts, AliveHost{IP: ip, ResponseTimeMs: rtt})
		}
		sortHosts(result.Hosts)
		s.log.Info().Str("network", network).Int("alive", len(result.Hosts)).Msg("nmap sweep complete")
		return result, nil
	} else {
		s.log.Debug().Err(err).Msg("nmap unavailable, falling back to ping sweep")
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	slots := make(chan struct{}, s.cfg.MaxConcurrent)
	for _, ip := range ips {
		wg.Add(1)
		slots <- struct{}{}
		go func(ip string) {
			defer wg.Done()
			defer func() { <-slots }()
			if rtt, ok := s.pingHost(ctx, ip, s.cfg.Timeout); ok {
				mu.Lock()
				result.Hosts = append(result.Hosts, AliveHost{IP: ip, ResponseTimeMs: rtt})
				mu.Unlock()
			}
		}(ip)
	}
	wg.Wait()
	sortHosts(result.Hosts)
	s.log.Info().Str("network", network).Int("alive", len(result.Hosts)).Msg("ping sweep complete")
	return result, nil
}

// sweepDeadline scales the nmap wall-clock budget with range size.
func (s *Scanner) sweepDeadline(hosts int) time.Duration {
	d := time.Duration(hosts) * 200 * time.Millisecond
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

func sortHosts(hosts []AliveHost) {
	sort.Slice(hosts, func(i, j int) bool {
		a, b := net.ParseIP(hosts[i].IP).To16(), net.ParseIP(hosts[j].IP).To16()
		if a == nil || b == nil {
			return hosts[i].IP < hosts[j].IP
		}
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
}

// PortScan probes the configured ports on each host with plain TCP connects.
// The result maps host to the set of open ports.
func (s *Scanner) PortScan(ctx context.Context, ips []string, ports []int) map[string][]int {
	if len(ports) == 0 {
		ports = s.cfg.Ports
	}

	type probe struct {
		ip   string
		port int
	}
	jobs := make(chan probe)
	var mu sync.Mutex
	open := make(map[string][]int, len(ips))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dialer := net.Dialer{Timeout: s.cfg.Timeout}
			for p := range jobs {
				conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.ip, strconv.Itoa(p.port)))
				if err != nil {
					continue
				}
				conn.Close()
				mu.Lock()
				open[p.ip] = append(open[p.ip], p.port)
				mu.Unlock()
			}
		}()
	}

	for _, ip := range ips {
		for _, port := range ports {
			select {
			case jobs <- probe{ip: ip, port: port}:
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return open
			}
		}
	}
	close(jobs)
	wg.Wait()

	for ip := range open {
		sort.Ints(open[ip])
	}
	return open
}

// execPing shells out to the system ping for one echo request.
func execPing(ctx context.Context, ip string, timeout time.Duration) (float64, bool) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(secs), ip)
	if err := cmd.Run(); err != nil {
		return 0, false
	}
	return float64(time.Since(start).Microseconds()) / 1000.0, true
}
