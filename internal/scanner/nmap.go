package scanner

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/Ullaakut/nmap/v3"
)

// runNmapSweep shells out to nmap for a ping scan over the targets. Any
// failure (tool missing, non-zero exit, unparseable XML) is reported as an
// error so the caller can fall back to the built-in sweep.
func runNmapSweep(ctx context.Context, targets []string, timeout time.Duration) (map[string]float64, error) {
	if _, err := exec.LookPath("nmap"); err != nil {
		return nil, fmt.Errorf("nmap not installed: %w", err)
	}
	if len(targets) == 0 {
		return map[string]float64{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scanner, err := nmap.NewScanner(ctx,
		nmap.WithTargets(targets...),
		nmap.WithPingScan(),
		nmap.WithDisabledDNSResolution(),
	)
	if err != nil {
		return nil, fmt.Errorf("nmap setup: %w", err)
	}

	result, _, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("nmap run: %w", err)
	}

	alive := make(map[string]float64)
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}
		alive[host.Addresses[0].Addr] = hostRTT(host)
	}
	return alive, nil
}

// hostRTT converts nmap's smoothed RTT (microseconds) to milliseconds.
func hostRTT(host nmap.Host) float64 {
	if host.Times.SRTT == "" {
		return 0
	}
	us, err := strconv.ParseFloat(host.Times.SRTT, 64)
	if err != nil {
		return 0
	}
	return us / 1000.0
}
