package coordinator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// PingResult is the outcome of a single ICMP echo probe.
type PingResult struct {
	DeviceID       string  `json:"device_id"`
	Host           string  `json:"host"`
	Success        bool    `json:"success"`
	ResponseTimeMs float64 `json:"response_time,omitempty"`
	Output         string  `json:"output,omitempty"`
}

// PingDevice shells out to the system ping for one echo request. Raw ICMP
// sockets need elevated privileges; the ping binary carries its own.
func (c *Coordinator) PingDevice(ctx context.Context, id string) (*PingResult, error) {
	rec, ok := c.source.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	timeout := rec.TimeoutSeconds
	if timeout <= 0 {
		timeout = 5
	}
	result := &PingResult{DeviceID: id, Host: rec.Host}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(timeout), rec.Host)
	out, err := cmd.CombinedOutput()
	result.Output = string(out)
	if err != nil {
		c.log.Debug().Err(err).Str("device_id", id).Msg("ping failed")
		return result, nil
	}
	result.Success = true
	result.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}
