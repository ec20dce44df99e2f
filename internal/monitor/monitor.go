// Package monitor defines the protocol-agnostic polling contract and its
// SNMP, SSH and REST implementations. A monitor is bound to exactly one
// device; the coordinator owns construction and lifecycle.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"netwatch/internal/domain"
)

// ErrNotSupported is returned by monitors for data their protocol cannot
// provide, so callers can distinguish "unavailable by design" from failure.
var ErrNotSupported = errors.New("operation not supported by protocol")

// ErrInterfaceNotFound is returned when a named interface does not exist on
// the device.
var ErrInterfaceNotFound = errors.New("interface not found")

// ProtocolMonitor polls one device over one management protocol. All methods
// honor context cancellation; implementations hold no open connections
// between calls.
type ProtocolMonitor interface {
	// TestConnection reports whether the device currently answers over this
	// protocol. It never returns an error: unreachable is a result.
	TestConnection(ctx context.Context) bool
	// DeviceInfo fetches the device's self-reported identity.
	DeviceInfo(ctx context.Context) (domain.DeviceInfo, error)
	// Interfaces fetches the complete current interface table.
	Interfaces(ctx context.Context) ([]domain.InterfaceInfo, error)
	// Interface fetches a single interface by name.
	Interface(ctx context.Context, name string) (*domain.InterfaceInfo, error)
	// HealthMetrics fetches resource metrics. Fields the protocol cannot
	// observe are left nil.
	HealthMetrics(ctx context.Context) (domain.DeviceHealth, error)
	// Protocol names the management protocol this monitor speaks.
	Protocol() string
}

// New builds the preferred monitor for a device record. Preference order is
// SNMP, then REST, then SSH; a device with none of these enabled still gets
// an SNMP monitor so status polls return a well-formed unreachable result.
func New(rec domain.DeviceRecord, log zerolog.Logger) ProtocolMonitor {
	switch {
	case rec.HasProtocol(domain.ProtocolSNMP):
		return NewSNMPMonitor(rec, log)
	case rec.HasProtocol(domain.ProtocolREST):
		return NewRESTMonitor(rec, log)
	case rec.HasProtocol(domain.ProtocolSSH):
		return NewSSHMonitor(rec, log)
	default:
		return NewSNMPMonitor(rec, log)
	}
}

// ForProtocol builds a monitor for one specific protocol, or nil if the
// protocol is not monitorable.
func ForProtocol(proto string, rec domain.DeviceRecord, log zerolog.Logger) ProtocolMonitor {
	switch proto {
	case domain.ProtocolSNMP:
		return NewSNMPMonitor(rec, log)
	case domain.ProtocolREST:
		return NewRESTMonitor(rec, log)
	case domain.ProtocolSSH:
		return NewSSHMonitor(rec, log)
	default:
		return nil
	}
}

// CollectStatus runs a full device poll: connectivity test, then health and
// interfaces. An unreachable device yields Reachable=false with an error
// message and no data sections. Partial failures after a successful
// connection degrade to a reachable status with the failing section absent.
func CollectStatus(ctx context.Context, m ProtocolMonitor, rec domain.DeviceRecord, log zerolog.Logger) domain.DeviceStatus {
	status := domain.DeviceStatus{
		DeviceID: rec.ID,
		LastSeen: time.Now().UTC(),
	}

	start := time.Now()
	if !m.TestConnection(ctx) {
		status.Reachable = false
		status.ErrorMessage = "device unreachable via " + m.Protocol()
		return status
	}
	status.Reachable = true
	status.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	if health, err := m.HealthMetrics(ctx); err != nil {
		if !errors.Is(err, ErrNotSupported) {
			log.Debug().Err(err).Str("device_id", rec.ID).Msg("health metrics unavailable")
		}
	} else {
		status.Health = &health
		status.UptimeSeconds = health.UptimeSeconds
	}

	if ifaces, err := m.Interfaces(ctx); err != nil {
		if !errors.Is(err, ErrNotSupported) {
			log.Debug().Err(err).Str("device_id", rec.ID).Msg("interface table unavailable")
		}
	} else {
		status.Interfaces = ifaces
	}

	if status.UptimeSeconds == nil {
		if info, err := m.DeviceInfo(ctx); err == nil {
			status.UptimeSeconds = info.UptimeSeconds
		}
	}

	return status
}
