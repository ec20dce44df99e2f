package monitor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"netwatch/internal/domain"
)

// SSHMonitor polls a device over SSH by running read-only shell commands.
// It targets Linux-ish network gear; interface statistics are out of reach
// without vendor-specific CLI parsing, so Interfaces reports ErrNotSupported.
type SSHMonitor struct {
	rec domain.DeviceRecord
	log zerolog.Logger
}

// NewSSHMonitor builds an SSH monitor for the given device record.
func NewSSHMonitor(rec domain.DeviceRecord, log zerolog.Logger) *SSHMonitor {
	return &SSHMonitor{
		rec: rec,
		log: log.With().Str("monitor", domain.ProtocolSSH).Str("device_id", rec.ID).Logger(),
	}
}

// Protocol implements ProtocolMonitor.
func (m *SSHMonitor) Protocol() string { return domain.ProtocolSSH }

func (m *SSHMonitor) connect(ctx context.Context) (*ssh.Client, error) {
	timeout := time.Duration(m.rec.TimeoutSeconds) * time.Second
	cfg := &ssh.ClientConfig{
		User:            m.rec.Credentials.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	if key := m.rec.Credentials.SSHKey; key != "" {
		signer, err := parsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("ssh key for %s: %w", m.rec.ID, err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if pw := m.rec.Credentials.Password; pw != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(pw))
	}
	if len(cfg.Auth) == 0 {
		return nil, fmt.Errorf("ssh %s: no credentials configured", m.rec.ID)
	}

	addr := net.JoinHostPort(m.rec.Host, "22")
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(clientConn, chans, reqs), nil
}

// parsePrivateKey accepts either PEM material inline or a path to a key file.
func parsePrivateKey(key string) (ssh.Signer, error) {
	if strings.Contains(key, "PRIVATE KEY") {
		return ssh.ParsePrivateKey([]byte(key))
	}
	data, err := os.ReadFile(key)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

func (m *SSHMonitor) run(client *ssh.Client, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()
	out, err := session.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("ssh exec %q: %w", cmd, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// TestConnection implements ProtocolMonitor.
func (m *SSHMonitor) TestConnection(ctx context.Context) bool {
	client, err := m.connect(ctx)
	if err != nil {
		return false
	}
	client.Close()
	return true
}

// DeviceInfo implements ProtocolMonitor.
func (m *SSHMonitor) DeviceInfo(ctx context.Context) (domain.DeviceInfo, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	defer client.Close()

	info := domain.DeviceInfo{}
	if name, err := m.run(client, "hostname"); err == nil {
		info.Name = name
	}
	if descr, err := m.run(client, "uname -a"); err == nil {
		info.Description = descr
	}
	if secs, ok := m.readUptime(client); ok {
		info.UptimeSeconds = &secs
	}
	return info, nil
}

// Interfaces implements ProtocolMonitor. Interface counters are not
// collectable over a generic shell.
func (m *SSHMonitor) Interfaces(ctx context.Context) ([]domain.InterfaceInfo, error) {
	return nil, ErrNotSupported
}

// Interface implements ProtocolMonitor.
func (m *SSHMonitor) Interface(ctx context.Context, name string) (*domain.InterfaceInfo, error) {
	return nil, ErrNotSupported
}

// HealthMetrics implements ProtocolMonitor. Reads procfs and df output;
// anything the remote end does not provide is left nil.
func (m *SSHMonitor) HealthMetrics(ctx context.Context) (domain.DeviceHealth, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return domain.DeviceHealth{}, err
	}
	defer client.Close()

	health := domain.DeviceHealth{}
	if secs, ok := m.readUptime(client); ok {
		health.UptimeSeconds = &secs
	}
	if out, err := m.run(client, "cat /proc/loadavg"); err == nil {
		health.LoadAverage = parseLoadAverage(out)
	}
	if out, err := m.run(client, "cat /proc/meminfo"); err == nil {
		applyMemInfo(out, &health)
	}
	if out, err := m.run(client, "df -P"); err == nil {
		if usage := parseDiskUsage(out); len(usage) > 0 {
			health.DiskUsage = usage
		}
	}
	return health, nil
}

func (m *SSHMonitor) readUptime(client *ssh.Client) (int64, bool) {
	out, err := m.run(client, "cat /proc/uptime")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, false
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return int64(secs), true
}

func parseLoadAverage(out string) []float64 {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return nil
	}
	loads := make([]float64, 0, 3)
	for _, f := range fields[:3] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		loads = append(loads, v)
	}
	return loads
}

func applyMemInfo(out string, health *domain.DeviceHealth) {
	values := map[string]int64{}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			values[key] = kb
		}
	}
	total, okTotal := values["MemTotal"]
	avail, okAvail := values["MemAvailable"]
	if !okTotal || total == 0 {
		return
	}
	totalMB := total / 1024
	health.MemoryTotalMB = &totalMB
	if okAvail {
		usedMB := (total - avail) / 1024
		pct := float64(total-avail) / float64(total) * 100
		health.MemoryUsedMB = &usedMB
		health.MemoryUsage = &pct
	}
}

func parseDiskUsage(out string) map[string]float64 {
	usage := map[string]float64{}
	lines := strings.Split(out, "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		pctStr := strings.TrimSuffix(fields[4], "%")
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil {
			continue
		}
		usage[fields[5]] = pct
	}
	return usage
}
