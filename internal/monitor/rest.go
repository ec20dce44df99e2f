package monitor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"netwatch/internal/domain"
)

// Candidate endpoint paths, probed in order. Vendors disagree on API layout;
// the first path answering 200 wins and is remembered for the session.
var (
	restInfoPaths = []string{
		"/api/v1/system/info", "/api/system/info", "/api/system", "/api/v1/status", "/api/info", "/status",
	}
	restHealthPaths = []string{
		"/api/v1/system/health", "/api/system/health", "/api/health", "/health", "/api/v1/metrics",
	}
	restInterfacePaths = []string{
		"/api/v1/interfaces", "/api/interfaces", "/interfaces",
	}
)

// RESTMonitor polls a device over its HTTPS management API. Responses are
// treated as loosely-structured JSON since vendors do not share a schema.
type RESTMonitor struct {
	rec     domain.DeviceRecord
	log     zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewRESTMonitor builds a REST monitor for the given device record.
func NewRESTMonitor(rec domain.DeviceRecord, log zerolog.Logger) *RESTMonitor {
	// Management interfaces ship self-signed certificates almost universally.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &RESTMonitor{
		rec: rec,
		log: log.With().Str("monitor", domain.ProtocolREST).Str("device_id", rec.ID).Logger(),
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(rec.TimeoutSeconds) * time.Second,
		},
		baseURL: "https://" + rec.Host,
	}
}

// Protocol implements ProtocolMonitor.
func (m *RESTMonitor) Protocol() string { return domain.ProtocolREST }

func (m *RESTMonitor) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	creds := m.rec.Credentials
	switch {
	case creds.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	case creds.APIKey != "":
		req.Header.Set("X-API-Key", creds.APIKey)
	case creds.Username != "":
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	return m.client.Do(req)
}

// fetchJSON tries each candidate path until one answers 200 with a JSON body.
func (m *RESTMonitor) fetchJSON(ctx context.Context, paths []string) (map[string]any, error) {
	var lastErr error
	for _, path := range paths {
		resp, err := m.get(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			lastErr = fmt.Errorf("GET %s: %w", path, err)
			continue
		}
		return doc, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate endpoint answered")
	}
	return nil, fmt.Errorf("rest %s: %w", m.rec.Host, lastErr)
}

// TestConnection implements ProtocolMonitor. A 401 still proves the API is
// there and listening, so it counts as reachable.
func (m *RESTMonitor) TestConnection(ctx context.Context) bool {
	for _, path := range append([]string{"/"}, restInfoPaths...) {
		resp, err := m.get(ctx, path)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized {
			return true
		}
	}
	return false
}

// DeviceInfo implements ProtocolMonitor.
func (m *RESTMonitor) DeviceInfo(ctx context.Context) (domain.DeviceInfo, error) {
	doc, err := m.fetchJSON(ctx, restInfoPaths)
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	// Some vendors nest everything under a "system" object.
	if system, ok := doc["system"].(map[string]any); ok {
		doc = system
	}

	info := domain.DeviceInfo{
		Description: jsonString(doc, "description", "model", "product"),
		Name:        jsonString(doc, "name", "hostname", "system_name"),
		Location:    jsonString(doc, "location"),
		Contact:     jsonString(doc, "contact"),
	}
	if secs, ok := jsonInt(doc, "uptime", "uptime_seconds"); ok {
		info.UptimeSeconds = &secs
	}
	return info, nil
}

// Interfaces implements ProtocolMonitor.
func (m *RESTMonitor) Interfaces(ctx context.Context) ([]domain.InterfaceInfo, error) {
	doc, err := m.fetchJSON(ctx, restInterfacePaths)
	if err != nil {
		return nil, err
	}

	var raw []any
	for _, key := range []string{"interfaces", "items", "data", "results"} {
		if list, ok := doc[key].([]any); ok {
			raw = list
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("rest %s: interface list not found in response", m.rec.Host)
	}

	ifaces := make([]domain.InterfaceInfo, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		iface := domain.InterfaceInfo{
			Name:        jsonString(obj, "name", "interface", "id"),
			Description: jsonString(obj, "description", "alias"),
			Status:      statusFromString(jsonString(obj, "status", "oper_status", "state")),
			AdminStatus: statusFromString(jsonString(obj, "admin_status", "admin_state")),
			MACAddress:  jsonString(obj, "mac_address", "mac"),
		}
		if n, ok := jsonInt(obj, "speed", "speed_mbps"); ok {
			iface.SpeedMbps = n
		}
		if n, ok := jsonInt(obj, "mtu"); ok {
			iface.MTU = int(n)
		}
		if n, ok := jsonInt(obj, "in_octets", "rx_bytes"); ok {
			iface.InOctets = n
		}
		if n, ok := jsonInt(obj, "out_octets", "tx_bytes"); ok {
			iface.OutOctets = n
		}
		if iface.Name != "" {
			ifaces = append(ifaces, iface)
		}
	}
	return ifaces, nil
}

// Interface implements ProtocolMonitor.
func (m *RESTMonitor) Interface(ctx context.Context, name string) (*domain.InterfaceInfo, error) {
	ifaces, err := m.Interfaces(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if strings.EqualFold(ifaces[i].Name, name) {
			return &ifaces[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

// HealthMetrics implements ProtocolMonitor.
func (m *RESTMonitor) HealthMetrics(ctx context.Context) (domain.DeviceHealth, error) {
	doc, err := m.fetchJSON(ctx, restHealthPaths)
	if err != nil {
		return domain.DeviceHealth{}, err
	}
	if system, ok := doc["system"].(map[string]any); ok {
		doc = system
	}

	health := domain.DeviceHealth{}
	if v, ok := jsonFloat(doc, "cpu_usage", "cpu", "cpu_percent"); ok {
		health.CPUUsage = &v
	}
	if v, ok := jsonFloat(doc, "memory_usage", "memory", "memory_percent"); ok {
		health.MemoryUsage = &v
	}
	if v, ok := jsonFloat(doc, "temperature", "temp"); ok {
		health.Temperature = &v
	}
	if n, ok := jsonInt(doc, "memory_total", "memory_total_mb"); ok {
		health.MemoryTotalMB = &n
	}
	if n, ok := jsonInt(doc, "memory_used", "memory_used_mb"); ok {
		health.MemoryUsedMB = &n
	}
	if n, ok := jsonInt(doc, "uptime", "uptime_seconds"); ok {
		health.UptimeSeconds = &n
	}
	return health, nil
}

func statusFromString(s string) domain.InterfaceStatus {
	switch strings.ToLower(s) {
	case "up", "online", "connected":
		return domain.InterfaceUp
	case "down", "offline", "disconnected":
		return domain.InterfaceDown
	case "admin_down", "disabled":
		return domain.InterfaceAdminDown
	case "testing":
		return domain.InterfaceTesting
	default:
		return domain.InterfaceUnknown
	}
}

func jsonString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := doc[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func jsonFloat(doc map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if f, ok := doc[key].(float64); ok {
			return f, true
		}
	}
	return 0, false
}

func jsonInt(doc map[string]any, keys ...string) (int64, bool) {
	if f, ok := jsonFloat(doc, keys...); ok {
		return int64(f), true
	}
	return 0, false
}
