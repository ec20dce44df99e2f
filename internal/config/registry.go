// Package config implements the device registry: the YAML-backed store of
// DeviceRecords and global settings that the rest of the engine reads.
//
// Secrets can be supplied through the environment instead of the file, by
// convention <DEVICE_ID>_PASSWORD, <DEVICE_ID>_API_TOKEN and
// <DEVICE_ID>_API_KEY (the id uppercased, dashes mapped to underscores).
// Environment values take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"netwatch/internal/domain"
)

// GlobalSettings are deployment-wide defaults applied to devices that do not
// override them.
type GlobalSettings struct {
	DefaultTimeout       int      `yaml:"default_timeout"`
	DefaultRetryCount    int      `yaml:"default_retry_count"`
	CacheTTLSeconds      int      `yaml:"cache_ttl"`
	MaxConcurrentQueries int      `yaml:"max_concurrent_queries"`
	SNMPCommunities      []string `yaml:"snmp_communities,omitempty"`
}

func defaultSettings() GlobalSettings {
	return GlobalSettings{
		DefaultTimeout:       10,
		DefaultRetryCount:    3,
		CacheTTLSeconds:      300,
		MaxConcurrentQueries: 10,
		SNMPCommunities:      []string{"public"},
	}
}

// CacheTTL returns the cache TTL as a duration.
func (g GlobalSettings) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLSeconds) * time.Second
}

type registryFile struct {
	GlobalSettings GlobalSettings                 `yaml:"global_settings"`
	Devices        map[string]domain.DeviceRecord `yaml:"devices"`
}

// Registry loads, serves and persists device records. It is safe for
// concurrent use; writes are persisted back to the YAML file.
type Registry struct {
	path string
	log  zerolog.Logger

	mu       sync.RWMutex
	devices  map[string]domain.DeviceRecord
	settings GlobalSettings

	lookupEnv func(string) (string, bool)
}

// NewRegistry loads the registry from path. A missing file is not an error:
// the registry starts empty with default settings.
func NewRegistry(path string, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		path:      path,
		log:       log.With().Str("component", "registry").Logger(),
		devices:   make(map[string]domain.DeviceRecord),
		settings:  defaultSettings(),
		lookupEnv: os.LookupEnv,
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file, replacing all records and settings.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn().Str("path", r.path).Msg("device config file not found, starting empty")
			r.mu.Lock()
			r.devices = make(map[string]domain.DeviceRecord)
			r.settings = defaultSettings()
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read device config: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse device config: %w", err)
	}

	settings := file.GlobalSettings
	applySettingsDefaults(&settings)

	devices := make(map[string]domain.DeviceRecord, len(file.Devices))
	for id, rec := range file.Devices {
		rec.ID = id
		r.applyRecordDefaults(&rec, settings)
		r.applyEnvOverrides(&rec)
		if rec.Host == "" {
			r.log.Error().Str("device_id", id).Msg("device has no host, skipping")
			continue
		}
		devices[id] = rec
	}

	r.mu.Lock()
	r.devices = devices
	r.settings = settings
	r.mu.Unlock()

	r.log.Info().Int("devices", len(devices)).Str("path", r.path).Msg("device configurations loaded")
	return nil
}

func applySettingsDefaults(s *GlobalSettings) {
	d := defaultSettings()
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = d.DefaultTimeout
	}
	if s.DefaultRetryCount < 1 {
		s.DefaultRetryCount = d.DefaultRetryCount
	}
	if s.CacheTTLSeconds <= 0 {
		s.CacheTTLSeconds = d.CacheTTLSeconds
	}
	if s.MaxConcurrentQueries <= 0 {
		s.MaxConcurrentQueries = d.MaxConcurrentQueries
	}
	if len(s.SNMPCommunities) == 0 {
		s.SNMPCommunities = d.SNMPCommunities
	}
}

func (r *Registry) applyRecordDefaults(rec *domain.DeviceRecord, settings GlobalSettings) {
	if rec.Name == "" {
		rec.Name = rec.ID
	}
	if rec.DeviceType == "" {
		rec.DeviceType = domain.DeviceTypeGeneric
	} else {
		rec.DeviceType = domain.ParseDeviceType(string(rec.DeviceType))
	}
	if len(rec.EnabledProtocols) == 0 {
		rec.EnabledProtocols = []string{domain.ProtocolSNMP}
	}
	if rec.TimeoutSeconds <= 0 {
		rec.TimeoutSeconds = settings.DefaultTimeout
	}
	if rec.RetryCount < 1 {
		rec.RetryCount = settings.DefaultRetryCount
	}
	if rec.Credentials.SNMPVersion == "" {
		rec.Credentials.SNMPVersion = "2c"
	}
}

// applyEnvOverrides resolves secrets from the environment, taking precedence
// over values embedded in the file.
func (r *Registry) applyEnvOverrides(rec *domain.DeviceRecord) {
	key := envKey(rec.ID)
	if v, ok := r.lookupEnv(key + "_PASSWORD"); ok && v != "" {
		rec.Credentials.Password = v
	}
	if v, ok := r.lookupEnv(key + "_API_TOKEN"); ok && v != "" {
		rec.Credentials.APIToken = v
	}
	if v, ok := r.lookupEnv(key + "_API_KEY"); ok && v != "" {
		rec.Credentials.APIKey = v
	}
}

func envKey(deviceID string) string {
	return strings.ToUpper(strings.ReplaceAll(deviceID, "-", "_"))
}

// Get returns one device record by id.
func (r *Registry) Get(id string) (domain.DeviceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.devices[id]
	return rec, ok
}

// All returns a copy of every device record keyed by id.
func (r *Registry) All() map[string]domain.DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.DeviceRecord, len(r.devices))
	for id, rec := range r.devices {
		out[id] = rec
	}
	return out
}

// IDs returns all device ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Exists reports whether a device id is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// ByType returns all devices of the given type.
func (r *Registry) ByType(t domain.DeviceType) []domain.DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DeviceRecord
	for _, rec := range r.devices {
		if rec.DeviceType == t {
			out = append(out, rec)
		}
	}
	return out
}

// WithProtocol returns all devices that have the given protocol enabled.
func (r *Registry) WithProtocol(proto string) []domain.DeviceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.DeviceRecord
	for _, rec := range r.devices {
		if rec.HasProtocol(proto) {
			out = append(out, rec)
		}
	}
	return out
}

// Settings returns the current global settings.
func (r *Registry) Settings() GlobalSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// CreateDevice adds a new record and persists the registry. The record's ID
// must be unique.
func (r *Registry) CreateDevice(rec domain.DeviceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("device id is required")
	}
	if rec.Host == "" {
		return fmt.Errorf("device %s: host is required", rec.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[rec.ID]; exists {
		return fmt.Errorf("device %s already exists", rec.ID)
	}
	r.applyRecordDefaults(&rec, r.settings)
	r.devices[rec.ID] = rec
	if err := r.saveLocked(); err != nil {
		delete(r.devices, rec.ID)
		return err
	}
	r.log.Info().Str("device_id", rec.ID).Str("host", rec.Host).Msg("device created")
	return nil
}

// DeviceUpdate carries the mutable fields of a record; nil fields are left
// untouched.
type DeviceUpdate struct {
	Name             *string
	Host             *string
	DeviceType       *domain.DeviceType
	EnabledProtocols []string
	TimeoutSeconds   *int
	RetryCount       *int
	Description      *string
	Credentials      *domain.Credentials
}

// UpdateDevice applies a partial update to an existing record and persists.
func (r *Registry) UpdateDevice(id string, upd DeviceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}

	prev := rec
	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Host != nil {
		rec.Host = *upd.Host
	}
	if upd.DeviceType != nil {
		rec.DeviceType = domain.ParseDeviceType(string(*upd.DeviceType))
	}
	if upd.EnabledProtocols != nil {
		rec.EnabledProtocols = upd.EnabledProtocols
	}
	if upd.TimeoutSeconds != nil {
		rec.TimeoutSeconds = *upd.TimeoutSeconds
	}
	if upd.RetryCount != nil {
		rec.RetryCount = *upd.RetryCount
	}
	if upd.Description != nil {
		rec.Description = *upd.Description
	}
	if upd.Credentials != nil {
		rec.Credentials = *upd.Credentials
	}
	r.applyRecordDefaults(&rec, r.settings)

	r.devices[id] = rec
	if err := r.saveLocked(); err != nil {
		r.devices[id] = prev
		return err
	}
	r.log.Info().Str("device_id", id).Msg("device updated")
	return nil
}

// DeleteDevice removes a record and persists the registry.
func (r *Registry) DeleteDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %s not found", id)
	}
	delete(r.devices, id)
	if err := r.saveLocked(); err != nil {
		r.devices[id] = rec
		return err
	}
	r.log.Info().Str("device_id", id).Msg("device deleted")
	return nil
}

// saveLocked writes the registry file. Callers hold r.mu.
func (r *Registry) saveLocked() error {
	file := registryFile{
		GlobalSettings: r.settings,
		Devices:        r.devices,
	}
	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshal device config: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("write device config: %w", err)
	}
	return nil
}

var invalidIDChars = regexp.MustCompile(`[^a-z0-9-]`)

// GenerateDeviceID builds a unique, identifier-safe device id from a name and
// host, suffixed with a timestamp for uniqueness across runs.
func (r *Registry) GenerateDeviceID(name, host string) string {
	base := strings.ToLower(name + "-" + host)
	base = strings.NewReplacer(" ", "-", ".", "-", "_", "-").Replace(base)
	base = invalidIDChars.ReplaceAllString(base, "")
	base = strings.Trim(base, "-")
	if base == "" || base[0] < 'a' || base[0] > 'z' {
		base = "device-" + base
		base = strings.TrimSuffix(base, "-")
	}
	id := fmt.Sprintf("%s-%d", base, time.Now().Unix())

	r.mu.RLock()
	defer r.mu.RUnlock()
	candidate := id
	for n := 1; ; n++ {
		if _, exists := r.devices[candidate]; !exists {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", id, n)
	}
}

// ExportedDevice is the caller-safe view of a record with masked credentials.
type ExportedDevice struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	Host             string                   `json:"host"`
	DeviceType       domain.DeviceType        `json:"device_type"`
	EnabledProtocols []string                 `json:"enabled_protocols"`
	TimeoutSeconds   int                      `json:"timeout"`
	RetryCount       int                      `json:"retry_count"`
	Description      string                   `json:"description,omitempty"`
	Credentials      domain.MaskedCredentials `json:"credentials"`
}

// Export returns every record with credentials masked, for echoing to
// callers. Never exposes secret values.
func (r *Registry) Export() []ExportedDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ExportedDevice, 0, len(r.devices))
	for _, rec := range r.devices {
		out = append(out, ExportedDevice{
			ID:               rec.ID,
			Name:             rec.Name,
			Host:             rec.Host,
			DeviceType:       rec.DeviceType,
			EnabledProtocols: rec.EnabledProtocols,
			TimeoutSeconds:   rec.TimeoutSeconds,
			RetryCount:       rec.RetryCount,
			Description:      rec.Description,
			Credentials:      rec.Credentials.Masked(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
