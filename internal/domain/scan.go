package domain

import "time"

// ScanType selects how deep a discovery scan goes
type ScanType string

const (
	// ScanTypePing discovers alive hosts only
	ScanTypePing ScanType = "ping"
	// ScanTypePort discovers alive hosts and probes their service ports
	ScanTypePort ScanType = "port"
	// ScanTypeFull adds hostname resolution and SNMP enrichment on top of
	// the port scan
	ScanTypeFull ScanType = "full"
)

// ParseScanType maps a string to a ScanType, defaulting to ping
func ParseScanType(s string) ScanType {
	switch ScanType(s) {
	case ScanTypePing, ScanTypePort, ScanTypeFull:
		return ScanType(s)
	default:
		return ScanTypePing
	}
}

// ScanStatus is the state of a scan job. Jobs move
// pending -> running -> {completed, failed}; terminal states are immutable.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// DiscoveredDevice is one host found by a scan, with the classifier's guess
// about what it is and how it should be monitored.
type DiscoveredDevice struct {
	IP                 string     `json:"ip"`
	Hostname           string     `json:"hostname,omitempty"`
	ResponseTimeMs     float64    `json:"response_time,omitempty"`
	OpenPorts          []int      `json:"open_ports"`
	SuggestedProtocols []string   `json:"suggested_protocols"`
	SystemDescription  string     `json:"system_description,omitempty"`
	DeviceType         DeviceType `json:"device_type"`
	SNMPCommunity      string     `json:"snmp_community,omitempty"`
	ConfidenceScore    float64    `json:"confidence_score"`
}

// ScanJob is one discovery run over a network range. It is mutated only by
// the background task that owns it; once terminal it is immutable and
// persisted.
type ScanJob struct {
	ScanID            string             `json:"scan_id"`
	ScanName          string             `json:"scan_name,omitempty"`
	Network           string             `json:"network"`
	ScanType          ScanType           `json:"scan_type"`
	Status            ScanStatus         `json:"status"`
	StartedAt         time.Time          `json:"started_at"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
	TotalHosts        int                `json:"total_hosts"`
	ScannedHosts      int                `json:"scanned_hosts"`
	DiscoveredDevices []DiscoveredDevice `json:"discovered_devices"`
	ErrorMessage      string             `json:"error_message,omitempty"`
}

// ScanSummary is the history view of a job: everything but the device list.
type ScanSummary struct {
	ScanID      string     `json:"scan_id"`
	ScanName    string     `json:"scan_name,omitempty"`
	Network     string     `json:"network"`
	ScanType    ScanType   `json:"scan_type"`
	Status      ScanStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DeviceCount int        `json:"device_count"`
}

// Summary converts a job to its history view.
func (j ScanJob) Summary() ScanSummary {
	return ScanSummary{
		ScanID:      j.ScanID,
		ScanName:    j.ScanName,
		Network:     j.Network,
		ScanType:    j.ScanType,
		Status:      j.Status,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		DeviceCount: len(j.DiscoveredDevices),
	}
}
