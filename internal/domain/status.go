package domain

import "time"

// InterfaceStatus is the operational or administrative state of an interface
type InterfaceStatus string

const (
	InterfaceUp        InterfaceStatus = "up"
	InterfaceDown      InterfaceStatus = "down"
	InterfaceAdminDown InterfaceStatus = "admin_down"
	InterfaceTesting   InterfaceStatus = "testing"
	InterfaceUnknown   InterfaceStatus = "unknown"
)

// InterfaceInfo describes one network interface as observed on a device.
// A poll always produces a complete fresh list; entries are never merged
// across polls.
type InterfaceInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      InterfaceStatus `json:"status"`
	AdminStatus InterfaceStatus `json:"admin_status"`
	SpeedMbps   int64           `json:"speed,omitempty"`
	MTU         int             `json:"mtu,omitempty"`
	MACAddress  string          `json:"mac_address,omitempty"`
	IPAddresses []string        `json:"ip_addresses,omitempty"`
	InOctets    int64           `json:"in_octets,omitempty"`
	OutOctets   int64           `json:"out_octets,omitempty"`
	InErrors    int64           `json:"in_errors,omitempty"`
	OutErrors   int64           `json:"out_errors,omitempty"`
	// LastChange is seconds since device boot, translated from uptime ticks
	LastChange int64 `json:"last_change,omitempty"`
}

// DeviceHealth carries resource metrics for a device. Protocols differ in
// what they expose, so every field is optional: a nil pointer means "not
// available", never zero.
type DeviceHealth struct {
	CPUUsage      *float64           `json:"cpu_usage,omitempty"`
	MemoryUsage   *float64           `json:"memory_usage,omitempty"`
	MemoryTotalMB *int64             `json:"memory_total,omitempty"`
	MemoryUsedMB  *int64             `json:"memory_used,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	UptimeSeconds *int64             `json:"uptime,omitempty"`
	LoadAverage   []float64          `json:"load_average,omitempty"`
	DiskUsage     map[string]float64 `json:"disk_usage,omitempty"`
}

// DeviceInfo is the basic identity a device reports about itself.
type DeviceInfo struct {
	Description   string `json:"description"`
	Name          string `json:"name"`
	UptimeSeconds *int64 `json:"uptime,omitempty"`
	Location      string `json:"location"`
	Contact       string `json:"contact"`
}

// DeviceStatus is the composite result of a full device poll.
//
// Invariant: when Reachable is false, Health and Interfaces are absent and
// ErrorMessage is non-empty.
type DeviceStatus struct {
	DeviceID       string          `json:"device_id"`
	Reachable      bool            `json:"reachable"`
	ResponseTimeMs float64         `json:"response_time,omitempty"`
	LastSeen       time.Time       `json:"last_seen"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Health         *DeviceHealth   `json:"health,omitempty"`
	Interfaces     []InterfaceInfo `json:"interfaces,omitempty"`
	UptimeSeconds  *int64          `json:"uptime,omitempty"`
}
