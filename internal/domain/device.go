package domain

import "strings"

// DeviceType classifies what kind of equipment a device is
type DeviceType string

const (
	DeviceTypeRouter      DeviceType = "router"
	DeviceTypeSwitch      DeviceType = "switch"
	DeviceTypeFirewall    DeviceType = "firewall"
	DeviceTypeAccessPoint DeviceType = "access_point"
	DeviceTypeServer      DeviceType = "server"
	DeviceTypeGeneric     DeviceType = "generic"
	DeviceTypeUnknown     DeviceType = "unknown"
)

// ParseDeviceType maps a string to a DeviceType, defaulting to generic
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(strings.ToLower(s)) {
	case DeviceTypeRouter, DeviceTypeSwitch, DeviceTypeFirewall,
		DeviceTypeAccessPoint, DeviceTypeServer, DeviceTypeGeneric, DeviceTypeUnknown:
		return DeviceType(strings.ToLower(s))
	default:
		return DeviceTypeGeneric
	}
}

// Management protocols a device can be polled over.
const (
	ProtocolSNMP   = "snmp"
	ProtocolREST   = "rest"
	ProtocolSSH    = "ssh"
	ProtocolTelnet = "telnet"
	ProtocolPing   = "ping"
)

// Credentials holds per-protocol authentication material for a device.
// Values are never logged; use Masked before echoing anything to a caller.
type Credentials struct {
	SNMPCommunity string `yaml:"snmp_community,omitempty" json:"snmp_community,omitempty"`
	SNMPVersion   string `yaml:"snmp_version,omitempty" json:"snmp_version,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	SSHKey        string `yaml:"ssh_key,omitempty" json:"ssh_key,omitempty"`
	APIToken      string `yaml:"api_token,omitempty" json:"api_token,omitempty"`
	APIKey        string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// MaskedCredentials is the caller-safe echo of Credentials: secrets are
// reduced to presence flags and a short prefix.
type MaskedCredentials struct {
	SNMPCommunity string `json:"snmp_community,omitempty"`
	SNMPVersion   string `json:"snmp_version,omitempty"`
	Username      string `json:"username,omitempty"`
	HasPassword   bool   `json:"has_password"`
	HasSSHKey     bool   `json:"has_ssh_key"`
	HasAPIToken   bool   `json:"has_api_token"`
	HasAPIKey     bool   `json:"has_api_key"`
}

// Masked returns a redacted view of the credentials safe to return to callers.
// The SNMP community is shown as a short prefix only.
func (c Credentials) Masked() MaskedCredentials {
	return MaskedCredentials{
		SNMPCommunity: maskSecret(c.SNMPCommunity),
		SNMPVersion:   c.SNMPVersion,
		Username:      c.Username,
		HasPassword:   c.Password != "",
		HasSSHKey:     c.SSHKey != "",
		HasAPIToken:   c.APIToken != "",
		HasAPIKey:     c.APIKey != "",
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 2 {
		return "***"
	}
	return s[:2] + strings.Repeat("*", len(s)-2)
}

// DeviceRecord is the configured identity of a managed device. Records are
// owned by the registry; every other component only reads them.
type DeviceRecord struct {
	ID               string      `yaml:"-" json:"id"`
	Name             string      `yaml:"name" json:"name"`
	Host             string      `yaml:"host" json:"host"`
	DeviceType       DeviceType  `yaml:"device_type" json:"device_type"`
	Credentials      Credentials `yaml:"credentials" json:"-"`
	EnabledProtocols []string    `yaml:"enabled_protocols" json:"enabled_protocols"`
	TimeoutSeconds   int         `yaml:"timeout" json:"timeout"`
	RetryCount       int         `yaml:"retry_count" json:"retry_count"`
	Description      string      `yaml:"description,omitempty" json:"description,omitempty"`
}

// HasProtocol reports whether the given protocol is enabled for the device.
func (d DeviceRecord) HasProtocol(proto string) bool {
	for _, p := range d.EnabledProtocols {
		if p == proto {
			return true
		}
	}
	return false
}
