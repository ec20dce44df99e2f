package scanner

import (
	"strings"

	"netwatch/internal/domain"
)

// Classification is the classifier's guess for a discovered host.
type Classification struct {
	DeviceType         domain.DeviceType
	SuggestedProtocols []string
	Confidence         float64
}

var descrKeywords = []struct {
	keywords []string
	devType  domain.DeviceType
}{
	{[]string{"router", "cisco", "juniper"}, domain.DeviceTypeRouter},
	{[]string{"switch", "catalyst"}, domain.DeviceTypeSwitch},
	{[]string{"firewall", "fortigate", "palo alto"}, domain.DeviceTypeFirewall},
	{[]string{"access point", "wireless"}, domain.DeviceTypeAccessPoint},
	{[]string{"server", "linux", "windows"}, domain.DeviceTypeServer},
}

// Classify guesses a device type from open ports, an optional SNMP system
// description, and whether an SNMP agent actually answered during
// enrichment. Deterministic: same inputs always give the same answer.
//
// The description wins over port heuristics when it names the device class,
// since it is the device describing itself. snmpAnswered matters because the
// port scan is TCP while SNMP is UDP: an agent can answer with port 161
// never showing up in the open-port set.
func Classify(openPorts []int, sysDescr string, snmpAnswered bool) Classification {
	ports := make(map[int]bool, len(openPorts))
	for _, p := range openPorts {
		ports[p] = true
	}

	return Classification{
		DeviceType:         classifyType(ports, len(openPorts), sysDescr),
		SuggestedProtocols: suggestProtocols(ports, snmpAnswered),
		Confidence:         confidence(ports),
	}
}

func classifyType(ports map[int]bool, openCount int, sysDescr string) domain.DeviceType {
	if descr := strings.ToLower(sysDescr); descr != "" {
		for _, rule := range descrKeywords {
			for _, kw := range rule.keywords {
				if strings.Contains(descr, kw) {
					return rule.devType
				}
			}
		}
	}

	switch {
	case ports[161] && (ports[22] || ports[23]):
		return domain.DeviceTypeRouter
	case ports[161]:
		return domain.DeviceTypeSwitch
	case ports[22] && (ports[80] || ports[443]):
		return domain.DeviceTypeServer
	case ports[22] && openCount <= 2:
		return domain.DeviceTypeFirewall
	default:
		return domain.DeviceTypeGeneric
	}
}

func suggestProtocols(ports map[int]bool, snmpAnswered bool) []string {
	var protocols []string
	if ports[161] || snmpAnswered {
		protocols = append(protocols, domain.ProtocolSNMP)
	}
	if ports[22] {
		protocols = append(protocols, domain.ProtocolSSH)
	}
	if ports[80] || ports[443] || ports[8080] || ports[8443] {
		protocols = append(protocols, domain.ProtocolREST)
	}
	if len(protocols) == 0 {
		protocols = []string{domain.ProtocolPing}
	}
	return protocols
}

// confidence scores how monitorable the host looks. Management protocols
// weigh more than plain web ports.
func confidence(ports map[int]bool) float64 {
	score := 0.3
	if ports[161] {
		score += 0.3
	}
	if ports[22] {
		score += 0.2
	}
	if ports[23] {
		score += 0.1
	}
	if ports[80] || ports[443] {
		score += 0.2
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
