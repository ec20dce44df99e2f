package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rs/zerolog"

	"netwatch/internal/domain"
)

// System group and ifTable OIDs (RFC 1213).
const (
	oidSysDescr    = ".1.3.6.1.2.1.1.1.0"
	oidSysUpTime   = ".1.3.6.1.2.1.1.3.0"
	oidSysContact  = ".1.3.6.1.2.1.1.4.0"
	oidSysName     = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation = ".1.3.6.1.2.1.1.6.0"

	oidIfDescr      = ".1.3.6.1.2.1.2.2.1.2"
	oidIfMTU        = ".1.3.6.1.2.1.2.2.1.4"
	oidIfSpeed      = ".1.3.6.1.2.1.2.2.1.5"
	oidIfPhysAddr   = ".1.3.6.1.2.1.2.2.1.6"
	oidIfAdminState = ".1.3.6.1.2.1.2.2.1.7"
	oidIfOperState  = ".1.3.6.1.2.1.2.2.1.8"
	oidIfLastChange = ".1.3.6.1.2.1.2.2.1.9"
	oidIfInOctets   = ".1.3.6.1.2.1.2.2.1.10"
	oidIfInErrors   = ".1.3.6.1.2.1.2.2.1.14"
	oidIfOutOctets  = ".1.3.6.1.2.1.2.2.1.16"
	oidIfOutErrors  = ".1.3.6.1.2.1.2.2.1.20"

	oidHrMemorySize = ".1.3.6.1.2.1.25.2.2.0"
)

// Health metric OID chains, tried in order until one yields data. Vendor
// OIDs come first because they are more precise where supported.
var (
	cpuOIDChain = []string{
		".1.3.6.1.4.1.9.9.109.1.1.1.1.8", // Cisco cpmCPUTotal5minRev
		".1.3.6.1.2.1.25.3.3.1.2",        // HOST-RESOURCES hrProcessorLoad
	}
	tempOIDChain = []string{
		".1.3.6.1.4.1.9.9.13.1.3.1.3", // Cisco ciscoEnvMonTemperatureStatusValue
	}
	memPoolUsedOID = ".1.3.6.1.4.1.9.9.48.1.1.1.5" // Cisco ciscoMemoryPoolUsed
	memPoolFreeOID = ".1.3.6.1.4.1.9.9.48.1.1.1.6" // Cisco ciscoMemoryPoolFree
)

// SNMPMonitor polls a device over SNMP v1/v2c. A fresh session is opened per
// call and closed before returning.
type SNMPMonitor struct {
	rec domain.DeviceRecord
	log zerolog.Logger
}

// NewSNMPMonitor builds an SNMP monitor for the given device record.
func NewSNMPMonitor(rec domain.DeviceRecord, log zerolog.Logger) *SNMPMonitor {
	return &SNMPMonitor{
		rec: rec,
		log: log.With().Str("monitor", domain.ProtocolSNMP).Str("device_id", rec.ID).Logger(),
	}
}

// Protocol implements ProtocolMonitor.
func (m *SNMPMonitor) Protocol() string { return domain.ProtocolSNMP }

func (m *SNMPMonitor) connect(ctx context.Context) (*gosnmp.GoSNMP, error) {
	community := m.rec.Credentials.SNMPCommunity
	if community == "" {
		community = "public"
	}
	version := gosnmp.Version2c
	if m.rec.Credentials.SNMPVersion == "1" {
		version = gosnmp.Version1
	}

	client := &gosnmp.GoSNMP{
		Target:    m.rec.Host,
		Port:      161,
		Community: community,
		Version:   version,
		Timeout:   time.Duration(m.rec.TimeoutSeconds) * time.Second,
		Retries:   1,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", m.rec.Host, err)
	}
	return client, nil
}

// TestConnection implements ProtocolMonitor. A device that answers a sysDescr
// GET is considered reachable.
func (m *SNMPMonitor) TestConnection(ctx context.Context) bool {
	client, err := m.connect(ctx)
	if err != nil {
		return false
	}
	defer client.Conn.Close()

	result, err := client.Get([]string{oidSysDescr})
	if err != nil || len(result.Variables) == 0 {
		return false
	}
	return result.Variables[0].Type != gosnmp.NoSuchObject &&
		result.Variables[0].Type != gosnmp.NoSuchInstance
}

// DeviceInfo implements ProtocolMonitor.
func (m *SNMPMonitor) DeviceInfo(ctx context.Context) (domain.DeviceInfo, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return domain.DeviceInfo{}, err
	}
	defer client.Conn.Close()

	oids := []string{oidSysDescr, oidSysUpTime, oidSysContact, oidSysName, oidSysLocation}
	result, err := client.Get(oids)
	if err != nil {
		return domain.DeviceInfo{}, fmt.Errorf("snmp get system group: %w", err)
	}

	info := domain.DeviceInfo{}
	for _, v := range result.Variables {
		switch v.Name {
		case oidSysDescr:
			info.Description = pduString(v)
		case oidSysUpTime:
			if ticks, ok := pduUint(v); ok {
				secs := int64(ticks / 100)
				info.UptimeSeconds = &secs
			}
		case oidSysContact:
			info.Contact = pduString(v)
		case oidSysName:
			info.Name = pduString(v)
		case oidSysLocation:
			info.Location = pduString(v)
		}
	}
	return info, nil
}

// ifRow accumulates one interface's columns while walking the table.
type ifRow struct {
	iface domain.InterfaceInfo
}

// Interfaces implements ProtocolMonitor. Each column of the ifTable is
// walked separately and rows are correlated by index suffix, so sparse
// tables (common on stacked switches) still produce complete entries for the
// indexes that exist.
func (m *SNMPMonitor) Interfaces(ctx context.Context) ([]domain.InterfaceInfo, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Conn.Close()

	rows := make(map[int]*ifRow)
	row := func(index int) *ifRow {
		r, ok := rows[index]
		if !ok {
			r = &ifRow{iface: domain.InterfaceInfo{
				Status:      domain.InterfaceUnknown,
				AdminStatus: domain.InterfaceUnknown,
			}}
			rows[index] = r
		}
		return r
	}

	columns := []struct {
		oid   string
		apply func(r *ifRow, pdu gosnmp.SnmpPDU)
	}{
		{oidIfDescr, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			r.iface.Name = pduString(pdu)
			r.iface.Description = r.iface.Name
		}},
		{oidIfMTU, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduInt(pdu); ok {
				r.iface.MTU = int(n)
			}
		}},
		{oidIfSpeed, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduUint(pdu); ok {
				r.iface.SpeedMbps = int64(n / 1_000_000)
			}
		}},
		{oidIfPhysAddr, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			r.iface.MACAddress = formatMAC(pdu)
		}},
		{oidIfAdminState, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduInt(pdu); ok {
				r.iface.AdminStatus = adminStatusFromCode(n)
			}
		}},
		{oidIfOperState, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduInt(pdu); ok {
				r.iface.Status = operStatusFromCode(n)
			}
		}},
		{oidIfLastChange, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduUint(pdu); ok {
				r.iface.LastChange = int64(n / 100)
			}
		}},
		{oidIfInOctets, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduUint(pdu); ok {
				r.iface.InOctets = int64(n)
			}
		}},
		{oidIfInErrors, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduUint(pdu); ok {
				r.iface.InErrors = int64(n)
			}
		}},
		{oidIfOutOctets, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduUint(pdu); ok {
				r.iface.OutOctets = int64(n)
			}
		}},
		{oidIfOutErrors, func(r *ifRow, pdu gosnmp.SnmpPDU) {
			if n, ok := pduUint(pdu); ok {
				r.iface.OutErrors = int64(n)
			}
		}},
	}

	var walkErr error
	for _, col := range columns {
		oid := col.oid
		apply := col.apply
		err := m.walk(client, oid, func(pdu gosnmp.SnmpPDU) error {
			index, ok := indexSuffix(pdu.Name, oid)
			if !ok {
				return nil
			}
			apply(row(index), pdu)
			return nil
		})
		if err != nil {
			// Keep whatever columns already walked; a device that answers
			// ifDescr but times out mid-table still yields usable rows.
			walkErr = err
			m.log.Debug().Err(err).Str("oid", oid).Msg("ifTable column walk failed")
			break
		}
	}
	if len(rows) == 0 {
		if walkErr != nil {
			return nil, fmt.Errorf("snmp walk ifTable: %w", walkErr)
		}
		return nil, nil
	}

	indexes := make([]int, 0, len(rows))
	for idx := range rows {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	ifaces := make([]domain.InterfaceInfo, 0, len(rows))
	for _, idx := range indexes {
		r := rows[idx]
		if r.iface.Name == "" {
			r.iface.Name = "if" + strconv.Itoa(idx)
		}
		ifaces = append(ifaces, r.iface)
	}
	return ifaces, nil
}

// Interface implements ProtocolMonitor.
func (m *SNMPMonitor) Interface(ctx context.Context, name string) (*domain.InterfaceInfo, error) {
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

// HealthMetrics implements ProtocolMonitor. Every metric is optional: a walk
// that yields nothing simply leaves the field nil.
func (m *SNMPMonitor) HealthMetrics(ctx context.Context) (domain.DeviceHealth, error) {
	client, err := m.connect(ctx)
	if err != nil {
		return domain.DeviceHealth{}, err
	}
	defer client.Conn.Close()

	health := domain.DeviceHealth{}

	if result, err := client.Get([]string{oidSysUpTime}); err == nil {
		for _, v := range result.Variables {
			if ticks, ok := pduUint(v); ok {
				secs := int64(ticks / 100)
				health.UptimeSeconds = &secs
			}
		}
	}

	if cpu, ok := m.walkAverage(client, cpuOIDChain); ok {
		health.CPUUsage = &cpu
	}
	if temp, ok := m.walkAverage(client, tempOIDChain); ok {
		health.Temperature = &temp
	}

	m.collectMemory(client, &health)

	return health, nil
}

// collectMemory tries the Cisco memory pool first, then falls back to the
// HOST-RESOURCES total.
func (m *SNMPMonitor) collectMemory(client *gosnmp.GoSNMP, health *domain.DeviceHealth) {
	var used, free float64
	var sawPool bool
	_ = m.walk(client, memPoolUsedOID, func(pdu gosnmp.SnmpPDU) error {
		if n, ok := pduUint(pdu); ok {
			used += float64(n)
			sawPool = true
		}
		return nil
	})
	_ = m.walk(client, memPoolFreeOID, func(pdu gosnmp.SnmpPDU) error {
		if n, ok := pduUint(pdu); ok {
			free += float64(n)
		}
		return nil
	})
	if sawPool && used+free > 0 {
		totalMB := int64((used + free) / (1024 * 1024))
		usedMB := int64(used / (1024 * 1024))
		pct := math.Round(used/(used+free)*10000) / 100
		health.MemoryTotalMB = &totalMB
		health.MemoryUsedMB = &usedMB
		health.MemoryUsage = &pct
		return
	}

	if result, err := client.Get([]string{oidHrMemorySize}); err == nil {
		for _, v := range result.Variables {
			if kb, ok := pduUint(v); ok && kb > 0 {
				totalMB := int64(kb / 1024)
				health.MemoryTotalMB = &totalMB
			}
		}
	}
}

// walkAverage walks the OID chain in order and returns the average of the
// first OID that yields any values.
func (m *SNMPMonitor) walkAverage(client *gosnmp.GoSNMP, chain []string) (float64, bool) {
	for _, oid := range chain {
		var sum float64
		var count int
		err := m.walk(client, oid, func(pdu gosnmp.SnmpPDU) error {
			if n, ok := pduInt(pdu); ok {
				sum += float64(n)
				count++
			}
			return nil
		})
		if err == nil && count > 0 {
			return math.Round(sum/float64(count)*100) / 100, true
		}
	}
	return 0, false
}

func (m *SNMPMonitor) walk(client *gosnmp.GoSNMP, oid string, fn gosnmp.WalkFunc) error {
	if client.Version == gosnmp.Version1 {
		return client.Walk(oid, fn)
	}
	return client.BulkWalk(oid, fn)
}

// indexSuffix extracts the row index from a walked OID, e.g.
// ".1.3.6.1.2.1.2.2.1.2.3" under column ".1.3.6.1.2.1.2.2.1.2" yields 3.
func indexSuffix(name, column string) (int, bool) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(name, "."), strings.TrimPrefix(column, ".")+".")
	if trimmed == name {
		return 0, false
	}
	idx, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func operStatusFromCode(code int64) domain.InterfaceStatus {
	switch code {
	case 1:
		return domain.InterfaceUp
	case 2:
		return domain.InterfaceDown
	case 3:
		return domain.InterfaceTesting
	default:
		return domain.InterfaceUnknown
	}
}

func adminStatusFromCode(code int64) domain.InterfaceStatus {
	switch code {
	case 1:
		return domain.InterfaceUp
	case 2:
		return domain.InterfaceAdminDown
	case 3:
		return domain.InterfaceTesting
	default:
		return domain.InterfaceUnknown
	}
}

func formatMAC(pdu gosnmp.SnmpPDU) string {
	raw, ok := pdu.Value.([]byte)
	if !ok || len(raw) == 0 {
		return ""
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return ""
	}
}

func pduInt(pdu gosnmp.SnmpPDU) (int64, bool) {
	switch pdu.Value.(type) {
	case int, int64, uint, uint32, uint64:
		return gosnmp.ToBigInt(pdu.Value).Int64(), true
	default:
		return 0, false
	}
}

func pduUint(pdu gosnmp.SnmpPDU) (uint64, bool) {
	n, ok := pduInt(pdu)
	if !ok || n < 0 {
		return 0, false
	}
	return uint64(n), true
}
