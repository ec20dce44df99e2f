package monitor

import (
	"testing"

	"github.com/gosnmp/gosnmp"

	"netwatch/internal/domain"
)

func TestIndexSuffix(t *testing.T) {
	tests := []struct {
		name, column string
		want         int
		ok           bool
	}{
		{".1.3.6.1.2.1.2.2.1.2.3", ".1.3.6.1.2.1.2.2.1.2", 3, true},
		{"1.3.6.1.2.1.2.2.1.2.10101", ".1.3.6.1.2.1.2.2.1.2", 10101, true},
		{".1.3.6.1.2.1.2.2.1.2", ".1.3.6.1.2.1.2.2.1.2", 0, false},
		{".1.3.6.1.2.1.1.1.0", ".1.3.6.1.2.1.2.2.1.2", 0, false},
	}
	for _, tt := range tests {
		got, ok := indexSuffix(tt.name, tt.column)
		if got != tt.want || ok != tt.ok {
			t.Errorf("indexSuffix(%q, %q) = (%d, %v), want (%d, %v)",
				tt.name, tt.column, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStatusCodes(t *testing.T) {
	operTests := map[int64]domain.InterfaceStatus{
		1: domain.InterfaceUp, 2: domain.InterfaceDown,
		3: domain.InterfaceTesting, 7: domain.InterfaceUnknown,
	}
	for code, want := range operTests {
		if got := operStatusFromCode(code); got != want {
			t.Errorf("operStatusFromCode(%d) = %s, want %s", code, got, want)
		}
	}
	if got := adminStatusFromCode(2); got != domain.InterfaceAdminDown {
		t.Errorf("adminStatusFromCode(2) = %s, want admin_down", got)
	}
}

func TestFormatMAC(t *testing.T) {
	pdu := gosnmp.SnmpPDU{Value: []byte{0x00, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}}
	if got := formatMAC(pdu); got != "00:1a:2b:3c:4d:5e" {
		t.Errorf("formatMAC = %q", got)
	}
	if got := formatMAC(gosnmp.SnmpPDU{Value: "not bytes"}); got != "" {
		t.Errorf("formatMAC on non-bytes = %q, want empty", got)
	}
}

func TestPDUConversions(t *testing.T) {
	if s := pduString(gosnmp.SnmpPDU{Value: []byte("Cisco IOS")}); s != "Cisco IOS" {
		t.Errorf("pduString = %q", s)
	}
	if s := pduString(gosnmp.SnmpPDU{Value: 42}); s != "" {
		t.Errorf("pduString on int = %q, want empty", s)
	}

	if n, ok := pduInt(gosnmp.SnmpPDU{Value: 42}); !ok || n != 42 {
		t.Errorf("pduInt(int) = (%d, %v)", n, ok)
	}
	if n, ok := pduInt(gosnmp.SnmpPDU{Value: uint(123456)}); !ok || n != 123456 {
		t.Errorf("pduInt(uint) = (%d, %v)", n, ok)
	}
	if _, ok := pduInt(gosnmp.SnmpPDU{Value: "text"}); ok {
		t.Error("pduInt on string should not convert")
	}

	// Uptime ticks are hundredths of a second.
	if ticks, ok := pduUint(gosnmp.SnmpPDU{Value: uint32(123456)}); !ok || ticks/100 != 1234 {
		t.Errorf("uptime from ticks = %d", ticks/100)
	}
}
