package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"netwatch/internal/domain"
)

type fakeMonitor struct {
	reachable bool
	health    domain.DeviceHealth
	healthErr error
	ifaces    []domain.InterfaceInfo
	ifaceErr  error
	info      domain.DeviceInfo
	infoErr   error
}

func (f *fakeMonitor) TestConnection(context.Context) bool { return f.reachable }
func (f *fakeMonitor) DeviceInfo(context.Context) (domain.DeviceInfo, error) {
	return f.info, f.infoErr
}
func (f *fakeMonitor) Interfaces(context.Context) ([]domain.InterfaceInfo, error) {
	return f.ifaces, f.ifaceErr
}
func (f *fakeMonitor) Interface(ctx context.Context, name string) (*domain.InterfaceInfo, error) {
	return nil, ErrNotSupported
}
func (f *fakeMonitor) HealthMetrics(context.Context) (domain.DeviceHealth, error) {
	return f.health, f.healthErr
}
func (f *fakeMonitor) Protocol() string { return "fake" }

func TestCollectStatusUnreachable(t *testing.T) {
	rec := domain.DeviceRecord{ID: "dev1"}
	status := CollectStatus(context.Background(), &fakeMonitor{reachable: false}, rec, zerolog.Nop())

	if status.Reachable {
		t.Error("Reachable = true, want false")
	}
	if status.ErrorMessage == "" {
		t.Error("unreachable status must carry an error message")
	}
	if status.Health != nil || status.Interfaces != nil {
		t.Error("unreachable status must not carry data sections")
	}
}

func TestCollectStatusPartialFailure(t *testing.T) {
	uptime := int64(7200)
	f := &fakeMonitor{
		reachable: true,
		health:    domain.DeviceHealth{UptimeSeconds: &uptime},
		ifaceErr:  errors.New("walk timeout"),
	}
	status := CollectStatus(context.Background(), f, domain.DeviceRecord{ID: "dev1"}, zerolog.Nop())

	if !status.Reachable {
		t.Fatal("Reachable = false, want true")
	}
	if status.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty on partial failure", status.ErrorMessage)
	}
	if status.Health == nil {
		t.Error("health section missing")
	}
	if status.Interfaces != nil {
		t.Error("failed interface section should be absent, not empty")
	}
	if status.UptimeSeconds == nil || *status.UptimeSeconds != 7200 {
		t.Error("uptime not propagated from health")
	}
}

func TestNewPrefersSNMPThenRESTThenSSH(t *testing.T) {
	tests := []struct {
		protocols []string
		want      string
	}{
		{[]string{domain.ProtocolSSH, domain.ProtocolSNMP, domain.ProtocolREST}, domain.ProtocolSNMP},
		{[]string{domain.ProtocolSSH, domain.ProtocolREST}, domain.ProtocolREST},
		{[]string{domain.ProtocolSSH}, domain.ProtocolSSH},
		{nil, domain.ProtocolSNMP},
	}
	for _, tt := range tests {
		m := New(domain.DeviceRecord{ID: "d", Host: "h", EnabledProtocols: tt.protocols}, zerolog.Nop())
		if m.Protocol() != tt.want {
			t.Errorf("New(%v) = %s monitor, want %s", tt.protocols, m.Protocol(), tt.want)
		}
	}
}

func TestWithRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	start := time.Now()
	v, err := WithRetry(context.Background(), 3, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("WithRetry: %v", err)
	}
	if v != 42 || calls != 3 {
		t.Errorf("value = %d after %d calls, want 42 after 3", v, calls)
	}
	// Two failures wait 1s then 2s before the third attempt.
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("elapsed = %v, want >= 3s of backoff", elapsed)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), 2, func() (int, error) {
		calls++
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
