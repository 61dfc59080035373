package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lightlink/internal/infrastructure/config"
)

type recordingLogger struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (l *recordingLogger) Info(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func staticList(ifaces ...Interface) InterfaceLister {
	return func() ([]Interface, error) { return ifaces, nil }
}

func netCfg() config.NetworkConfig {
	return config.NetworkConfig{
		DHCP:          true,
		DHCPTimeout:   50 * time.Millisecond,
		StaticAddress: "192.168.1.55",
	}
}

func TestBringup_DHCPLeaseFound(t *testing.T) {
	logger := &recordingLogger{}
	list := staticList(
		Interface{Name: "lo", Up: true, Loopback: true, Addrs: []net.IP{net.ParseIP("127.0.0.1")}},
		Interface{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("fe80::1"), net.ParseIP("10.0.0.7")}},
	)

	lease, err := bringup(context.Background(), netCfg(), logger, list, time.Millisecond)
	if err != nil {
		t.Fatalf("bringup() error = %v", err)
	}
	if lease.Method != MethodDHCP || lease.Interface != "eth0" || !lease.Address.Equal(net.ParseIP("10.0.0.7")) {
		t.Errorf("lease = %+v", lease)
	}
	if len(logger.warns) != 0 {
		t.Errorf("unexpected warnings: %v", logger.warns)
	}
}

func TestBringup_FallsBackToStatic(t *testing.T) {
	logger := &recordingLogger{}
	list := staticList(Interface{Name: "eth0", Up: true})

	lease, err := bringup(context.Background(), netCfg(), logger, list, time.Millisecond)
	if err != nil {
		t.Fatalf("bringup() error = %v", err)
	}
	if lease.Method != MethodStatic || !lease.Address.Equal(net.ParseIP("192.168.1.55")) {
		t.Errorf("lease = %+v, want static 192.168.1.55", lease)
	}
	if len(logger.warns) != 1 || logger.warns[0] != "failed to configure network using DHCP" {
		t.Errorf("warns = %v", logger.warns)
	}
}

func TestBringup_LeaseAppearsLater(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	list := func() ([]Interface, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return []Interface{{Name: "eth0", Up: true}}, nil
		}
		return []Interface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("10.1.1.2")}}}, nil
	}

	cfg := netCfg()
	cfg.DHCPTimeout = time.Second
	lease, err := bringup(context.Background(), cfg, &recordingLogger{}, list, time.Millisecond)
	if err != nil {
		t.Fatalf("bringup() error = %v", err)
	}
	if lease.Method != MethodDHCP {
		t.Errorf("Method = %s, want dhcp", lease.Method)
	}
}

func TestBringup_NamedInterface(t *testing.T) {
	list := staticList(
		Interface{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("10.0.0.7")}},
		Interface{Name: "eth1", Up: true, Addrs: []net.IP{net.ParseIP("10.0.1.7")}},
	)
	cfg := netCfg()
	cfg.Interface = "eth1"

	lease, err := bringup(context.Background(), cfg, &recordingLogger{}, list, time.Millisecond)
	if err != nil {
		t.Fatalf("bringup() error = %v", err)
	}
	if lease.Interface != "eth1" || !lease.Address.Equal(net.ParseIP("10.0.1.7")) {
		t.Errorf("lease = %+v, want eth1 10.0.1.7", lease)
	}
}

func TestBringup_DHCPDisabled(t *testing.T) {
	logger := &recordingLogger{}
	cfg := netCfg()
	cfg.DHCP = false
	called := false
	list := func() ([]Interface, error) {
		called = true
		return nil, nil
	}

	lease, err := bringup(context.Background(), cfg, logger, list, time.Millisecond)
	if err != nil {
		t.Fatalf("bringup() error = %v", err)
	}
	if called {
		t.Error("interfaces inspected with dhcp disabled")
	}
	if lease.Method != MethodStatic {
		t.Errorf("Method = %s, want static", lease.Method)
	}
	if len(logger.warns) != 0 {
		t.Errorf("warns = %v, want none", logger.warns)
	}
}

func TestBringup_InvalidStatic(t *testing.T) {
	cfg := netCfg()
	cfg.StaticAddress = "not-an-ip"

	_, err := bringup(context.Background(), cfg, &recordingLogger{}, staticList(), time.Millisecond)
	if !errors.Is(err, ErrInvalidStaticAddress) {
		t.Errorf("bringup() error = %v, want ErrInvalidStaticAddress", err)
	}
}

func TestBringup_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := netCfg()
	cfg.DHCPTimeout = time.Second
	_, err := bringup(ctx, cfg, &recordingLogger{}, staticList(), time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("bringup() error = %v, want context.Canceled", err)
	}
}

func TestFindIPv4(t *testing.T) {
	tests := []struct {
		name    string
		iface   string
		ifaces  []Interface
		wantIP  string
		wantErr bool
	}{
		{
			name:   "skips loopback and down",
			ifaces: []Interface{{Name: "lo", Up: true, Loopback: true, Addrs: []net.IP{net.ParseIP("127.0.0.1")}}, {Name: "eth0", Addrs: []net.IP{net.ParseIP("10.0.0.1")}}, {Name: "wlan0", Up: true, Addrs: []net.IP{net.ParseIP("10.0.0.2")}}},
			wantIP: "10.0.0.2",
		},
		{
			name:    "ignores link-local",
			ifaces:  []Interface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("169.254.3.4")}}},
			wantErr: true,
		},
		{
			name:    "named interface down",
			iface:   "eth0",
			ifaces:  []Interface{{Name: "eth0", Addrs: []net.IP{net.ParseIP("10.0.0.1")}}},
			wantErr: true,
		},
		{
			name:    "named interface missing",
			iface:   "eth9",
			ifaces:  []Interface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("10.0.0.1")}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lease, err := findIPv4(tt.iface, staticList(tt.ifaces...))
			if tt.wantErr {
				if !errors.Is(err, ErrNoAddress) {
					t.Errorf("findIPv4() error = %v, want ErrNoAddress", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("findIPv4() error = %v", err)
			}
			if lease.Address.String() != tt.wantIP {
				t.Errorf("Address = %s, want %s", lease.Address, tt.wantIP)
			}
		})
	}
}

func TestLease_Dialer(t *testing.T) {
	lease := Lease{Address: net.ParseIP("192.168.1.55").To4(), Method: MethodStatic}

	if d := lease.Dialer(false); d.LocalAddr != nil {
		t.Errorf("LocalAddr = %v, want nil without bind_local", d.LocalAddr)
	}

	d := lease.Dialer(true)
	addr, ok := d.LocalAddr.(*net.TCPAddr)
	if !ok || !addr.IP.Equal(net.ParseIP("192.168.1.55")) {
		t.Errorf("LocalAddr = %v, want 192.168.1.55", d.LocalAddr)
	}
}
