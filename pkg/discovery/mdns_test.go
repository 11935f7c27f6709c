// ABOUTME: Tests for mDNS service discovery
// ABOUTME: Validates Manager lifecycle and conversion of mDNS answers
package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	defer m.Stop()

	if m.config.ServiceType != "_sendspin-server._tcp" {
		t.Errorf("unexpected service type %q", m.config.ServiceType)
	}
	if m.config.Domain != "local" || m.config.QueryTimeout != 3*time.Second {
		t.Errorf("unexpected defaults %+v", m.config)
	}
	if m.Servers() == nil {
		t.Fatal("Servers() returned nil channel")
	}
}

func TestManagerStop(t *testing.T) {
	m := NewManager(Config{})
	m.Stop()

	select {
	case <-m.ctx.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("context should be cancelled after Stop()")
	}
}

func TestDiscoverHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Discover(ctx, Config{ServiceType: "_sendspin-test-none._tcp"}); !errors.Is(err, ErrNoServers) {
		t.Errorf("expected ErrNoServers, got %v", err)
	}
}

func TestEntryToServer(t *testing.T) {
	tests := []struct {
		name     string
		entry    *mdns.ServiceEntry
		wantOK   bool
		wantAddr string
		wantName string
		wantPath string
	}{
		{
			name: "ipv4 with path",
			entry: &mdns.ServiceEntry{
				Name: "Living Room._sendspin-server._tcp.local.", AddrV4: net.ParseIP("192.168.1.10"),
				Port: 8927, InfoFields: []string{"path=/ws"},
			},
			wantOK: true, wantAddr: "192.168.1.10:8927", wantName: "Living Room", wantPath: "/ws",
		},
		{
			name: "ipv6 only",
			entry: &mdns.ServiceEntry{
				Name: "Den._sendspin-server._tcp.local.", AddrV6: net.ParseIP("fe80::1"), Port: 8927,
			},
			wantOK: true, wantAddr: "[fe80::1]:8927", wantName: "Den", wantPath: "/sendspin",
		},
		{
			name:   "host name fallback",
			entry:  &mdns.ServiceEntry{Name: "Attic", Host: "attic.local.", Port: 9000},
			wantOK: true, wantAddr: "attic.local:9000", wantName: "Attic", wantPath: "/sendspin",
		},
		{
			name:  "no port",
			entry: &mdns.ServiceEntry{Name: "x", AddrV4: net.ParseIP("10.0.0.1")},
		},
		{
			name:  "no address",
			entry: &mdns.ServiceEntry{Name: "x", Port: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, ok := entryToServer(tt.entry)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if !ok {
				return
			}
			if server.Addr() != tt.wantAddr || server.Name != tt.wantName || server.Path != tt.wantPath {
				t.Errorf("unexpected server %+v (addr %s)", server, server.Addr())
			}
		})
	}
}
