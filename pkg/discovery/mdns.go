// ABOUTME: mDNS browsing for Sendspin servers
// ABOUTME: Repeated queries feed a channel of discovered servers
package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

var ErrNoServers = errors.New("no Sendspin servers found")

// Config holds discovery configuration
type Config struct {
	ServiceType  string        // default "_sendspin-server._tcp"
	Domain       string        // default "local"
	QueryTimeout time.Duration // per query round, default 3s
}

func (c Config) withDefaults() Config {
	if c.ServiceType == "" {
		c.ServiceType = "_sendspin-server._tcp"
	}
	if c.Domain == "" {
		c.Domain = "local"
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 3 * time.Second
	}
	return c
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string // websocket path from the TXT record, default "/sendspin"
}

// Addr returns host:port for dialing
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Manager browses continuously until stopped
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config.withDefaults(),
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

// Browse starts querying in the background
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		forwarded := make(chan struct{})

		go func() {
			defer close(forwarded)
			for entry := range entries {
				server, ok := entryToServer(entry)
				if !ok {
					continue
				}
				log.Info("Discovered server", "name", server.Name, "addr", server.Addr())

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(m.config.ServiceType)
		params.Domain = m.config.Domain
		params.Timeout = m.config.QueryTimeout
		params.Entries = entries
		params.DisableIPv6 = true

		if err := mdns.Query(params); err != nil {
			log.Warn("mDNS query failed", "err", err)
			select {
			case <-time.After(m.config.QueryTimeout):
			case <-m.ctx.Done():
			}
		}
		close(entries)
		<-forwarded
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Stop stops browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Discover browses until the first server answers or ctx ends
func Discover(ctx context.Context, config Config) (*ServerInfo, error) {
	m := NewManager(config)
	defer m.Stop()
	m.Browse()

	select {
	case server := <-m.Servers():
		return server, nil
	case <-ctx.Done():
		return nil, ErrNoServers
	}
}

// entryToServer converts an mDNS answer, preferring the IPv4 address
func entryToServer(e *mdns.ServiceEntry) (*ServerInfo, bool) {
	if e == nil || e.Port == 0 {
		return nil, false
	}

	var host string
	switch {
	case e.AddrV4 != nil:
		host = e.AddrV4.String()
	case e.AddrV6 != nil:
		host = e.AddrV6.String()
	case e.Host != "":
		host = strings.TrimSuffix(e.Host, ".")
	default:
		return nil, false
	}

	name := e.Name
	if i := strings.Index(name, "._"); i > 0 {
		name = name[:i]
	}

	path := "/sendspin"
	for _, field := range e.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			path = v
		}
	}

	return &ServerInfo{Name: name, Host: host, Port: e.Port, Path: path}, true
}
