// Package natutil maps the P2P listen port through a home-gateway NAT so a
// station reachable only behind a residential router can still accept
// inbound connections (spec.md §4.D notes this as an operational concern of
// the connection manager's TCP/WebSocket listeners).
package natutil

import (
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/stationbridge/bridge/log"
)

var logger = log.NewModuleLogger(log.NAT)

const mappingLifetime = 3600 // seconds; renewed well before expiry by RenewEvery

// Mapper punches a hole for one TCP port through whichever NAT traversal
// protocol the gateway answers to, preferring NAT-PMP and falling back to
// UPnP IGDv1.
type Mapper struct {
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	externalIP string
	port       int
}

// Discover tries NAT-PMP against gatewayIP (skipped when gatewayIP is not a
// valid IP address), then UPnP IGDv1 discovery. It returns an error only if
// neither protocol answered.
func Discover(gatewayIP string) (*Mapper, error) {
	m := &Mapper{}

	if ip := net.ParseIP(gatewayIP); ip != nil {
		client := natpmp.NewClient(ip)
		if res, err := client.GetExternalAddress(); err == nil {
			m.pmp = client
			m.externalIP = fmt.Sprintf("%d.%d.%d.%d", res.ExternalIPAddress[0], res.ExternalIPAddress[1], res.ExternalIPAddress[2], res.ExternalIPAddress[3])
			return m, nil
		}
	}

	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil || len(clients) == 0 {
		return nil, fmt.Errorf("natutil: no NAT-PMP or UPnP gateway found")
	}
	m.upnp = clients[0]
	if ip, err := m.upnp.GetExternalIPAddress(); err == nil {
		m.externalIP = ip
	}
	return m, nil
}

// ExternalIP returns the gateway's public address, if one was discovered.
func (m *Mapper) ExternalIP() string { return m.externalIP }

// Map opens port on the gateway, forwarding it to this host's same port.
func (m *Mapper) Map(port int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", port, port, mappingLifetime); err != nil {
			return fmt.Errorf("natutil: NAT-PMP mapping failed: %w", err)
		}
		m.port = port
		logger.Info("mapped port via NAT-PMP", "port", port)
		return nil
	}
	if m.upnp != nil {
		if err := m.upnp.AddPortMapping("", uint16(port), "TCP", uint16(port), "", true, "station-bridge", mappingLifetime); err != nil {
			return fmt.Errorf("natutil: UPnP mapping failed: %w", err)
		}
		m.port = port
		logger.Info("mapped port via UPnP", "port", port)
		return nil
	}
	return fmt.Errorf("natutil: no gateway client available")
}

// Unmap removes a previously opened mapping. Safe to call on a Mapper that
// never successfully mapped a port.
func (m *Mapper) Unmap() error {
	if m.port == 0 {
		return nil
	}
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("tcp", m.port, m.port, 0)
		m.port = 0
		return err
	}
	if m.upnp != nil {
		err := m.upnp.DeletePortMapping("", uint16(m.port), "TCP")
		m.port = 0
		return err
	}
	return nil
}

// RenewEvery re-maps the held port on an interval until stopCh closes, since
// both NAT-PMP and UPnP leases expire. Intended to run as a goroutine.
func (m *Mapper) RenewEvery(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if m.port != 0 {
				if err := m.Map(m.port); err != nil {
					logger.Warn("NAT mapping renewal failed", "port", m.port, "err", err)
				}
			}
		case <-stopCh:
			return
		}
	}
}
