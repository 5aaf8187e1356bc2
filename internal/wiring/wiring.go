// Package wiring composes one station's directory client, bridge façade,
// and node registry into a single running Stack, shared by cmd/bridge and
// cmd/bridgeconsole so both entrypoints bootstrap identically.
package wiring

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"net"
	"time"

	"github.com/stationbridge/bridge/bridge"
	"github.com/stationbridge/bridge/config"
	bcrypto "github.com/stationbridge/bridge/crypto"
	"github.com/stationbridge/bridge/discovery"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/metrics"
	"github.com/stationbridge/bridge/natutil"
	"github.com/stationbridge/bridge/networks/p2p"
	"github.com/stationbridge/bridge/protocol"
	"github.com/stationbridge/bridge/registry"
)

var logger = log.NewModuleLogger(log.CMDBridge)

// Stack is one fully wired, running station.
type Stack struct {
	Config    *config.Config
	Discovery *discovery.Client
	Bridge    *bridge.Client
	Registry  *registry.Manager
}

// Bootstrap derives the discovery key, opens the registry backend, generates
// a station keypair, registers with the directory, and starts every
// background loop. Callers must defer Close.
func Bootstrap(cfg *config.Config, networkSecret, networkName string) (*Stack, error) {
	discoveryKey := bcrypto.DeriveDiscoveryKey(networkSecret, networkName, cfg.Crypto.KDFIterations)

	store, conflictLog, err := openRegistryBackend(cfg.Registry)
	if err != nil {
		return nil, err
	}

	externalIP := discoverExternalIP(cfg.P2P.ListenPort)

	privKey, err := rsa.GenerateKey(rand.Reader, cfg.Crypto.DefaultKeySize)
	if err != nil {
		return nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, err
	}
	publicKeyB64 := base64.StdEncoding.EncodeToString(pubDER)

	var dclient *discovery.Client
	var reg *registry.Manager

	dclient = discovery.NewClient(cfg.Discovery, cfg.StationID, discoveryKey, discovery.Callbacks{
		OnPeerDiscovered: func(p discovery.Peer) {
			logger.Info("peer discovered", "stationId", p.StationID)
			metrics.PeersKnown.Update(int64(len(dclient.KnownPeers())))
		},
		OnPeerLost: func(stationID string) {
			logger.Info("peer lost", "stationId", stationID)
			if reg != nil {
				if err := reg.HandlePeerLost(stationID); err != nil {
					logger.Warn("peer loss handling failed", "stationId", stationID, "err", err)
				}
			}
			metrics.PeersKnown.Update(int64(len(dclient.KnownPeers())))
		},
	})

	client, err := bridge.New(cfg.StationID, cfg.P2P, dclient, bridge.Callbacks{
		OnUserMessage: func(msg *protocol.Message) { metrics.MessagesReceived.Inc(1) },
		OnError:       func(msg *protocol.Message, errPayload *protocol.ErrorPayload) { metrics.MessagesDropped.Inc(1) },
	})
	if err != nil {
		return nil, err
	}

	reg = registry.NewManager(cfg.StationID, cfg.Registry, store, conflictLog, bridgeSender{client}, stationLister{dclient}, registry.Callbacks{
		OnNodeAdded:   func(n registry.Node) { metrics.RegistryNodeCount.Update(metrics.RegistryNodeCount.Value() + 1) },
		OnNodeRemoved: func(n registry.Node) { metrics.RegistryNodeCount.Update(metrics.RegistryNodeCount.Value() - 1) },
	})
	reg.Start()

	envelope, err := bcrypto.SealContactEnvelope(bcrypto.ContactInfo{
		IP:        externalIP,
		Port:      cfg.P2P.ListenPort,
		PublicKey: publicKeyB64,
		LastSeen:  time.Now().UnixNano() / int64(time.Millisecond),
	}, discoveryKey)
	if err != nil {
		reg.Stop()
		client.Close()
		return nil, err
	}
	if err := dclient.Register(envelope, publicKeyB64); err != nil {
		reg.Stop()
		client.Close()
		return nil, err
	}
	dclient.Start()

	return &Stack{Config: cfg, Discovery: dclient, Bridge: client, Registry: reg}, nil
}

// Close unwinds Bootstrap in reverse order.
func (s *Stack) Close() {
	_ = s.Discovery.Unregister()
	s.Discovery.Stop()
	s.Registry.Stop()
	s.Bridge.Close()
}

func openRegistryBackend(cfg config.Registry) (registry.Store, registry.ConflictLog, error) {
	switch cfg.Backend {
	case "badger":
		store, err := registry.NewBadgerStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		clog, err := registry.NewLevelDBConflictLog(cfg.DataDir + "/conflicts")
		if err != nil {
			return nil, nil, err
		}
		return store, clog, nil
	case "sql":
		store, err := registry.NewSQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		clog, err := registry.NewLevelDBConflictLog(cfg.DataDir + "/conflicts")
		if err != nil {
			return nil, nil, err
		}
		return store, clog, nil
	default:
		return registry.NewMemStore(), registry.NewMemConflictLog(), nil
	}
}

// discoverExternalIP probes for a UPnP gateway (no NAT-PMP gateway address
// is passed to natutil.Discover, so NAT-PMP is not tried), maps listenPort
// through it on a best-effort basis, and returns the address the station
// should advertise to the directory. Falls back to the first non-loopback
// local address if no gateway answers.
func discoverExternalIP(listenPort int) string {
	mapper, err := natutil.Discover("")
	if err != nil {
		logger.Warn("no NAT gateway found, advertising local address", "err", err)
		return localIP()
	}
	if err := mapper.Map(listenPort); err != nil {
		logger.Warn("NAT port mapping failed", "port", listenPort, "err", err)
	}
	go mapper.RenewEvery(30*time.Minute, make(chan struct{}))
	if ip := mapper.ExternalIP(); ip != "" {
		return ip
	}
	return localIP()
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

// bridgeSender adapts bridge.Client to registry.Sender.
type bridgeSender struct{ client *bridge.Client }

func (s bridgeSender) SendMessage(ctx context.Context, msg *protocol.Message) error {
	return s.client.SendMessage(ctx, msg)
}

// stationLister adapts discovery.Client to registry.PeerLister.
type stationLister struct{ dclient *discovery.Client }

func (l stationLister) KnownStationIDs() []string {
	peers := l.dclient.KnownPeers()
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.StationID)
	}
	return ids
}

// ConnectionRef mirrors status.ConnectionRef so this package doesn't need to
// import the status package just to expose connection snapshots.
type ConnectionRef struct {
	PeerID       string
	Status       string
	ConnType     string
	LastActivity time.Time
}

// Connections returns a snapshot of every tracked peer connection.
func (s *Stack) Connections() []ConnectionRef {
	conns := s.Bridge.Connections()
	out := make([]ConnectionRef, 0, len(conns))
	for _, c := range conns {
		out = append(out, connRef(c))
	}
	return out
}

func connRef(c *p2p.Connection) ConnectionRef {
	return ConnectionRef{
		PeerID:       c.PeerID(),
		Status:       c.Status().String(),
		ConnType:     c.ConnType().String(),
		LastActivity: c.LastActivity(),
	}
}
