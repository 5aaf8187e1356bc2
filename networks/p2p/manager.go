package p2p

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/clevergo/websocket"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/metrics"
)

var logger = log.NewModuleLogger(log.P2PConn)

// Manager is the connection manager of spec.md §4.D. It owns a TCP listener
// on cfg.ListenPort and a WebSocket listener on cfg.ListenPort+1, dials
// outbound connections on demand, and demultiplexes framed envelopes per
// peer.
type Manager struct {
	cfg       config.P2P
	callbacks Callbacks

	tcpListener net.Listener
	wsServer    *http.Server
	upgrader    websocket.Upgrader

	mu          sync.Mutex
	connections map[string]*Connection

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a connection manager bound to one immutable P2P config.
// Callbacks may be supplied here or later via SetCallbacks, which must be
// called before Start.
func NewManager(cfg config.P2P, callbacks Callbacks) *Manager {
	return &Manager{
		cfg:         cfg,
		callbacks:   callbacks,
		connections: make(map[string]*Connection),
		stopCh:      make(chan struct{}),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// SetCallbacks replaces the event callbacks. Callers must do this before
// Start; it is not safe to call concurrently with a running accept loop.
func (m *Manager) SetCallbacks(callbacks Callbacks) {
	m.callbacks = callbacks
}

// Start binds both listeners and begins accepting connections. Per spec.md
// §4.D, the WebSocket listener binds to ListenPort+1.
func (m *Manager) Start() error {
	tcpAddr, err := net.Listen("tcp", tcpListenAddr(m.cfg.ListenPort))
	if err != nil {
		return bridgeerr.Transport("bind tcp listener", err)
	}
	m.tcpListener = tcpAddr

	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleWSUpgrade)
	m.wsServer = &http.Server{Addr: wsListenAddr(m.cfg.ListenPort), Handler: mux}

	m.wg.Add(3)
	go m.acceptTCPLoop()
	go m.runWSServer()
	go m.keepAliveSweep()

	return nil
}

func (m *Manager) acceptTCPLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.tcpListener.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				metrics.ReceiveErrors.Inc(1)
				logger.Warn("tcp accept failed", "err", err)
				return
			}
		}
		m.registerInbound(newTCPWire(conn), ConnTypeTCP)
	}
}

func (m *Manager) runWSServer() {
	defer m.wg.Done()
	if err := m.wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("websocket listener stopped", "err", err)
	}
}

func (m *Manager) handleWSUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	m.registerInbound(newWSWire(conn), ConnTypeWebSocket)
}

// registerInbound assigns a provisional peer ID and starts the read loop.
// The provisional ID is rekeyed to the authenticated station ID as soon as
// the first frame is decoded (spec.md §9 "unify connection manager peerId").
func (m *Manager) registerInbound(wire wireConn, connType ConnType) {
	provisional, err := uuid.GenerateUUID()
	if err != nil {
		provisional = wire.RemoteAddr()
	}

	conn := &Connection{
		peerID:       provisional,
		connType:     connType,
		status:       StatusConnected,
		lastActivity: time.Now(),
		wire:         wire,
	}

	m.mu.Lock()
	m.connections[provisional] = conn
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(conn)
}

// ConnectToPeer dials a peer over TCP and registers the resulting connection
// under peerID immediately, since the caller already knows the station ID.
func (m *Manager) ConnectToPeer(peerID, host string, port int) (*Connection, error) {
	m.mu.Lock()
	if existing, ok := m.connections[peerID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	netConn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), m.cfg.ConnectionTimeout)
	if err != nil {
		return nil, bridgeerr.Network(bridgeerr.ReasonConnectionRefused, "dial peer "+peerID, err)
	}

	conn := &Connection{
		peerID:       peerID,
		connType:     ConnTypeTCP,
		status:       StatusConnected,
		lastActivity: time.Now(),
		wire:         newTCPWire(netConn),
	}

	m.mu.Lock()
	m.connections[peerID] = conn
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(conn)

	if m.callbacks.OnPeerConnected != nil {
		m.callbacks.OnPeerConnected(peerID)
	}
	return conn, nil
}

// readLoop demultiplexes frames off one connection until it errors or
// closes, rekeying the connection map from provisional ID to authenticated
// station ID on the first successfully decoded frame.
func (m *Manager) readLoop(conn *Connection) {
	defer m.wg.Done()
	defer m.closeAndForget(conn)

	hasRekeyed := false

	for {
		raw, err := conn.wire.ReadFrame(m.cfg.MaxFrameBytes)
		if err != nil {
			if m.callbacks.OnConnectionError != nil {
				m.callbacks.OnConnectionError(conn.PeerID(), err)
			}
			return
		}
		conn.touch()

		if !hasRekeyed {
			if stationID, ok := peekFromStation(raw); ok && stationID != conn.PeerID() {
				m.rekey(conn, stationID)
				hasRekeyed = true
				if m.callbacks.OnPeerConnected != nil {
					m.callbacks.OnPeerConnected(stationID)
				}
			}
		}

		if m.callbacks.OnMessageReceived != nil {
			m.callbacks.OnMessageReceived(conn.PeerID(), raw)
		}
	}
}

func (m *Manager) rekey(conn *Connection, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldID := conn.peerID
	delete(m.connections, oldID)
	conn.mu.Lock()
	conn.peerID = newID
	conn.status = StatusAuthenticated
	conn.mu.Unlock()
	m.connections[newID] = conn
}

func (m *Manager) closeAndForget(conn *Connection) {
	id := conn.PeerID()
	conn.Close()
	m.mu.Lock()
	if existing, ok := m.connections[id]; ok && existing == conn {
		delete(m.connections, id)
	}
	m.mu.Unlock()
	if m.callbacks.OnPeerDisconnected != nil {
		m.callbacks.OnPeerDisconnected(id, "connection closed")
	}
}

// SendMessage writes raw to the named peer's connection, per spec.md §4.D.
func (m *Manager) SendMessage(peerID string, raw []byte) error {
	m.mu.Lock()
	conn, ok := m.connections[peerID]
	m.mu.Unlock()
	if !ok {
		return bridgeerr.NotFound("no connection to peer " + peerID)
	}
	return conn.Send(raw)
}

// Connection returns the live connection handle for a peer, if any.
func (m *Manager) Connection(peerID string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[peerID]
	return c, ok
}

// Connections returns a snapshot of every tracked connection, for status
// reporting.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	return out
}

// keepAliveSweep closes connections that have been silent for more than
// 3*KeepAliveInterval (spec.md §4.D "Keep-alive").
func (m *Manager) keepAliveSweep() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.KeepAliveInterval)
	defer ticker.Stop()
	threshold := 3 * m.cfg.KeepAliveInterval

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			var stale []*Connection
			m.mu.Lock()
			for _, c := range m.connections {
				if now.Sub(c.LastActivity()) > threshold {
					stale = append(stale, c)
				}
			}
			m.mu.Unlock()
			for _, c := range stale {
				logger.Info("closing stale connection", "peerId", c.PeerID())
				m.closeAndForget(c)
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop is idempotent and closes every listener and live connection.
func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
		return
	default:
		close(m.stopCh)
	}
	if m.tcpListener != nil {
		m.tcpListener.Close()
	}
	if m.wsServer != nil {
		m.wsServer.Close()
	}

	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}

	m.wg.Wait()
}

// peekFromStation extracts routing.fromStation from a raw envelope without
// fully validating it, so the connection manager can rekey provisional
// connection IDs to authenticated station IDs (spec.md §9).
func peekFromStation(raw []byte) (string, bool) {
	var peek struct {
		Routing struct {
			FromStation string `json:"fromStation"`
		} `json:"routing"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return "", false
	}
	if peek.Routing.FromStation == "" {
		return "", false
	}
	return peek.Routing.FromStation, true
}

func tcpListenAddr(port int) string { return ":" + strconv.Itoa(port) }
func wsListenAddr(port int) string  { return ":" + strconv.Itoa(port+1) }
