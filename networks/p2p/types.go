// Package p2p implements the connection manager of spec.md §4.D: it listens
// for inbound TCP/WebSocket connections, dials outbound, frames/delivers/
// demultiplexes opaque envelopes per peer, and exposes connection lifecycle
// events.
package p2p

import (
	"sync"
	"time"
)

// Status is the per-connection state machine of spec.md §3/§4.D.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusAuthenticated:
		return "AUTHENTICATED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ConnType distinguishes the two transports the manager speaks.
type ConnType int

const (
	ConnTypeTCP ConnType = iota
	ConnTypeWebSocket
)

func (t ConnType) String() string {
	if t == ConnTypeWebSocket {
		return "websocket"
	}
	return "tcp"
}

// Callbacks are the typed, closed-set events of spec.md §4.D.
type Callbacks struct {
	OnPeerConnected    func(peerID string)
	OnPeerDisconnected func(peerID string, reason string)
	OnMessageReceived  func(peerID string, raw []byte)
	OnConnectionError  func(peerID string, err error)
}

// Connection is the per-peer handle of spec.md §3.
type Connection struct {
	mu sync.Mutex

	peerID       string
	connType     ConnType
	status       Status
	lastActivity time.Time
	retryCount   int

	wire wireConn
}

func (c *Connection) PeerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) ConnType() ConnType {
	return c.connType
}

func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Send writes one length-delimited frame. Sends on a single connection are
// serialised by the wireConn implementation (spec.md §5 "Per-peer
// serialisation").
func (c *Connection) Send(raw []byte) error {
	if err := c.wire.WriteFrame(raw); err != nil {
		return err
	}
	c.touch()
	return nil
}

// Close closes the underlying wire; safe to call more than once.
func (c *Connection) Close() error {
	c.setStatus(StatusDisconnected)
	return c.wire.Close()
}

// wireConn is the framing-and-transport abstraction shared by the TCP and
// WebSocket implementations.
type wireConn interface {
	ReadFrame(maxFrameBytes int) ([]byte, error)
	WriteFrame(raw []byte) error
	Close() error
	RemoteAddr() string
}
