// Package transport implements the station-addressed messaging layer of
// spec.md §4.E: it sits above the connection manager, resolves a station ID
// to a live connection (dialing at most once per station at a time),
// retries transient send failures with the protocol's capped backoff, and
// dispatches inbound envelopes to typed handlers.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/metrics"
	"github.com/stationbridge/bridge/networks/p2p"
	"github.com/stationbridge/bridge/protocol"
)

var logger = log.NewModuleLogger(log.P2PTransport)

// Resolver turns a station ID into a dialable address. The bridge client
// (spec.md §4.F) supplies this from directory/registry data; the transport
// layer itself knows nothing about discovery.
type Resolver interface {
	ResolveEndpoint(stationID string) (host string, port int, err error)
}

// Handler processes one inbound, already-decoded message.
type Handler func(msg *protocol.Message)

// Transport is the station-addressed messaging layer.
type Transport struct {
	manager  *p2p.Manager
	resolver Resolver
	cfg      config.P2P

	mu                sync.Mutex
	pendingDials      map[string]chan struct{} // singleton-dial-per-station
	handlers          map[protocol.PayloadType]Handler
	defaultHandler    Handler
}

// New builds a Transport over a connection manager and installs the
// manager's callbacks, so it must be called before the manager's Start
// (see p2p.Manager.SetCallbacks).
func New(manager *p2p.Manager, resolver Resolver, cfg config.P2P) *Transport {
	t := &Transport{
		manager:      manager,
		resolver:     resolver,
		cfg:          cfg,
		pendingDials: make(map[string]chan struct{}),
		handlers:     make(map[protocol.PayloadType]Handler),
	}
	manager.SetCallbacks(p2p.Callbacks{
		OnMessageReceived: t.onRawMessage,
		OnConnectionError: func(peerID string, err error) {
			logger.Warn("connection error", "peerId", peerID, "err", err)
		},
	})
	return t
}

// OnMessage registers the handler for one payload type (spec.md §4.E
// "typed handler registration"). Registering twice replaces the handler.
func (t *Transport) OnMessage(typ protocol.PayloadType, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[typ] = h
}

// OnUnhandledMessage registers the fallback invoked when no typed handler
// matches the inbound payload's type.
func (t *Transport) OnUnhandledMessage(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaultHandler = h
}

func (t *Transport) onRawMessage(peerID string, raw []byte) {
	msg, err := protocol.Deserialize(raw)
	if err != nil {
		metrics.ReceiveErrors.Inc(1)
		logger.Warn("dropping undecodable message", "peerId", peerID, "err", err)
		return
	}
	if protocol.IsExpired(msg, time.Now()) {
		logger.Debug("dropping expired message", "messageId", msg.MessageID)
		return
	}

	t.mu.Lock()
	h, ok := t.handlers[msg.Payload.Type]
	fallback := t.defaultHandler
	t.mu.Unlock()

	if ok {
		h(msg)
		return
	}
	if fallback != nil {
		fallback(msg)
	}
}

// SendMessage delivers msg to msg.Routing.ToStation, establishing a
// connection on demand and retrying transient failures with the protocol's
// capped exponential backoff (spec.md §4.B/§8 invariant 2) up to
// cfg.RetryAttempts times.
func (t *Transport) SendMessage(ctx context.Context, msg *protocol.Message) error {
	raw, err := protocol.Serialize(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= t.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := protocol.RetryDelay(attempt-1, t.cfg.RetryBaseDelay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := t.ensureConnection(ctx, msg.Routing.ToStation); err != nil {
			lastErr = err
			continue
		}
		if err := t.manager.SendMessage(msg.Routing.ToStation, raw); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	metrics.SendErrors.Inc(1)
	return bridgeerr.Network(bridgeerr.ReasonPeerUnreachable, "send to "+msg.Routing.ToStation+" after retries", lastErr)
}

// ensureConnection dials stationID if no live connection exists, collapsing
// concurrent callers onto a single in-flight dial (spec.md §4.E "singleton
// connection establishment per peer").
func (t *Transport) ensureConnection(ctx context.Context, stationID string) error {
	if _, ok := t.manager.Connection(stationID); ok {
		return nil
	}

	t.mu.Lock()
	wait, inFlight := t.pendingDials[stationID]
	if inFlight {
		t.mu.Unlock()
		select {
		case <-wait:
			if _, ok := t.manager.Connection(stationID); ok {
				return nil
			}
			return bridgeerr.Network(bridgeerr.ReasonPeerUnreachable, "concurrent dial to "+stationID+" failed", nil)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	t.pendingDials[stationID] = done
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pendingDials, stationID)
		t.mu.Unlock()
		close(done)
	}()

	host, port, err := t.resolver.ResolveEndpoint(stationID)
	if err != nil {
		return err
	}
	_, err = t.manager.ConnectToPeer(stationID, host, port)
	return err
}

// IsHealthy reports whether a live, recently-active connection to stationID
// exists (spec.md §4.E health check).
func (t *Transport) IsHealthy(stationID string) bool {
	conn, ok := t.manager.Connection(stationID)
	if !ok {
		return false
	}
	return time.Since(conn.LastActivity()) < 3*t.cfg.KeepAliveInterval
}

// SendAck builds and sends an AckPayload correlated to originalMessageID
// (spec.md §4.B AckPayload, §4.E "auto-ACK").
func (t *Transport) SendAck(ctx context.Context, fromStation, toStation, originalMessageID string, status protocol.AckStatus) error {
	ack := protocol.AckPayload{OriginalMessageID: originalMessageID, Status: status, Timestamp: time.Now().UnixNano() / int64(time.Millisecond)}
	data, err := ack.Marshal()
	if err != nil {
		return bridgeerr.Validation("marshal ack payload", err)
	}
	msg, err := protocol.CreateMessage(fromStation, toStation, 0, 0, protocol.TypeAck, data, protocol.CreateOptions{})
	if err != nil {
		return err
	}
	return t.SendMessage(ctx, msg)
}
