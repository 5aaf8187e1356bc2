// Package bridge implements the station-facing client façade of spec.md
// §4.F: it composes the connection manager, transport layer, and directory
// client into the handful of operations a station operator actually calls
// (send/broadcast/request), auto-generates ACKs for messages that request
// one, and re-emits inbound traffic as typed events.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/discovery"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/networks/p2p"
	"github.com/stationbridge/bridge/networks/p2p/transport"
	"github.com/stationbridge/bridge/protocol"
)

var logger = log.NewModuleLogger(log.Bridge)

// Callbacks are the station-facing events re-emitted from inbound traffic.
type Callbacks struct {
	OnUserMessage     func(msg *protocol.Message)
	OnCommand         func(msg *protocol.Message)
	OnSystemMessage   func(msg *protocol.Message)
	OnStationInfo     func(msg *protocol.Message, info *protocol.StationInfoPayload)
	OnNodeDiscovery   func(msg *protocol.Message, payload *protocol.NodeDiscoveryPayload)
	OnAck             func(msg *protocol.Message, ack *protocol.AckPayload)
	OnError           func(msg *protocol.Message, errPayload *protocol.ErrorPayload)
}

// Client is the bridge façade bound to one station identity.
type Client struct {
	stationID string
	cfg       config.P2P

	manager    *p2p.Manager
	transport  *transport.Transport
	discovery  *discovery.Client
	callbacks  Callbacks
}

// endpointResolver adapts discovery's known-peer cache to transport.Resolver.
type endpointResolver struct {
	d *discovery.Client
}

func (r endpointResolver) ResolveEndpoint(stationID string) (string, int, error) {
	peer, ok := r.d.KnownPeer(stationID)
	if !ok {
		return "", 0, bridgeerr.NotFound("no known endpoint for station " + stationID)
	}
	if peer.IP == "" || peer.Port == 0 {
		return "", 0, bridgeerr.NotFound("endpoint incomplete for station " + stationID)
	}
	return peer.IP, peer.Port, nil
}

// New wires a connection manager, transport, and directory client into a
// bridge façade, and starts the manager's listeners.
func New(stationID string, cfg config.P2P, dclient *discovery.Client, callbacks Callbacks) (*Client, error) {
	manager := p2p.NewManager(cfg, p2p.Callbacks{})
	tr := transport.New(manager, endpointResolver{d: dclient}, cfg)
	if err := manager.Start(); err != nil {
		return nil, err
	}

	c := &Client{
		stationID: stationID,
		cfg:       cfg,
		manager:   manager,
		transport: tr,
		discovery: dclient,
		callbacks: callbacks,
	}
	c.registerHandlers()
	return c, nil
}

func (c *Client) registerHandlers() {
	c.transport.OnMessage(protocol.TypeUserMessage, c.handleInbound(c.callbacks.OnUserMessage))
	c.transport.OnMessage(protocol.TypeCommand, c.handleInbound(c.callbacks.OnCommand))
	c.transport.OnMessage(protocol.TypeSystem, c.handleInbound(c.callbacks.OnSystemMessage))

	c.transport.OnMessage(protocol.TypeStationInfo, func(msg *protocol.Message) {
		c.autoAck(msg)
		if c.callbacks.OnStationInfo == nil {
			return
		}
		info, err := protocol.UnmarshalStationInfoPayload(msg.Payload.Data)
		if err != nil {
			logger.Warn("undecodable station info payload", "messageId", msg.MessageID, "err", err)
			return
		}
		c.callbacks.OnStationInfo(msg, info)
	})

	c.transport.OnMessage(protocol.TypeNodeDiscovery, func(msg *protocol.Message) {
		c.autoAck(msg)
		if c.callbacks.OnNodeDiscovery == nil {
			return
		}
		payload, err := protocol.UnmarshalNodeDiscoveryPayload(msg.Payload.Data)
		if err != nil {
			logger.Warn("undecodable node discovery payload", "messageId", msg.MessageID, "err", err)
			return
		}
		c.callbacks.OnNodeDiscovery(msg, payload)
	})

	c.transport.OnMessage(protocol.TypeAck, func(msg *protocol.Message) {
		if c.callbacks.OnAck == nil {
			return
		}
		ack, err := protocol.UnmarshalAckPayload(msg.Payload.Data)
		if err != nil {
			logger.Warn("undecodable ack payload", "messageId", msg.MessageID, "err", err)
			return
		}
		c.callbacks.OnAck(msg, ack)
	})

	c.transport.OnMessage(protocol.TypeError, func(msg *protocol.Message) {
		if c.callbacks.OnError == nil {
			return
		}
		errPayload, err := unmarshalErrorPayload(msg.Payload.Data)
		if err != nil {
			logger.Warn("undecodable error payload", "messageId", msg.MessageID, "err", err)
			return
		}
		c.callbacks.OnError(msg, errPayload)
	})
}

// handleInbound wraps a user-facing callback with the auto-ACK of spec.md
// §4.F: once the callback (if any) has returned, a message that sets
// delivery.requiresAck is ACKed.
func (c *Client) handleInbound(cb func(msg *protocol.Message)) transport.Handler {
	return func(msg *protocol.Message) {
		if cb != nil {
			cb(msg)
		}
		c.autoAck(msg)
	}
}

func (c *Client) autoAck(msg *protocol.Message) {
	if !msg.Delivery.RequiresAck {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectionTimeout)
	defer cancel()
	if err := c.transport.SendAck(ctx, c.stationID, msg.Routing.FromStation, msg.MessageID, protocol.AckDelivered); err != nil {
		logger.Warn("failed to send auto-ack", "messageId", msg.MessageID, "err", err)
	}
}

// SendUserMessage sends a user-originated chat/text message (spec.md §4.F).
func (c *Client) SendUserMessage(ctx context.Context, toStation string, fromNode, toNode int64, text string, priority protocol.Priority) error {
	msg, err := protocol.CreateMessage(c.stationID, toStation, fromNode, toNode, protocol.TypeUserMessage, text, protocol.CreateOptions{Priority: priority})
	if err != nil {
		return err
	}
	return c.transport.SendMessage(ctx, msg)
}

// SendCommand sends a command payload (spec.md §4.F).
func (c *Client) SendCommand(ctx context.Context, toStation string, fromNode, toNode int64, command string) error {
	msg, err := protocol.CreateMessage(c.stationID, toStation, fromNode, toNode, protocol.TypeCommand, command, protocol.CreateOptions{Priority: protocol.PriorityHigh})
	if err != nil {
		return err
	}
	return c.transport.SendMessage(ctx, msg)
}

// SendSystemMessage sends an operational/system notice (spec.md §4.F).
func (c *Client) SendSystemMessage(ctx context.Context, toStation, text string) error {
	msg, err := protocol.CreateMessage(c.stationID, toStation, 0, 0, protocol.TypeSystem, text, protocol.CreateOptions{})
	if err != nil {
		return err
	}
	return c.transport.SendMessage(ctx, msg)
}

// SendHeartbeat sends a liveness heartbeat to a single peer station.
func (c *Client) SendHeartbeat(ctx context.Context, toStation string) error {
	msg, err := protocol.CreateMessage(c.stationID, toStation, 0, 0, protocol.TypeHeartbeat, "", protocol.CreateOptions{Priority: protocol.PriorityLow, TTL: 60})
	if err != nil {
		return err
	}
	return c.transport.SendMessage(ctx, msg)
}

// SendStationInfo answers a station-info request or pushes a periodic
// advertisement (spec.md §4.F/§4.B StationInfoPayload).
func (c *Client) SendStationInfo(ctx context.Context, toStation string, info protocol.StationInfoPayload) error {
	data, err := info.Marshal()
	if err != nil {
		return bridgeerr.Validation("marshal station info", err)
	}
	msg, err := protocol.CreateMessage(c.stationID, toStation, 0, 0, protocol.TypeStationInfo, data, protocol.CreateOptions{})
	if err != nil {
		return err
	}
	return c.transport.SendMessage(ctx, msg)
}

// BroadcastMessage sends one copy of a user message to each peer in the
// directory client's known-peer cache, each copy addressed to that peer's
// own station ID. The BroadcastStation sentinel is not used as toStation.
func (c *Client) BroadcastMessage(ctx context.Context, fromNode int64, text string) []error {
	var errs []error
	for _, peer := range c.discovery.KnownPeers() {
		if err := c.SendUserMessage(ctx, peer.StationID, fromNode, 0, text, protocol.PriorityNormal); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// BroadcastNodeDiscovery fans a node-discovery advertisement out to every
// known peer (spec.md §4.F/§4.G periodic sync).
func (c *Client) BroadcastNodeDiscovery(ctx context.Context, payload protocol.NodeDiscoveryPayload) []error {
	data, err := payload.Marshal()
	if err != nil {
		return []error{bridgeerr.Validation("marshal node discovery payload", err)}
	}
	var errs []error
	for _, peer := range c.discovery.KnownPeers() {
		msg, err := protocol.CreateMessage(c.stationID, peer.StationID, 0, 0, protocol.TypeNodeDiscovery, data, protocol.CreateOptions{RequiresAck: boolPtr(false)})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.transport.SendMessage(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RequestStationInfo sends a "request_station_info" command to a peer and
// returns once the command is sent; it does not wait for a reply. A
// station_info message that arrives later is delivered through
// Callbacks.OnStationInfo like any other.
func (c *Client) RequestStationInfo(ctx context.Context, toStation string) error {
	return c.SendCommand(ctx, toStation, 0, 0, "request_station_info")
}

// RequestNodeDiscovery asks a peer to broadcast its current node list.
func (c *Client) RequestNodeDiscovery(ctx context.Context, toStation string) error {
	return c.SendCommand(ctx, toStation, 0, 0, "request_node_discovery")
}

// IsHealthy reports whether the bridge has a live, recently-active
// connection to the named peer station.
func (c *Client) IsHealthy(stationID string) bool {
	return c.transport.IsHealthy(stationID)
}

// SendMessage sends a pre-built envelope, for higher-level components (the
// node registry's sync/query broadcasts) that construct protocol.Message
// values themselves rather than going through one of the typed Send* calls.
func (c *Client) SendMessage(ctx context.Context, msg *protocol.Message) error {
	return c.transport.SendMessage(ctx, msg)
}

// Close stops the connection manager and all its listeners.
func (c *Client) Close() {
	c.manager.Stop()
}

// Connections returns a snapshot of every tracked peer connection, for
// status reporting.
func (c *Client) Connections() []*p2p.Connection {
	return c.manager.Connections()
}

// KnownPeers returns the directory client's current peer cache, for status
// reporting.
func (c *Client) KnownPeers() []discovery.Peer {
	return c.discovery.KnownPeers()
}

func boolPtr(b bool) *bool { return &b }

func unmarshalErrorPayload(data string) (*protocol.ErrorPayload, error) {
	var p protocol.ErrorPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
