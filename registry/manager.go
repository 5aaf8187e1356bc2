package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/protocol"
)

// Sender is the minimal transport capability the registry manager needs to
// push sync broadcasts and node queries, kept narrow so this package never
// imports the connection manager or transport packages directly.
type Sender interface {
	SendMessage(ctx context.Context, msg *protocol.Message) error
}

// PeerLister supplies the set of currently known peer station IDs to
// broadcast sync/query traffic to.
type PeerLister interface {
	KnownStationIDs() []string
}

// Callbacks are the local-node lifecycle events of spec.md §4.G.
type Callbacks struct {
	OnNodeAdded   func(Node)
	OnNodeUpdated func(Node)
	OnNodeRemoved func(Node)
}

const nodeQueryTimeout = 5 * time.Second

// Manager is the node registry of spec.md §4.G: it owns the durable Store
// and ConflictLog, periodically broadcasts and sweeps, and resolves
// cross-station ownership conflicts.
type Manager struct {
	stationID string
	cfg       config.Registry
	strategy  ConflictStrategy
	callbacks Callbacks

	store       Store
	conflictLog ConflictLog
	sender      Sender
	peers       PeerLister

	registryVersion int64

	mu             sync.Mutex
	pendingQueries map[int64]chan protocol.NodeQueryResponse

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a registry manager over an already-open Store/ConflictLog.
func NewManager(stationID string, cfg config.Registry, store Store, conflictLog ConflictLog, sender Sender, peers PeerLister, callbacks Callbacks) *Manager {
	strategy := ConflictStrategy(cfg.ConflictStrategy)
	switch strategy {
	case ConflictLatest, ConflictStationPriority, ConflictFirstSeen:
	default:
		strategy = ConflictLatest
	}
	return &Manager{
		stationID:      stationID,
		cfg:            cfg,
		strategy:       strategy,
		callbacks:      callbacks,
		store:          store,
		conflictLog:    conflictLog,
		sender:         sender,
		peers:          peers,
		pendingQueries: make(map[int64]chan protocol.NodeQueryResponse),
		stopCh:         make(chan struct{}),
	}
}

// Start arms the sync-broadcast and cleanup-sweep timers (spec.md §4.G:
// sync every 30s, cleanup every 60s by default).
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.runTicker(m.cfg.SyncInterval, func() {
		if err := m.broadcastSync(context.Background()); err != nil {
			logger.Warn("registry sync broadcast failed", "err", err)
		}
	})
	go m.runTicker(m.cfg.CleanupInterval, func() {
		n, err := m.store.CleanupExpired(time.Now())
		if err != nil {
			logger.Warn("registry cleanup failed", "err", err)
			return
		}
		if n > 0 {
			logger.Info("expired registry nodes removed", "count", n)
		}
	})
}

func (m *Manager) runTicker(interval time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-m.stopCh:
			return
		}
	}
}

// Stop is idempotent; data is left persisted (spec.md §4.G "On stop: stop
// timers; leave data persisted").
func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
		return
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
}

// RegisterLocalNode records a node this station directly observed on its
// mesh radio, bumping registryVersion and emitting node_added (spec.md
// §4.G "Local node events").
func (m *Manager) RegisterLocalNode(nodeID int64, metadata map[string]string, ttl int, online bool) error {
	node := Node{NodeID: nodeID, StationID: m.stationID, LastSeen: time.Now(), IsOnline: online, Metadata: metadata, TTL: ttl}
	if err := m.store.Upsert(node); err != nil {
		return err
	}
	atomic.AddInt64(&m.registryVersion, 1)
	if m.callbacks.OnNodeAdded != nil {
		m.callbacks.OnNodeAdded(node)
	}
	return nil
}

// UpdateLocalNode is a no-op if the live row for nodeID is owned by another
// station — a station may not speak for a remote station's node (spec.md
// §4.G).
func (m *Manager) UpdateLocalNode(nodeID int64, metadata map[string]string, ttl int, online bool) error {
	existing, found, err := m.store.FindNode(nodeID, time.Now())
	if err != nil {
		return err
	}
	if found && existing.StationID != m.stationID {
		return nil
	}
	node := Node{NodeID: nodeID, StationID: m.stationID, LastSeen: time.Now(), IsOnline: online, Metadata: metadata, TTL: ttl}
	if err := m.store.Upsert(node); err != nil {
		return err
	}
	atomic.AddInt64(&m.registryVersion, 1)
	if m.callbacks.OnNodeUpdated != nil {
		m.callbacks.OnNodeUpdated(node)
	}
	return nil
}

// RemoveLocalNode deletes this station's own claim to nodeID and emits
// node_removed.
func (m *Manager) RemoveLocalNode(nodeID int64) error {
	rows, err := m.store.NodesByNodeID(nodeID, time.Now())
	if err != nil {
		return err
	}
	var n *Node
	for i := range rows {
		if rows[i].StationID == m.stationID {
			n = &rows[i]
			break
		}
	}
	if n == nil {
		return nil
	}
	if _, err := m.store.Remove(nodeID, m.stationID); err != nil {
		return err
	}
	atomic.AddInt64(&m.registryVersion, 1)
	if m.callbacks.OnNodeRemoved != nil {
		m.callbacks.OnNodeRemoved(*n)
	}
	return nil
}

// RegistryVersion returns the current monotonic local-mutation counter.
func (m *Manager) RegistryVersion() int64 {
	return atomic.LoadInt64(&m.registryVersion)
}

// FindNode looks up the live winning row for nodeID across every station.
func (m *Manager) FindNode(nodeID int64) (*Node, bool, error) {
	return m.store.FindNode(nodeID, time.Now())
}

// GetNodesByStation lists every live node row attributed to stationID.
func (m *Manager) GetNodesByStation(stationID string) ([]Node, error) {
	return m.store.GetNodesByStation(stationID, time.Now())
}

// HandlePeerLost removes every remote registry row owned by a station that
// just dropped off the directory (spec.md §4.H "On peer loss, remove all
// remote registry rows owned by that station").
func (m *Manager) HandlePeerLost(stationID string) error {
	rows, err := m.store.GetNodesByStation(stationID, time.Now())
	if err != nil {
		return err
	}
	for _, n := range rows {
		if _, err := m.store.Remove(n.NodeID, stationID); err != nil {
			return err
		}
	}
	return nil
}

// broadcastSync sends this station's own node rows to every known peer
// (spec.md §4.G periodic sync).
func (m *Manager) broadcastSync(ctx context.Context) error {
	own, err := m.store.GetNodesByStation(m.stationID, time.Now())
	if err != nil {
		return err
	}
	rows := make([]protocol.RegistrySyncNode, 0, len(own))
	for _, n := range own {
		rows = append(rows, protocol.RegistrySyncNode{
			NodeID:   n.NodeID,
			LastSeen: n.LastSeen.UnixNano() / int64(time.Millisecond),
			IsOnline: n.IsOnline,
			Metadata: n.Metadata,
			TTL:      n.TTL,
		})
	}

	sync := protocol.RegistrySyncMessage{
		Type:      protocol.RegistrySyncType,
		Version:   1,
		StationID: m.stationID,
		Nodes:     rows,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
	}
	sync.Checksum = syncChecksum(sync)

	data, err := sync.Marshal()
	if err != nil {
		return bridgeerr.Validation("marshal registry sync message", err)
	}

	var firstErr error
	for _, stationID := range m.peers.KnownStationIDs() {
		msg, err := protocol.CreateMessage(m.stationID, stationID, 0, 0, protocol.TypeSystem, data, protocol.CreateOptions{RequiresAck: boolPtr(false), Priority: protocol.PriorityLow})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := m.sender.SendMessage(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HandleSync applies an inbound RegistrySyncMessage from a peer station,
// resolving any node-ownership conflicts per m.strategy (spec.md §4.G).
func (m *Manager) HandleSync(sync *protocol.RegistrySyncMessage) error {
	if sync.StationID == m.stationID {
		return nil
	}
	expected := syncChecksum(*sync)
	if expected != sync.Checksum {
		return bridgeerr.Validation("registry sync checksum mismatch from "+sync.StationID, nil)
	}

	now := time.Now()
	for _, row := range sync.Nodes {
		incoming := Node{
			NodeID:    row.NodeID,
			StationID: sync.StationID,
			LastSeen:  time.Unix(0, row.LastSeen*int64(time.Millisecond)),
			IsOnline:  row.IsOnline,
			Metadata:  row.Metadata,
			TTL:       row.TTL,
		}

		existingRows, err := m.store.NodesByNodeID(row.NodeID, now)
		if err != nil {
			return err
		}
		var conflicting *Node
		for i := range existingRows {
			if existingRows[i].StationID != sync.StationID {
				conflicting = &existingRows[i]
				break
			}
		}

		if conflicting == nil {
			existed := len(existingRows) > 0
			if err := m.store.Upsert(incoming); err != nil {
				return err
			}
			if existed {
				if m.callbacks.OnNodeUpdated != nil {
					m.callbacks.OnNodeUpdated(incoming)
				}
			} else if m.callbacks.OnNodeAdded != nil {
				m.callbacks.OnNodeAdded(incoming)
			}
			continue
		}

		winner := m.resolve(*conflicting, incoming)
		loser := incoming
		if winner.StationID == incoming.StationID {
			loser = *conflicting
		}

		if err := m.conflictLog.Record(ConflictRecord{
			NodeID:             row.NodeID,
			ConflictingEntries: []Node{*conflicting, incoming},
			ResolvedEntry:      winner,
			Strategy:           m.strategy,
			Timestamp:          now,
		}); err != nil {
			logger.Warn("failed to record registry conflict", "nodeId", row.NodeID, "err", err)
		}

		if _, err := m.store.Remove(loser.NodeID, loser.StationID); err != nil {
			return err
		}
		if err := m.store.Upsert(winner); err != nil {
			return err
		}
	}
	return nil
}

// resolve picks a winner between two rows claiming the same node ID, per
// the configured ConflictStrategy (spec.md §4.G). Ties keep the existing
// row under `latest`.
func (m *Manager) resolve(existing, incoming Node) Node {
	switch m.strategy {
	case ConflictStationPriority:
		if existing.StationID == m.stationID {
			return existing
		}
		if incoming.StationID == m.stationID {
			return incoming
		}
		return existing
	case ConflictFirstSeen:
		if incoming.LastSeen.Before(existing.LastSeen) {
			return incoming
		}
		return existing
	default: // ConflictLatest
		if incoming.LastSeen.After(existing.LastSeen) {
			return incoming
		}
		return existing
	}
}

// QueryNode resolves a node ID to its owning station, checking the local
// store first and falling back to a network-wide NodeQueryMessage broadcast
// with a 5s timeout (spec.md §4.G).
func (m *Manager) QueryNode(ctx context.Context, nodeID int64) (*protocol.NodeQueryResponse, error) {
	if n, found, err := m.store.FindNode(nodeID, time.Now()); err != nil {
		return nil, err
	} else if found {
		return &protocol.NodeQueryResponse{TargetNodeID: nodeID, Found: true, StationID: n.StationID, LastSeen: n.LastSeen.UnixNano() / int64(time.Millisecond), IsOnline: n.IsOnline}, nil
	}

	ch := make(chan protocol.NodeQueryResponse, 1)
	m.mu.Lock()
	m.pendingQueries[nodeID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pendingQueries, nodeID)
		m.mu.Unlock()
	}()

	query := protocol.NodeQueryMessage{TargetNodeID: nodeID, SourceStationID: m.stationID, Timestamp: time.Now().UnixNano() / int64(time.Millisecond)}
	data, err := query.Marshal()
	if err != nil {
		return nil, bridgeerr.Validation("marshal node query", err)
	}
	for _, stationID := range m.peers.KnownStationIDs() {
		msg, err := protocol.CreateMessage(m.stationID, stationID, 0, 0, protocol.TypeSystem, data, protocol.CreateOptions{RequiresAck: boolPtr(false)})
		if err != nil {
			continue
		}
		_ = m.sender.SendMessage(ctx, msg)
	}

	timeout := time.NewTimer(nodeQueryTimeout)
	defer timeout.Stop()
	select {
	case resp := <-ch:
		return &resp, nil
	case <-timeout.C:
		return &protocol.NodeQueryResponse{TargetNodeID: nodeID, Found: false}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleQueryRequest answers an inbound NodeQueryMessage from the local
// store, if this station owns the target node.
func (m *Manager) HandleQueryRequest(query *protocol.NodeQueryMessage) protocol.NodeQueryResponse {
	n, found, err := m.store.FindNode(query.TargetNodeID, time.Now())
	if err != nil || !found || n.StationID != m.stationID {
		return protocol.NodeQueryResponse{TargetNodeID: query.TargetNodeID, Found: false}
	}
	return protocol.NodeQueryResponse{
		TargetNodeID: query.TargetNodeID,
		Found:        true,
		StationID:    n.StationID,
		LastSeen:     n.LastSeen.UnixNano() / int64(time.Millisecond),
		IsOnline:     n.IsOnline,
	}
}

// HandleQueryResponse completes a pending QueryNode call, if one is waiting
// on this node ID.
func (m *Manager) HandleQueryResponse(resp protocol.NodeQueryResponse) {
	m.mu.Lock()
	ch, ok := m.pendingQueries[resp.TargetNodeID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// syncChecksum is a stable 16-char prefix of SHA-256 over
// "nodeId:stationId:lastSeen"-pipe-joined pairs, per spec.md §4.G.
func syncChecksum(sync protocol.RegistrySyncMessage) string {
	pairs := make([]string, 0, len(sync.Nodes))
	for _, n := range sync.Nodes {
		pairs = append(pairs, fmt.Sprintf("%d:%s:%d", n.NodeID, sync.StationID, n.LastSeen))
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

func boolPtr(b bool) *bool { return &b }
