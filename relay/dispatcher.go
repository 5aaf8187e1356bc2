package relay

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/log"
	"github.com/stationbridge/bridge/protocol"
	"github.com/stationbridge/bridge/registry"
)

var logger = log.NewModuleLogger(log.Relay)

// Metadata keys relay uses to substring-match a registry row's human-
// readable names (spec.md §4.H "substring-match on long/short names").
// metadata itself is an opaque map in the registry's own terms; relay is
// simply the one component that assigns meaning to these two keys.
const (
	MetadataLongName  = "longName"
	MetadataShortName = "shortName"
)

// LocalNode is one row of the mesh radio's own node table.
type LocalNode struct {
	ID        int64
	LongName  string
	ShortName string
}

// LocalRadio is the mesh-radio boundary relay talks to. The radio driver
// itself is out of scope; this is the minimal capability relay needs.
type LocalRadio interface {
	Nodes() []LocalNode
	SendConfirmation(nodeID int64, text string) error
	SendToNode(nodeID int64, text string) error
}

// Sender is the bridge-client capability relay needs to forward a resolved
// relay message onward.
type Sender interface {
	SendUserMessage(ctx context.Context, toStation string, fromNode, toNode int64, text string, priority protocol.Priority) error
	SendSystemMessage(ctx context.Context, toStation, text string) error
	BroadcastNodeDiscovery(ctx context.Context, payload protocol.NodeDiscoveryPayload) []error
}

// StationLister supplies known peer station IDs for the station-fallback
// resolution step.
type StationLister interface {
	KnownStationIDs() []string
}

const nodeListRequestText = "NODE_LIST_REQUEST"

// Dispatcher is the relay dispatcher of spec.md §4.H.
type Dispatcher struct {
	stationID string
	radio     LocalRadio
	reg       *registry.Manager
	sender    Sender
	stations  StationLister
	dedup     *lru.Cache
}

// New builds a relay dispatcher.
func New(stationID string, radio LocalRadio, reg *registry.Manager, sender Sender, stations StationLister) *Dispatcher {
	return &Dispatcher{
		stationID: stationID,
		radio:     radio,
		reg:       reg,
		sender:    sender,
		stations:  stations,
		dedup:     newDedupCache(),
	}
}

// HandleLocalPacket classifies and dispatches one packet heard on the local
// mesh radio from fromNodeID (spec.md §4.H).
func (d *Dispatcher) HandleLocalPacket(ctx context.Context, fromNodeID int64, fromName string, text string) error {
	c := Classify(text)

	switch c.Kind {
	case KindInstructions:
		return d.radio.SendConfirmation(fromNodeID, "Send @<id or name> <message> to relay over the bridge.")
	case KindStatus:
		return d.radio.SendConfirmation(fromNodeID, "bridge online")
	case KindNodes:
		return d.replyWithNodeList(fromNodeID)
	case KindEcho:
		return d.radio.SendConfirmation(fromNodeID, fmt.Sprintf("🔊 Echo from %d (%s): %q", fromNodeID, fromName, text))
	}

	return d.handleRelay(ctx, fromNodeID, fromName, c.TargetID, c.Text)
}

func (d *Dispatcher) handleRelay(ctx context.Context, fromNodeID int64, fromName, targetID, text string) error {
	if local, ok := d.resolveLocal(targetID); ok {
		key := dedupKey(d.stationID, fromNodeID, local.ID, text)
		if d.dedup.Contains(key) {
			return nil
		}
		d.dedup.Add(key, struct{}{})

		delivered := fmt.Sprintf("📨 From %d (%s): %s", fromNodeID, fromName, text)
		if err := d.radio.SendToNode(local.ID, delivered); err != nil {
			return err
		}
		return d.radio.SendConfirmation(fromNodeID, fmt.Sprintf("✅ Message relayed to %d (%s) (local)", local.ID, localDisplayName(*local)))
	}

	if remote, ok, err := d.resolveRemote(targetID); err != nil {
		return err
	} else if ok {
		key := dedupKey(d.stationID, fromNodeID, remote.NodeID, text)
		if d.dedup.Contains(key) {
			return d.radio.SendConfirmation(fromNodeID, "duplicate, already relayed")
		}
		d.dedup.Add(key, struct{}{})

		prefixed := fmt.Sprintf("From %d (%s): %s", fromNodeID, fromName, text)
		if err := d.sender.SendUserMessage(ctx, remote.StationID, fromNodeID, remote.NodeID, prefixed, protocol.PriorityNormal); err != nil {
			return err
		}
		return d.radio.SendConfirmation(fromNodeID, fmt.Sprintf("✅ Message relayed to %s (remote via %s)", remoteDisplayName(*remote), remote.StationID))
	}

	if stationID, ok := d.resolveStationFallback(targetID); ok {
		key := dedupKey(d.stationID, fromNodeID, 0, text)
		if d.dedup.Contains(key) {
			return d.radio.SendConfirmation(fromNodeID, "duplicate, already relayed")
		}
		d.dedup.Add(key, struct{}{})

		prefixed := fmt.Sprintf("From %d (%s): %s", fromNodeID, fromName, text)
		if err := d.sender.SendUserMessage(ctx, stationID, fromNodeID, 0, prefixed, protocol.PriorityNormal); err != nil {
			return err
		}
		return d.radio.SendConfirmation(fromNodeID, fmt.Sprintf("✅ Message relayed to %s (station)", stationID))
	}

	return d.radio.SendConfirmation(fromNodeID, fmt.Sprintf("❌ Relay failed … no route to %s", targetID))
}

// localDisplayName picks the human-readable name a confirmation quotes for
// a resolved local node, preferring the long name.
func localDisplayName(n LocalNode) string {
	if n.LongName != "" {
		return n.LongName
	}
	return n.ShortName
}

// remoteDisplayName picks the human-readable name a confirmation quotes for
// a resolved registry row, preferring the long name.
func remoteDisplayName(n registry.Node) string {
	if name := n.Metadata[MetadataLongName]; name != "" {
		return name
	}
	if name := n.Metadata[MetadataShortName]; name != "" {
		return name
	}
	return strconv.FormatInt(n.NodeID, 10)
}

// resolveLocal implements spec.md §4.H resolution step 1: numeric targetId
// looks up the local radio's node table directly, otherwise a
// case-insensitive substring match on long/short names, first match wins.
func (d *Dispatcher) resolveLocal(targetID string) (*LocalNode, bool) {
	if id, err := strconv.ParseInt(targetID, 10, 64); err == nil {
		for _, n := range d.radio.Nodes() {
			if n.ID == id {
				node := n
				return &node, true
			}
		}
		return nil, false
	}
	needle := strings.ToLower(targetID)
	for _, n := range d.radio.Nodes() {
		if strings.Contains(strings.ToLower(n.LongName), needle) || strings.Contains(strings.ToLower(n.ShortName), needle) {
			node := n
			return &node, true
		}
	}
	return nil, false
}

// resolveRemote implements spec.md §4.H resolution step 2 over the
// registry's non-local rows. A numeric targetID matches only when the
// winning row for that node ID is non-local. A name is matched only against
// rows of the stations StationLister currently reports; rows of other
// stations are not searched. First match wins.
func (d *Dispatcher) resolveRemote(targetID string) (*registry.Node, bool, error) {
	if id, err := strconv.ParseInt(targetID, 10, 64); err == nil {
		n, found, err := d.reg.FindNode(id)
		if err != nil {
			return nil, false, err
		}
		if found && n.StationID != d.stationID {
			return n, true, nil
		}
		return nil, false, nil
	}

	needle := strings.ToLower(targetID)
	for _, stationID := range d.stations.KnownStationIDs() {
		rows, err := d.reg.GetNodesByStation(stationID)
		if err != nil {
			return nil, false, err
		}
		for i := range rows {
			long := strings.ToLower(rows[i].Metadata[MetadataLongName])
			short := strings.ToLower(rows[i].Metadata[MetadataShortName])
			if strings.Contains(long, needle) || strings.Contains(short, needle) {
				return &rows[i], true, nil
			}
		}
	}
	return nil, false, nil
}

// resolveStationFallback implements spec.md §4.H resolution step 3.
func (d *Dispatcher) resolveStationFallback(targetID string) (string, bool) {
	for _, stationID := range d.stations.KnownStationIDs() {
		if stationID == targetID {
			return stationID, true
		}
	}
	return "", false
}

func (d *Dispatcher) replyWithNodeList(fromNodeID int64) error {
	var sb strings.Builder
	for _, n := range d.radio.Nodes() {
		sb.WriteString(n.ShortName)
		sb.WriteString(" ")
	}
	return d.radio.SendConfirmation(fromNodeID, strings.TrimSpace(sb.String()))
}

// HandlePeerDiscovered implements spec.md §4.H "On peer discovery": request
// the remote station's node list and push our own.
func (d *Dispatcher) HandlePeerDiscovered(ctx context.Context, stationID string) error {
	if err := d.sender.SendSystemMessage(ctx, stationID, nodeListRequestText); err != nil {
		return err
	}

	own, err := d.reg.GetNodesByStation(d.stationID)
	if err != nil {
		return err
	}
	nodes := make([]protocol.DiscoveredNode, 0, len(own))
	for _, n := range own {
		nodes = append(nodes, protocol.DiscoveredNode{
			NodeID:   n.NodeID,
			Name:     n.Metadata[MetadataLongName],
			LastSeen: n.LastSeen.UnixNano() / 1e6,
		})
	}
	errs := d.sender.BroadcastNodeDiscovery(ctx, protocol.NodeDiscoveryPayload{Nodes: nodes, StationID: d.stationID, Timestamp: nowMillis()})
	if len(errs) > 0 {
		return bridgeerr.Network(bridgeerr.ReasonNone, "node discovery broadcast had failures", errs[0])
	}
	return nil
}

// HandlePeerLost implements spec.md §4.H "On peer loss": remove all remote
// registry rows owned by that station.
func (d *Dispatcher) HandlePeerLost(stationID string) error {
	return d.reg.HandlePeerLost(stationID)
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
