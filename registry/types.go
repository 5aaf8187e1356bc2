// Package registry implements the node registry of spec.md §4.G: a
// per-station table of mesh nodes learned locally or via sync broadcasts
// from peer stations, with periodic cleanup of expired rows, pluggable
// durable backends, and conflict resolution when two stations claim the
// same node ID.
package registry

import "time"

// Node is one row of the registry, keyed by (NodeID, StationID) — the same
// node ID may legitimately appear under more than one station, which is a
// conflict resolved by Manager.HandleSync (spec.md §3).
type Node struct {
	NodeID    int64             `json:"nodeId"`
	StationID string            `json:"stationId"`
	LastSeen  time.Time         `json:"lastSeen"`
	IsOnline  bool              `json:"isOnline"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TTL       int               `json:"ttl"`
}

// Live reports whether now <= lastSeen+ttl, per spec.md §3/§4.G. A
// non-positive TTL never expires.
func (n Node) Live(now time.Time) bool {
	if n.TTL <= 0 {
		return true
	}
	return !now.After(n.LastSeen.Add(time.Duration(n.TTL) * time.Second))
}

// ConflictStrategy is the closed set of resolution policies of spec.md §4.G.
type ConflictStrategy string

const (
	ConflictLatest          ConflictStrategy = "latest"
	ConflictStationPriority ConflictStrategy = "station_priority"
	ConflictFirstSeen       ConflictStrategy = "first_seen"
)

// ConflictRecord is one append-only audit-log row (spec.md §3: "Conflict
// Record. Historical audit row").
type ConflictRecord struct {
	NodeID            int64            `json:"nodeId"`
	ConflictingEntries []Node          `json:"conflictingEntries"`
	ResolvedEntry     Node             `json:"resolvedEntry"`
	Strategy          ConflictStrategy `json:"strategy"`
	Timestamp         time.Time        `json:"timestamp"`
}
