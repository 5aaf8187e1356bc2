package registry

import "time"

// Store is the durable backend behind the registry (spec.md §4.G). Three
// concrete implementations exist: an in-memory map for tests and
// LOCAL_TESTING mode, a badger-backed store for single-node deployments, and
// a gorm/MySQL-backed store when REGISTRY_BACKEND=sql.
type Store interface {
	// Upsert replaces on (NodeID, StationID) collision, otherwise inserts.
	Upsert(node Node) error

	// FindNode returns, among live rows matching nodeID across every
	// station, the one with the largest LastSeen, ties broken by StationID
	// lexicographically ascending.
	FindNode(nodeID int64, now time.Time) (*Node, bool, error)

	// NodesByNodeID returns every live row claiming nodeID, regardless of
	// station — used to detect cross-station conflicts.
	NodesByNodeID(nodeID int64, now time.Time) ([]Node, error)

	// GetNodesByStation returns every live row owned by stationID.
	GetNodesByStation(stationID string, now time.Time) ([]Node, error)

	// Remove deletes every row matching nodeID, scoped to stationID when
	// non-empty, and returns the number removed. Expired rows are deleted
	// and counted as well as live ones.
	Remove(nodeID int64, stationID string) (int, error)

	// CleanupExpired physically purges rows past their TTL.
	CleanupExpired(now time.Time) (int, error)

	Close() error
}

// ConflictLog is the append-only audit trail of resolved ownership
// conflicts, kept separate from Store (spec.md §4.G "conflict audit
// table"). The badger and sql backends share the leveldb implementation;
// the in-memory backend pairs with memConflictLog.
type ConflictLog interface {
	Record(rec ConflictRecord) error
	Recent(limit int) ([]ConflictRecord, error)
	Close() error
}
