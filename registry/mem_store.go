package registry

import (
	"sort"
	"sync"
	"time"
)

type nodeKey struct {
	nodeID    int64
	stationID string
}

// memStore is the in-memory backend used for LOCAL_TESTING and unit tests.
type memStore struct {
	mu    sync.RWMutex
	nodes map[nodeKey]Node
}

// NewMemStore builds an in-memory Store.
func NewMemStore() Store {
	return &memStore{nodes: make(map[nodeKey]Node)}
}

func (s *memStore) Upsert(node Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[nodeKey{node.NodeID, node.StationID}] = node
	return nil
}

func (s *memStore) NodesByNodeID(nodeID int64, now time.Time) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for k, n := range s.nodes {
		if k.nodeID == nodeID && n.Live(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) FindNode(nodeID int64, now time.Time) (*Node, bool, error) {
	candidates, _ := s.NodesByNodeID(nodeID, now)
	return pickWinner(candidates)
}

func (s *memStore) GetNodesByStation(stationID string, now time.Time) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for k, n := range s.nodes {
		if k.stationID == stationID && n.Live(now) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *memStore) Remove(nodeID int64, stationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k := range s.nodes {
		if k.nodeID != nodeID {
			continue
		}
		if stationID != "" && k.stationID != stationID {
			continue
		}
		delete(s.nodes, k)
		removed++
	}
	return removed, nil
}

func (s *memStore) CleanupExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, n := range s.nodes {
		if !n.Live(now) {
			delete(s.nodes, k)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) Close() error { return nil }

// pickWinner applies the findNode tie-break of spec.md §4.G: largest
// LastSeen, ties broken by StationID lexicographically ascending.
func pickWinner(candidates []Node) (*Node, bool, error) {
	if len(candidates) == 0 {
		return nil, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastSeen.Equal(candidates[j].LastSeen) {
			return candidates[i].LastSeen.After(candidates[j].LastSeen)
		}
		return candidates[i].StationID < candidates[j].StationID
	})
	winner := candidates[0]
	return &winner, true, nil
}

// memConflictLog is the in-memory ConflictLog paired with memStore.
type memConflictLog struct {
	mu      sync.Mutex
	records []ConflictRecord
}

func NewMemConflictLog() ConflictLog {
	return &memConflictLog{}
}

func (l *memConflictLog) Record(rec ConflictRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *memConflictLog) Recent(limit int) ([]ConflictRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.records) {
		limit = len(l.records)
	}
	out := make([]ConflictRecord, limit)
	copy(out, l.records[len(l.records)-limit:])
	return out, nil
}

func (l *memConflictLog) Close() error { return nil }
