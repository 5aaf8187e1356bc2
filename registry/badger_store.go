package registry

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"time"

	"github.com/dgraph-io/badger"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/log"
)

var logger = log.NewModuleLogger(log.Registry)

const nodeKeyPrefix = "node:"

// badgerStore is the durable single-node backend, a thin open/close wrapper
// around one badger database.
type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (creating if absent) a badger database at dataDir.
func NewBadgerStore(dataDir string) (Store, error) {
	if fi, err := os.Stat(dataDir); err == nil {
		if !fi.IsDir() {
			return nil, bridgeerr.Validation("registry data dir is not a directory: "+dataDir, nil)
		}
	} else if os.IsNotExist(err) {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, bridgeerr.Validation("create registry data dir", err)
		}
	} else {
		return nil, bridgeerr.Validation("stat registry data dir", err)
	}

	opts := badger.DefaultOptions
	opts.Dir = dataDir
	opts.ValueDir = dataDir

	db, err := badger.Open(opts)
	if err != nil {
		return nil, bridgeerr.Validation("open registry badger db", err)
	}
	return &badgerStore{db: db}, nil
}

// badgerNodeKey encodes (nodeID, stationID) so a prefix scan on the 8-byte
// big-endian node ID finds every station's claim for it.
func badgerNodeKey(nodeID int64, stationID string) []byte {
	buf := make([]byte, len(nodeKeyPrefix)+8+1+len(stationID))
	n := copy(buf, nodeKeyPrefix)
	binary.BigEndian.PutUint64(buf[n:], uint64(nodeID))
	n += 8
	buf[n] = ':'
	n++
	copy(buf[n:], stationID)
	return buf
}

func badgerNodePrefix(nodeID int64) []byte {
	buf := make([]byte, len(nodeKeyPrefix)+8)
	n := copy(buf, nodeKeyPrefix)
	binary.BigEndian.PutUint64(buf[n:], uint64(nodeID))
	return buf
}

func (s *badgerStore) Upsert(node Node) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return bridgeerr.Validation("marshal node", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := txn.Set(badgerNodeKey(node.NodeID, node.StationID), raw); err != nil {
		return err
	}
	return txn.Commit(nil)
}

func (s *badgerStore) forEach(fn func(Node) bool) error {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(nodeKeyPrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		raw, err := it.Item().Value()
		if err != nil {
			return err
		}
		var n Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return bridgeerr.Validation("unmarshal node", err)
		}
		if !fn(n) {
			break
		}
	}
	return nil
}

func (s *badgerStore) forEachWithPrefix(prefix []byte, fn func(Node) bool) error {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		raw, err := it.Item().Value()
		if err != nil {
			return err
		}
		var n Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return bridgeerr.Validation("unmarshal node", err)
		}
		if !fn(n) {
			break
		}
	}
	return nil
}

func (s *badgerStore) NodesByNodeID(nodeID int64, now time.Time) ([]Node, error) {
	var out []Node
	err := s.forEachWithPrefix(badgerNodePrefix(nodeID), func(n Node) bool {
		if n.Live(now) {
			out = append(out, n)
		}
		return true
	})
	return out, err
}

func (s *badgerStore) FindNode(nodeID int64, now time.Time) (*Node, bool, error) {
	candidates, err := s.NodesByNodeID(nodeID, now)
	if err != nil {
		return nil, false, err
	}
	return pickWinner(candidates)
}

func (s *badgerStore) GetNodesByStation(stationID string, now time.Time) ([]Node, error) {
	var out []Node
	err := s.forEach(func(n Node) bool {
		if n.StationID == stationID && n.Live(now) {
			out = append(out, n)
		}
		return true
	})
	return out, err
}

func (s *badgerStore) Remove(nodeID int64, stationID string) (int, error) {
	var toDelete [][]byte
	err := s.forEachWithPrefix(badgerNodePrefix(nodeID), func(n Node) bool {
		if stationID == "" || n.StationID == stationID {
			toDelete = append(toDelete, badgerNodeKey(n.NodeID, n.StationID))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	for _, key := range toDelete {
		if err := txn.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := txn.Commit(nil); err != nil {
		return 0, err
	}
	return len(toDelete), nil
}

func (s *badgerStore) CleanupExpired(now time.Time) (int, error) {
	var expired []nodeKey
	if err := s.forEach(func(n Node) bool {
		if !n.Live(now) {
			expired = append(expired, nodeKey{n.NodeID, n.StationID})
		}
		return true
	}); err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range expired {
		n, err := s.Remove(k.nodeID, k.stationID)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *badgerStore) Close() error {
	if err := s.db.Close(); err != nil {
		logger.Error("failed to close registry database", "err", err)
		return err
	}
	logger.Info("registry database closed")
	return nil
}
