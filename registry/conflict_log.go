package registry

import (
	"encoding/binary"
	"encoding/json"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/stationbridge/bridge/bridgeerr"
)

// leveldbConflictLog is the append-only conflict audit trail of spec.md
// §4.G, kept in a small leveldb instance beside the node Store (the badger
// and sql backends both use it; the in-memory backend uses memConflictLog).
type leveldbConflictLog struct {
	db  *leveldb.DB
	seq uint64
}

// NewLevelDBConflictLog opens (creating if absent) a leveldb database at dir.
func NewLevelDBConflictLog(dir string) (ConflictLog, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, bridgeerr.Validation("open conflict audit log", err)
	}
	l := &leveldbConflictLog{db: db}
	iter := db.NewIterator(nil, nil)
	if iter.Last() {
		l.seq = binary.BigEndian.Uint64(iter.Key())
	}
	iter.Release()
	return l, nil
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func (l *leveldbConflictLog) Record(rec ConflictRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return bridgeerr.Validation("marshal conflict record", err)
	}
	l.seq++
	return l.db.Put(seqKey(l.seq), raw, nil)
}

// Recent returns up to limit most-recently-recorded conflicts, oldest first.
func (l *leveldbConflictLog) Recent(limit int) ([]ConflictRecord, error) {
	iter := l.db.NewIterator(&util.Range{}, nil)
	defer iter.Release()

	var all []ConflictRecord
	for iter.Next() {
		var rec ConflictRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, bridgeerr.Validation("unmarshal conflict record", err)
		}
		all = append(all, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(all) {
		return all, nil
	}
	return all[len(all)-limit:], nil
}

func (l *leveldbConflictLog) Close() error {
	return l.db.Close()
}
