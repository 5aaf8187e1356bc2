package registry

import (
	"encoding/json"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"

	"github.com/stationbridge/bridge/bridgeerr"
)

// nodeRow is the gorm model backing sqlStore, keyed by (NodeID, StationID)
// exactly as spec.md §4.G's upsert collision key requires.
type nodeRow struct {
	NodeID    int64  `gorm:"primary_key;column:node_id"`
	StationID string `gorm:"primary_key;column:station_id"`
	LastSeen  int64  `gorm:"column:last_seen"`
	IsOnline  bool   `gorm:"column:is_online"`
	Metadata  string `gorm:"column:metadata"`
	TTL       int    `gorm:"column:ttl"`
}

func (nodeRow) TableName() string { return "registry_nodes" }

func (r nodeRow) toNode() (Node, error) {
	var meta map[string]string
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return Node{}, bridgeerr.Validation("unmarshal node metadata", err)
		}
	}
	return Node{
		NodeID:    r.NodeID,
		StationID: r.StationID,
		LastSeen:  time.Unix(r.LastSeen, 0),
		IsOnline:  r.IsOnline,
		Metadata:  meta,
		TTL:       r.TTL,
	}, nil
}

func nodeToRow(n Node) (nodeRow, error) {
	meta := ""
	if len(n.Metadata) > 0 {
		raw, err := json.Marshal(n.Metadata)
		if err != nil {
			return nodeRow{}, bridgeerr.Validation("marshal node metadata", err)
		}
		meta = string(raw)
	}
	return nodeRow{
		NodeID:    n.NodeID,
		StationID: n.StationID,
		LastSeen:  n.LastSeen.Unix(),
		IsOnline:  n.IsOnline,
		Metadata:  meta,
		TTL:       n.TTL,
	}, nil
}

// sqlStore is the MySQL-backed durable store, used when
// REGISTRY_BACKEND=sql (spec.md §6).
type sqlStore struct {
	db *gorm.DB
}

// NewSQLStore opens a MySQL connection via dsn and migrates the registry
// table.
func NewSQLStore(dsn string) (Store, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, bridgeerr.Validation("open registry sql db", err)
	}
	db.AutoMigrate(&nodeRow{})
	return &sqlStore{db: db}, nil
}

func (s *sqlStore) Upsert(node Node) error {
	row, err := nodeToRow(node)
	if err != nil {
		return err
	}
	return s.db.Save(&row).Error
}

func (s *sqlStore) NodesByNodeID(nodeID int64, now time.Time) ([]Node, error) {
	var rows []nodeRow
	if err := s.db.Where("node_id = ?", nodeID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return liveNodes(rows, now)
}

func (s *sqlStore) FindNode(nodeID int64, now time.Time) (*Node, bool, error) {
	candidates, err := s.NodesByNodeID(nodeID, now)
	if err != nil {
		return nil, false, err
	}
	return pickWinner(candidates)
}

func (s *sqlStore) GetNodesByStation(stationID string, now time.Time) ([]Node, error) {
	var rows []nodeRow
	if err := s.db.Where("station_id = ?", stationID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return liveNodes(rows, now)
}

func liveNodes(rows []nodeRow, now time.Time) ([]Node, error) {
	out := make([]Node, 0, len(rows))
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return nil, err
		}
		if n.Live(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (s *sqlStore) Remove(nodeID int64, stationID string) (int, error) {
	q := s.db.Where("node_id = ?", nodeID)
	if stationID != "" {
		q = q.Where("station_id = ?", stationID)
	}
	result := q.Delete(&nodeRow{})
	return int(result.RowsAffected), result.Error
}

func (s *sqlStore) CleanupExpired(now time.Time) (int, error) {
	var rows []nodeRow
	if err := s.db.Find(&rows).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range rows {
		n, err := r.toNode()
		if err != nil {
			return removed, err
		}
		if !n.Live(now) {
			if _, err := s.Remove(n.NodeID, n.StationID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
