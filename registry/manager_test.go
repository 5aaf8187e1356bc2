package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/protocol"
)

type noopSender struct{ sent []*protocol.Message }

func (s *noopSender) SendMessage(ctx context.Context, msg *protocol.Message) error {
	s.sent = append(s.sent, msg)
	return nil
}

type staticPeers struct{ ids []string }

func (p staticPeers) KnownStationIDs() []string { return p.ids }

func testRegistryConfig() config.Registry {
	return config.Registry{
		SyncInterval:      time.Hour,
		CleanupInterval:   time.Hour,
		ConflictStrategy:  "latest",
		ConflictRetention: 24 * time.Hour,
	}
}

func TestRegisterLocalNodeAndFindNode(t *testing.T) {
	m := NewManager("station-a", testRegistryConfig(), NewMemStore(), NewMemConflictLog(), &noopSender{}, staticPeers{}, Callbacks{})
	require.NoError(t, m.RegisterLocalNode(42, nil, 300, true))

	n, found, err := m.FindNode(42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "station-a", n.StationID)
	assert.Equal(t, int64(1), m.RegistryVersion())
}

func TestUpdateLocalNodeNoOpForRemoteOwnedRow(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Upsert(Node{NodeID: 5, StationID: "station-b", LastSeen: time.Now()}))
	m := NewManager("station-a", testRegistryConfig(), store, NewMemConflictLog(), &noopSender{}, staticPeers{}, Callbacks{})

	require.NoError(t, m.UpdateLocalNode(5, nil, 60, true))
	n, found, err := m.FindNode(5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "station-b", n.StationID)
	assert.Equal(t, int64(0), m.RegistryVersion())
}

func TestHandleSyncRejectsBadChecksum(t *testing.T) {
	m := NewManager("station-a", testRegistryConfig(), NewMemStore(), NewMemConflictLog(), &noopSender{}, staticPeers{}, Callbacks{})
	sync := &protocol.RegistrySyncMessage{StationID: "station-b", Nodes: []protocol.RegistrySyncNode{{NodeID: 1}}, Checksum: "bogus"}
	err := m.HandleSync(sync)
	require.Error(t, err)
}

func TestHandleSyncResolvesConflictLatestWins(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Upsert(Node{NodeID: 7, StationID: "station-a", LastSeen: time.Now().Add(-time.Hour)}))

	m := NewManager("station-a", testRegistryConfig(), store, NewMemConflictLog(), &noopSender{}, staticPeers{}, Callbacks{})

	sync := &protocol.RegistrySyncMessage{
		StationID: "station-b",
		Nodes:     []protocol.RegistrySyncNode{{NodeID: 7, LastSeen: time.Now().UnixNano() / int64(time.Millisecond)}},
	}
	sync.Checksum = syncChecksum(*sync)

	require.NoError(t, m.HandleSync(sync))

	n, found, err := m.FindNode(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "station-b", n.StationID)
}

func TestQueryNodeReturnsLocalHitWithoutBroadcast(t *testing.T) {
	sender := &noopSender{}
	store := NewMemStore()
	require.NoError(t, store.Upsert(Node{NodeID: 3, StationID: "station-a", LastSeen: time.Now()}))

	m := NewManager("station-a", testRegistryConfig(), store, NewMemConflictLog(), sender, staticPeers{ids: []string{"station-b"}}, Callbacks{})

	resp, err := m.QueryNode(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, "station-a", resp.StationID)
	assert.Empty(t, sender.sent)
}

func TestQueryNodeBroadcastsAndAwaitsResponse(t *testing.T) {
	sender := &noopSender{}
	m := NewManager("station-a", testRegistryConfig(), NewMemStore(), NewMemConflictLog(), sender, staticPeers{ids: []string{"station-b"}}, Callbacks{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.HandleQueryResponse(protocol.NodeQueryResponse{TargetNodeID: 9, Found: true, StationID: "station-b"})
	}()

	resp, err := m.QueryNode(context.Background(), 9)
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, "station-b", resp.StationID)
	assert.Len(t, sender.sent, 1)
}

func TestHandlePeerLostRemovesRemoteRows(t *testing.T) {
	store := NewMemStore()
	require.NoError(t, store.Upsert(Node{NodeID: 1, StationID: "station-b", LastSeen: time.Now()}))
	require.NoError(t, store.Upsert(Node{NodeID: 2, StationID: "station-b", LastSeen: time.Now()}))
	require.NoError(t, store.Upsert(Node{NodeID: 3, StationID: "station-a", LastSeen: time.Now()}))

	m := NewManager("station-a", testRegistryConfig(), store, NewMemConflictLog(), &noopSender{}, staticPeers{}, Callbacks{})
	require.NoError(t, m.HandlePeerLost("station-b"))

	rows, err := m.GetNodesByStation("station-b")
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = m.GetNodesByStation("station-a")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
