package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNodeTieBreaksByStationIDLexicographically(t *testing.T) {
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.Upsert(Node{NodeID: 1, StationID: "station-z", LastSeen: now}))
	require.NoError(t, s.Upsert(Node{NodeID: 1, StationID: "station-a", LastSeen: now}))

	n, found, err := s.FindNode(1, now)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "station-a", n.StationID)
}

func TestFindNodeIgnoresExpiredRows(t *testing.T) {
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.Upsert(Node{NodeID: 2, StationID: "station-a", LastSeen: now.Add(-time.Hour), TTL: 60}))

	_, found, err := s.FindNode(2, now)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCleanupExpiredRemovesOnlyExpiredRows(t *testing.T) {
	s := NewMemStore()
	now := time.Now()
	require.NoError(t, s.Upsert(Node{NodeID: 1, StationID: "a", LastSeen: now.Add(-time.Hour), TTL: 60}))
	require.NoError(t, s.Upsert(Node{NodeID: 2, StationID: "a", LastSeen: now, TTL: 600}))

	n, err := s.CleanupExpired(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := s.FindNode(2, now)
	require.NoError(t, err)
	assert.True(t, found)
}
