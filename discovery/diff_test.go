package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiffEmitsDiscoveredAndLost(t *testing.T) {
	var discovered, lost []string
	c := &Client{
		knownPeers: make(map[string]Peer),
		callbacks: Callbacks{
			OnPeerDiscovered: func(p Peer) { discovered = append(discovered, p.StationID) },
			OnPeerLost:       func(id string) { lost = append(lost, id) },
		},
	}

	c.diff(map[string]Peer{
		"station-a": {StationID: "station-a", LastSeen: time.Now()},
		"station-b": {StationID: "station-b", LastSeen: time.Now()},
	})
	assert.ElementsMatch(t, []string{"station-a", "station-b"}, discovered)
	assert.Empty(t, lost)

	discovered = nil
	c.diff(map[string]Peer{
		"station-a": {StationID: "station-a", LastSeen: time.Now()},
	})
	assert.Empty(t, discovered)
	assert.Equal(t, []string{"station-b"}, lost)
}

func TestDiffDoesNotRediscoverKnownPeer(t *testing.T) {
	var discoveredCount int
	c := &Client{
		knownPeers: make(map[string]Peer),
		callbacks: Callbacks{
			OnPeerDiscovered: func(p Peer) { discoveredCount++ },
		},
	}
	peers := map[string]Peer{"station-a": {StationID: "station-a"}}
	c.diff(peers)
	c.diff(peers)
	assert.Equal(t, 1, discoveredCount)
}
