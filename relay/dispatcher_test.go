package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/protocol"
	"github.com/stationbridge/bridge/registry"
)

type fakeRadio struct {
	nodes         []LocalNode
	confirmations []string
	deliveries    []string
}

func (r *fakeRadio) Nodes() []LocalNode { return r.nodes }
func (r *fakeRadio) SendConfirmation(nodeID int64, text string) error {
	r.confirmations = append(r.confirmations, text)
	return nil
}
func (r *fakeRadio) SendToNode(nodeID int64, text string) error {
	r.deliveries = append(r.deliveries, text)
	return nil
}

type fakeSender struct {
	userMessages []string
}

func (s *fakeSender) SendUserMessage(ctx context.Context, toStation string, fromNode, toNode int64, text string, priority protocol.Priority) error {
	s.userMessages = append(s.userMessages, toStation+":"+text)
	return nil
}
func (s *fakeSender) SendSystemMessage(ctx context.Context, toStation, text string) error { return nil }
func (s *fakeSender) BroadcastNodeDiscovery(ctx context.Context, payload protocol.NodeDiscoveryPayload) []error {
	return nil
}

type fakeStations struct{ ids []string }

func (f fakeStations) KnownStationIDs() []string { return f.ids }

func testRegistryCfg() config.Registry {
	return config.Registry{SyncInterval: time.Hour, CleanupInterval: time.Hour, ConflictStrategy: "latest"}
}

func TestHandleLocalPacketRelaysToRemoteNode(t *testing.T) {
	store := registry.NewMemStore()
	require.NoError(t, store.Upsert(registry.Node{
		NodeID: 99, StationID: "station-b", LastSeen: time.Now(),
		Metadata: map[string]string{MetadataLongName: "Repeater One", MetadataShortName: "rep1"},
	}))
	reg := registry.NewManager("station-a", testRegistryCfg(), store, registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})

	radio := &fakeRadio{}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{ids: []string{"station-b"}})

	err := d.HandleLocalPacket(context.Background(), 1, "alice", "@rep1 hello")
	require.NoError(t, err)
	require.Len(t, sender.userMessages, 1)
	assert.Contains(t, sender.userMessages[0], "station-b:From 1 (alice): hello")
	require.Len(t, radio.confirmations, 1)
	assert.Contains(t, radio.confirmations[0], "relayed to Repeater One (remote via station-b)")
}

func TestHandleLocalPacketRelaysToLocalNodeByName(t *testing.T) {
	reg := registry.NewManager("station-a", testRegistryCfg(), registry.NewMemStore(), registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})
	radio := &fakeRadio{nodes: []LocalNode{{ID: 789, LongName: "Bob Mobile", ShortName: "bob"}}}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{})

	err := d.HandleLocalPacket(context.Background(), 456, "Alice", "@bob ping")
	require.NoError(t, err)
	assert.Empty(t, sender.userMessages)
	require.Len(t, radio.deliveries, 1)
	assert.Equal(t, "📨 From 456 (Alice): ping", radio.deliveries[0])
	require.Len(t, radio.confirmations, 1)
	assert.Equal(t, "✅ Message relayed to 789 (Bob Mobile) (local)", radio.confirmations[0])
}

func TestHandleLocalPacketStationFallback(t *testing.T) {
	reg := registry.NewManager("station-a", testRegistryCfg(), registry.NewMemStore(), registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})
	radio := &fakeRadio{}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{ids: []string{"station-xyz"}})

	err := d.HandleLocalPacket(context.Background(), 1, "bob", "@station-xyz ping")
	require.NoError(t, err)
	require.Len(t, sender.userMessages, 1)
	assert.Equal(t, "station-xyz:From 1 (bob): ping", sender.userMessages[0])
}

func TestHandleLocalPacketNoRoute(t *testing.T) {
	reg := registry.NewManager("station-a", testRegistryCfg(), registry.NewMemStore(), registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})
	radio := &fakeRadio{}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{})

	err := d.HandleLocalPacket(context.Background(), 1, "bob", "@nobody ping")
	require.NoError(t, err)
	assert.Empty(t, sender.userMessages)
	require.Len(t, radio.confirmations, 1)
	assert.Contains(t, radio.confirmations[0], "no route")
}

func TestHandleLocalPacketDedupsRepeatedRelay(t *testing.T) {
	reg := registry.NewManager("station-a", testRegistryCfg(), registry.NewMemStore(), registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})
	radio := &fakeRadio{}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{ids: []string{"station-xyz"}})

	require.NoError(t, d.HandleLocalPacket(context.Background(), 1, "bob", "@station-xyz ping"))
	require.NoError(t, d.HandleLocalPacket(context.Background(), 1, "bob", "@station-xyz ping"))
	assert.Len(t, sender.userMessages, 1)
}

func TestHandleLocalPacketEchoesFreeText(t *testing.T) {
	reg := registry.NewManager("station-a", testRegistryCfg(), registry.NewMemStore(), registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})
	radio := &fakeRadio{}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{})

	err := d.HandleLocalPacket(context.Background(), 456, "Alice", "hello")
	require.NoError(t, err)
	require.Len(t, radio.confirmations, 1)
	assert.Equal(t, `🔊 Echo from 456 (Alice): "hello"`, radio.confirmations[0])
}

func TestClassifyInstructionsRepliesLocally(t *testing.T) {
	reg := registry.NewManager("station-a", testRegistryCfg(), registry.NewMemStore(), registry.NewMemConflictLog(), nil, fakeStations{}, registry.Callbacks{})
	radio := &fakeRadio{}
	sender := &fakeSender{}
	d := New("station-a", radio, reg, sender, fakeStations{})

	require.NoError(t, d.HandleLocalPacket(context.Background(), 1, "bob", "help"))
	assert.Empty(t, sender.userMessages)
	require.Len(t, radio.confirmations, 1)
}
