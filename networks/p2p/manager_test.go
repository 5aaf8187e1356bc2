package p2p

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekFromStation(t *testing.T) {
	raw := []byte(`{"routing":{"fromStation":"station-a","toStation":"station-b"}}`)
	id, ok := peekFromStation(raw)
	require.True(t, ok)
	assert.Equal(t, "station-a", id)

	_, ok = peekFromStation([]byte(`not json`))
	assert.False(t, ok)

	_, ok = peekFromStation([]byte(`{"routing":{}}`))
	assert.False(t, ok)
}

func TestTCPWireFrameRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sw := newTCPWire(server)
	cw := newTCPWire(client)

	done := make(chan struct{})
	var got []byte
	var readErr error
	go func() {
		got, readErr = cw.ReadFrame(0)
		close(done)
	}()

	require.NoError(t, sw.WriteFrame([]byte(`{"hello":"world"}`)))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	require.NoError(t, readErr)
	assert.Equal(t, `{"hello":"world"}`, string(got))
}

func TestTCPWireRejectsOversizedFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sw := newTCPWire(server)
	cw := newTCPWire(client)

	go sw.WriteFrame([]byte("0123456789"))

	_, err := cw.ReadFrame(4)
	require.Error(t, err)
}

func TestManagerConnectionLifecycle(t *testing.T) {
	m := &Manager{connections: make(map[string]*Connection), stopCh: make(chan struct{})}

	server, client := net.Pipe()
	defer client.Close()

	conn := &Connection{peerID: "station-x", status: StatusConnected, wire: newTCPWire(server), lastActivity: time.Now()}
	m.connections["station-x"] = conn

	got, ok := m.Connection("station-x")
	require.True(t, ok)
	assert.Equal(t, conn, got)

	m.closeAndForget(conn)
	_, ok = m.Connection("station-x")
	assert.False(t, ok)
}
