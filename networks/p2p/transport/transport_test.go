package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationbridge/bridge/config"
	"github.com/stationbridge/bridge/protocol"
)

func testP2PConfig() config.P2P {
	return config.P2P{
		ListenPort:        0,
		MaxConnections:    10,
		ConnectionTimeout: time.Second,
		RetryAttempts:     2,
		RetryBaseDelay:    time.Millisecond,
		KeepAliveInterval: time.Second,
		MaxFrameBytes:     1 << 20,
	}
}

func TestOnMessageDispatchesByPayloadType(t *testing.T) {
	tr := &Transport{handlers: make(map[protocol.PayloadType]Handler)}

	var gotHeartbeat, gotFallback bool
	tr.OnMessage(protocol.TypeHeartbeat, func(msg *protocol.Message) { gotHeartbeat = true })
	tr.OnUnhandledMessage(func(msg *protocol.Message) { gotFallback = true })

	hbMsg, err := protocol.CreateMessage("a", "b", 0, 0, protocol.TypeHeartbeat, "{}", protocol.CreateOptions{})
	require.NoError(t, err)
	raw, err := protocol.Serialize(hbMsg)
	require.NoError(t, err)
	tr.onRawMessage("a", raw)
	assert.True(t, gotHeartbeat)
	assert.False(t, gotFallback)

	sysMsg, err := protocol.CreateMessage("a", "b", 0, 0, protocol.TypeSystem, "{}", protocol.CreateOptions{})
	require.NoError(t, err)
	raw2, err := protocol.Serialize(sysMsg)
	require.NoError(t, err)
	tr.onRawMessage("a", raw2)
	assert.True(t, gotFallback)
}

func TestOnRawMessageDropsExpired(t *testing.T) {
	tr := &Transport{handlers: make(map[protocol.PayloadType]Handler)}
	called := false
	tr.OnUnhandledMessage(func(msg *protocol.Message) { called = true })

	msg, err := protocol.CreateMessage("a", "b", 0, 0, protocol.TypeSystem, "{}", protocol.CreateOptions{TTL: 1})
	require.NoError(t, err)
	msg.Timestamp -= int64(2 * time.Hour / time.Millisecond)
	raw, err := protocol.Serialize(msg)
	require.NoError(t, err)

	tr.onRawMessage("a", raw)
	assert.False(t, called)
}

type staticResolver struct {
	host string
	port int
	err  error
}

func (r staticResolver) ResolveEndpoint(stationID string) (string, int, error) {
	return r.host, r.port, r.err
}
