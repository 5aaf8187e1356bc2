package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMessageDefaults(t *testing.T) {
	msg, err := CreateMessage("station-a", "station-b", 1, 2, TypeUserMessage, "hello", CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, msg.Delivery.Priority)
	assert.Equal(t, defaultTTLSeconds, msg.Delivery.TTL)
	assert.True(t, msg.Delivery.RequiresAck)
	assert.Equal(t, defaultMaxRetries, msg.Delivery.MaxRetries)
	assert.Equal(t, 0, msg.Delivery.RetryCount)
	assert.NotEmpty(t, msg.MessageID)
}

func TestRoundTrip(t *testing.T) {
	msg, err := CreateMessage("station-a", "station-b", 1, 2, TypeUserMessage, "hello", CreateOptions{})
	require.NoError(t, err)

	raw, err := Serialize(msg)
	require.NoError(t, err)

	got, err := Deserialize(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDeserializeInvalidFormat(t *testing.T) {
	_, err := Deserialize([]byte(`{"version":"1.0.0"}`))
	require.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	msg := &Message{Timestamp: now.UnixNano() / int64(time.Millisecond), Delivery: Delivery{TTL: 1}}
	assert.False(t, IsExpired(msg, now))
	assert.True(t, IsExpired(msg, now.Add(2*time.Second)))
}

func TestRetryDelaySchedule(t *testing.T) {
	base := time.Second
	prev := time.Duration(0)
	for n := 0; n < 10; n++ {
		d := RetryDelay(n, base)
		if d < maxRetryDelay {
			assert.Greater(t, d, prev)
		}
		assert.LessOrEqual(t, d, maxRetryDelay)
		prev = d
	}
	assert.Equal(t, maxRetryDelay, RetryDelay(100, base))
}

func TestHopListRejectsDuplicateFromStation(t *testing.T) {
	msg, err := CreateMessage("station-a", "station-b", 0, 0, TypeHeartbeat, "", CreateOptions{
		Hops: []string{"station-a", "station-a"},
	})
	require.Error(t, err)
	assert.Nil(t, msg)
}
