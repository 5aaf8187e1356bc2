package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactEnvelopeRoundTrip(t *testing.T) {
	key := DeriveDiscoveryKey("super-secret-network-key", "my-network", 1000)
	info := ContactInfo{IP: "198.51.100.7", Port: 8447, PublicKey: "pub-key-material", LastSeen: 123456}

	sealed, err := SealContactEnvelope(info, key)
	require.NoError(t, err)

	opened, err := OpenContactEnvelope(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, info, *opened)
}

func TestContactEnvelopeWrongKeyFails(t *testing.T) {
	key := DeriveDiscoveryKey("secret-one", "net", 1000)
	other := DeriveDiscoveryKey("secret-two", "net", 1000)
	info := ContactInfo{IP: "10.0.0.1", Port: 1, PublicKey: "x", LastSeen: 1}

	sealed, err := SealContactEnvelope(info, key)
	require.NoError(t, err)

	_, err = OpenContactEnvelope(sealed, other)
	require.Error(t, err)
}

func TestHybridRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cleartext := []byte(`{"msg":"hello station"}`)
	env, err := SealHybrid(cleartext, &priv.PublicKey)
	require.NoError(t, err)

	got, err := OpenHybrid(env, priv)
	require.NoError(t, err)
	assert.Equal(t, cleartext, got)
}

func TestHMACSignVerify(t *testing.T) {
	key := []byte("hmac-key")
	data := []byte("payload")
	sig := Sign(key, data)
	assert.True(t, Verify(key, data, sig))
	assert.False(t, Verify(key, []byte("tampered"), sig))
}

func TestValidateFreshness(t *testing.T) {
	now := time.Now()
	ts := now.Add(-5 * time.Second).UnixNano() / int64(time.Millisecond)
	assert.True(t, ValidateFreshness(ts, now, 10*time.Second))
	assert.False(t, ValidateFreshness(ts, now, 1*time.Second))

	future := now.Add(5 * time.Second).UnixNano() / int64(time.Millisecond)
	assert.False(t, ValidateFreshness(future, now, 10*time.Second))
}

func TestNewMessageIDFormat(t *testing.T) {
	id, err := NewMessageID(time.Now())
	require.NoError(t, err)
	assert.Contains(t, id, "-")
}
