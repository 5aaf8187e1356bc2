package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/stationbridge/bridge/bridgeerr"
)

// HybridEnvelope is the wire shape of a hybrid-sealed message payload
// (spec.md §4.A.2): a one-shot symmetric key encrypted to the recipient's
// public key with OAEP, plus the AEAD-sealed cleartext.
type HybridEnvelope struct {
	EncryptedKey     string `json:"encryptedKey"`
	IV               string `json:"iv"`
	AuthTag          string `json:"authTag"`
	EncryptedMessage string `json:"encryptedMessage"`
}

// SealHybrid encrypts cleartext for recipientPub: a fresh AES-256 key and
// GCM IV are generated, the cleartext is sealed under them, and the
// symmetric key is itself encrypted to the recipient's RSA public key with
// OAEP padding.
func SealHybrid(cleartext []byte, recipientPub *rsa.PublicKey) (*HybridEnvelope, error) {
	symKey := make([]byte, DiscoveryKeySize)
	if _, err := io.ReadFull(rand.Reader, symKey); err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "generate symmetric key", err)
	}
	iv := make([]byte, envelopeIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "generate iv", err)
	}

	block, err := aes.NewCipher(symKey)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "new gcm", err)
	}
	sealed := gcm.Seal(nil, iv, cleartext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	authTag := sealed[len(sealed)-gcmTagSize:]

	encryptedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, recipientPub, symKey, nil)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "oaep encrypt symmetric key", err)
	}

	return &HybridEnvelope{
		EncryptedKey:     base64.StdEncoding.EncodeToString(encryptedKey),
		IV:               base64.StdEncoding.EncodeToString(iv),
		AuthTag:          base64.StdEncoding.EncodeToString(authTag),
		EncryptedMessage: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// OpenHybrid reverses SealHybrid using the recipient's private key.
func OpenHybrid(env *HybridEnvelope, recipientPriv *rsa.PrivateKey) ([]byte, error) {
	encryptedKey, err := base64.StdEncoding.DecodeString(env.EncryptedKey)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "decode encrypted key", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "decode iv", err)
	}
	authTag, err := base64.StdEncoding.DecodeString(env.AuthTag)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "decode auth tag", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedMessage)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "decode ciphertext", err)
	}

	symKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, recipientPriv, encryptedKey, nil)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "oaep decrypt symmetric key", err)
	}

	block, err := aes.NewCipher(symKey)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "new gcm", err)
	}

	combined := make([]byte, 0, len(ciphertext)+len(authTag))
	combined = append(combined, ciphertext...)
	combined = append(combined, authTag...)

	plaintext, err := gcm.Open(nil, iv, combined, nil)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "authentication failed", err)
	}
	return plaintext, nil
}

// MarshalHybridEnvelope/UnmarshalHybridEnvelope round-trip a HybridEnvelope
// through JSON, matching the payload.data string carried on the wire when
// payload.encrypted is true.
func MarshalHybridEnvelope(env *HybridEnvelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", bridgeerr.Crypto(bridgeerr.ReasonSeal, "marshal hybrid envelope", err)
	}
	return string(raw), nil
}

func UnmarshalHybridEnvelope(data string) (*HybridEnvelope, error) {
	var env HybridEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonOpen, "unmarshal hybrid envelope", err)
	}
	return &env, nil
}
