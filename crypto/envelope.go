// Package crypto implements the three cryptographic primitive families of
// spec.md §4.A: contact envelope seal/open, hybrid message seal/open, and
// discovery-key derivation, plus the HMAC/freshness/message-id auxiliaries.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/stationbridge/bridge/bridgeerr"
)

const (
	envelopeSaltSize = 16
	envelopeIVSize   = 12
	gcmTagSize       = 16

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// ContactInfo is the cleartext payload of a contact envelope (spec.md §3).
type ContactInfo struct {
	IP        string `json:"ip"`
	Port      int    `json:"port"`
	PublicKey string `json:"publicKey"`
	LastSeen  int64  `json:"lastSeen"`
}

// SealContactEnvelope encrypts a ContactInfo under the discovery key with
// AES-256-GCM, deriving a fresh per-envelope key via scrypt keyed on a random
// salt (the "memory-hard password KDF" of spec.md §4.A.1). The returned bytes
// are salt ‖ iv ‖ authTag ‖ ciphertext.
func SealContactEnvelope(info ContactInfo, discoveryKey []byte) ([]byte, error) {
	plaintext, err := json.Marshal(info)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "marshal contact info", err)
	}

	salt := make([]byte, envelopeSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "generate salt", err)
	}
	envKey, err := scrypt.Key(discoveryKey, salt, scryptN, scryptR, scryptP, DiscoveryKeySize)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "derive envelope key", err)
	}

	block, err := aes.NewCipher(envKey)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "new gcm", err)
	}

	iv := make([]byte, envelopeIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonSeal, "generate iv", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	authTag := sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, envelopeSaltSize+envelopeIVSize+gcmTagSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, authTag...)
	out = append(out, ciphertext...)
	return out, nil
}

// OpenContactEnvelope reverses SealContactEnvelope. A tag mismatch surfaces
// as CryptoError(ContactDecrypt).
func OpenContactEnvelope(sealed []byte, discoveryKey []byte) (*ContactInfo, error) {
	min := envelopeSaltSize + envelopeIVSize + gcmTagSize
	if len(sealed) < min {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonContactDecrypt, "envelope too short", nil)
	}
	salt := sealed[:envelopeSaltSize]
	iv := sealed[envelopeSaltSize : envelopeSaltSize+envelopeIVSize]
	authTag := sealed[envelopeSaltSize+envelopeIVSize : envelopeSaltSize+envelopeIVSize+gcmTagSize]
	ciphertext := sealed[envelopeSaltSize+envelopeIVSize+gcmTagSize:]

	envKey, err := scrypt.Key(discoveryKey, salt, scryptN, scryptR, scryptP, DiscoveryKeySize)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonContactDecrypt, "derive envelope key", err)
	}
	block, err := aes.NewCipher(envKey)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonContactDecrypt, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonContactDecrypt, "new gcm", err)
	}

	combined := make([]byte, 0, len(ciphertext)+len(authTag))
	combined = append(combined, ciphertext...)
	combined = append(combined, authTag...)

	plaintext, err := gcm.Open(nil, iv, combined, nil)
	if err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonContactDecrypt, "authentication failed", err)
	}

	var info ContactInfo
	if err := json.Unmarshal(plaintext, &info); err != nil {
		return nil, bridgeerr.Crypto(bridgeerr.ReasonContactDecrypt, "unmarshal contact info", err)
	}
	return &info, nil
}
