package crypto

import (
	"golang.org/x/crypto/pbkdf2"

	"crypto/sha256"
)

// DiscoveryKeySize is the output size of the derived discovery key, in bytes
// (256 bits, spec.md §4.A.3).
const DiscoveryKeySize = 32

// DefaultKDFIterations is the PBKDF2 iteration count DeriveDiscoveryKey uses
// when it is given a non-positive count; a positive count is used as given.
const DefaultKDFIterations = 100000

// DeriveDiscoveryKey derives the 256-bit symmetric key every station uses to
// seal/open contact envelopes placed in the central directory. It is a
// PBKDF2-HMAC-SHA256 of the shared network secret, salted with the network
// name, per spec.md §4.A.3.
func DeriveDiscoveryKey(networkSecret, networkName string, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	return pbkdf2.Key([]byte(networkSecret), []byte(networkName), iterations, DiscoveryKeySize, sha256.New)
}
