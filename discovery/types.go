// Package discovery implements the directory client of spec.md §4.C: it
// registers the station's encrypted contact envelope, heartbeats, polls for
// peers, diffs the known-peer set, and emits peerDiscovered/peerLost events.
package discovery

import (
	"encoding/json"
	"time"
)

// Peer is a directory-advertised station as seen by the diff logic.
type Peer struct {
	StationID         string
	EncryptedEnvelope []byte
	PublicKey         string
	IP                string
	Port              int
	LastSeen          time.Time
}

// directoryPeerEntry is one station row as the directory stores it: the
// station ID, its still-encrypted, base64-encoded contact envelope
// (spec.md §3), and its public key.
type directoryPeerEntry struct {
	StationID            string `json:"station_id"`
	EncryptedContactInfo string `json:"encrypted_contact_info"`
	PublicKey            string `json:"public_key"`
}

// apiEnvelope is the directory service's uniform response wrapper
// (spec.md §6): {success, data?, error?, timestamp?}.
type apiEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type peersData struct {
	Peers []directoryPeerEntry `json:"peers"`
}

type healthData struct {
	Status         string `json:"status"`
	ActiveStations int    `json:"active_stations"`
	Version        string `json:"version"`
	Timestamp      int64  `json:"timestamp"`
}
