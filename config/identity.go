package config

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
)

// KeyPair is the station's asymmetric key material. Generation and secure
// storage are out of scope (spec.md §1); this struct only carries the
// already-generated PEM-encoded material through the config file.
type KeyPair struct {
	PublicKeyPEM  string `json:"publicKey"`
	PrivateKeyPEM string `json:"privateKey"`
}

// Endpoints are the transport endpoints a station declares.
type Endpoints struct {
	ListenPort     int `json:"listenPort"`
	MaxConnections int `json:"maxConnections"`
}

// StationIdentity is a station's stable, on-disk identity (spec.md §3).
type StationIdentity struct {
	StationID   string    `json:"stationId"`
	DisplayName string    `json:"displayName"`
	Keys        KeyPair   `json:"keys"`
	Endpoints   Endpoints `json:"endpoints"`
}

// Metadata is the bookkeeping block of the persisted station file.
type Metadata struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   string    `json:"version"`
}

// StationFile is the full on-disk JSON document (spec.md §6 "Persistent
// state"). Loading/validating it against the live config sections is the
// external station-configuration loader's job (spec.md §1 Non-goals); this
// type only defines the wire shape the bridge core reads from it.
type StationFile struct {
	Identity  StationIdentity `json:"identity"`
	Discovery Discovery       `json:"discovery"`
	P2P       P2P             `json:"p2p"`
	Mesh      Mesh            `json:"mesh"`
	Metadata  Metadata        `json:"metadata"`
}

// ValidateStationID checks the 3-20 char, letters/digits/hyphen,
// no-leading/trailing-hyphen rule of spec.md §3.
func ValidateStationID(id string) error {
	if len(id) < 3 || len(id) > 20 {
		return errors.Errorf("station id %q: length must be 3-20 characters", id)
	}
	if id[0] == '-' || id[len(id)-1] == '-' {
		return errors.Errorf("station id %q: must not start or end with a hyphen", id)
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '-' {
			return errors.Errorf("station id %q: contains invalid character %q", id, r)
		}
	}
	return nil
}

// LoadStationFile reads and decodes the on-disk JSON station file.
func LoadStationFile(path string) (*StationFile, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read station file")
	}
	var sf StationFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, errors.Wrap(err, "decode station file")
	}
	if err := ValidateStationID(sf.Identity.StationID); err != nil {
		return nil, err
	}
	return &sf, nil
}

// SaveStationFile writes the station file back, bumping UpdatedAt.
func SaveStationFile(path string, sf *StationFile) error {
	sf.Metadata.UpdatedAt = now()
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode station file")
	}
	return ioutil.WriteFile(path, raw, 0600)
}

var now = time.Now
