// Package config assembles the single read-only configuration snapshot each
// bridge component is constructed with (spec.md §9: "Singleton config
// object... explicit configuration struct passed at construction of each
// component"). FromEnv reads the environment table of spec.md §6.
package config

import (
	"os"
	"strconv"
	"time"
)

// Discovery holds the directory-client knobs.
type Discovery struct {
	URL           string
	Timeout       time.Duration
	CheckInterval time.Duration
}

// P2P holds the connection-manager/transport knobs.
type P2P struct {
	ListenPort        int
	MaxConnections    int
	ConnectionTimeout time.Duration
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	KeepAliveInterval time.Duration
	MaxFrameBytes     int
}

// Mesh holds the radio-driver knobs (the driver itself is out of scope;
// only the values needed to label outgoing traffic live here).
type Mesh struct {
	AutoDetect bool
	BaudRate   int
}

// Crypto holds the key-derivation knobs.
type Crypto struct {
	DefaultKeySize  int
	KDFIterations   int
}

// Registry holds the node-registry knobs.
type Registry struct {
	SyncInterval      time.Duration
	CleanupInterval   time.Duration
	ConflictStrategy  string
	ConflictRetention time.Duration
	Backend           string // "badger", "sql", or "mem"
	DataDir           string
	DSN               string
}

// Config is the one immutable snapshot every component is constructed with.
type Config struct {
	StationID     string
	LocalTesting  bool
	Discovery     Discovery
	P2P           P2P
	Mesh          Mesh
	Crypto        Crypto
	Registry      Registry
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	return time.Duration(envInt(key, int(def/time.Second))) * time.Second
}

// FromEnv builds a Config from the environment variables of spec.md §6,
// falling back to the documented defaults.
func FromEnv() *Config {
	localTesting := envBool("LOCAL_TESTING", false)
	return &Config{
		StationID:    envString("STATION_ID", ""),
		LocalTesting: localTesting,
		Discovery: Discovery{
			URL:           envString("DISCOVERY_URL", "https://directory.example.net/api/stations"),
			Timeout:       envSeconds("DISCOVERY_TIMEOUT", 30*time.Second),
			CheckInterval: envSeconds("DISCOVERY_CHECK_INTERVAL", 300*time.Second),
		},
		P2P: P2P{
			ListenPort:        envInt("P2P_LISTEN_PORT", 8447),
			MaxConnections:    envInt("P2P_MAX_CONNECTIONS", 10),
			ConnectionTimeout: envSeconds("P2P_CONNECTION_TIMEOUT", 30*time.Second),
			RetryAttempts:     envInt("P2P_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:    time.Duration(envInt("P2P_RETRY_BASE_MS", 1000)) * time.Millisecond,
			KeepAliveInterval: envSeconds("P2P_KEEPALIVE_INTERVAL", 30*time.Second),
			MaxFrameBytes:     envInt("P2P_MAX_FRAME_BYTES", 1<<20),
		},
		Mesh: Mesh{
			AutoDetect: envBool("MESH_AUTO_DETECT", true),
			BaudRate:   envInt("MESH_BAUD_RATE", 115200),
		},
		Crypto: Crypto{
			DefaultKeySize: envInt("DEFAULT_KEY_SIZE", 2048),
			KDFIterations:  envInt("DISCOVERY_KDF_ITERATIONS", 100000),
		},
		Registry: Registry{
			SyncInterval:      envSeconds("REGISTRY_SYNC_INTERVAL", 30*time.Second),
			CleanupInterval:   envSeconds("REGISTRY_CLEANUP_INTERVAL", 60*time.Second),
			ConflictStrategy:  envString("REGISTRY_CONFLICT_STRATEGY", "latest"),
			ConflictRetention: envSeconds("REGISTRY_CONFLICT_RETENTION", 7*24*time.Hour),
			Backend:           envString("REGISTRY_BACKEND", registryBackendDefault(localTesting)),
			DataDir:           envString("REGISTRY_DATA_DIR", "./data/registry"),
			DSN:               envString("REGISTRY_DSN", ""),
		},
	}
}

func registryBackendDefault(localTesting bool) string {
	if localTesting {
		return "mem"
	}
	return "badger"
}
