// Package protocol implements the bridge message envelope of spec.md §3/§4.B:
// construction with defaults, validation, JSON (de)serialisation, TTL
// expiry, and the retry backoff schedule.
package protocol

// PayloadType is the closed enumeration of spec.md §6.
type PayloadType string

const (
	TypeUserMessage     PayloadType = "user_message"
	TypeCommand         PayloadType = "command"
	TypeSystem          PayloadType = "system"
	TypeHeartbeat       PayloadType = "heartbeat"
	TypeNodeDiscovery   PayloadType = "node_discovery"
	TypeStationInfo     PayloadType = "station_info"
	TypeAck             PayloadType = "ack"
	TypeNack            PayloadType = "nack"
	TypeError           PayloadType = "error"
	TypeQueueStatus     PayloadType = "queue_status"
	TypeDeliveryReceipt PayloadType = "delivery_receipt"
)

func (t PayloadType) valid() bool {
	switch t {
	case TypeUserMessage, TypeCommand, TypeSystem, TypeHeartbeat, TypeNodeDiscovery,
		TypeStationInfo, TypeAck, TypeNack, TypeError, TypeQueueStatus, TypeDeliveryReceipt:
		return true
	}
	return false
}

// Priority is the closed delivery-priority enumeration of spec.md §3/§6.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

func (p Priority) valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// ErrorCode is the closed enumeration of spec.md §6.
type ErrorCode string

const (
	ErrNodeNotFound             ErrorCode = "node_not_found"
	ErrStationOffline           ErrorCode = "station_offline"
	ErrMessageExpired           ErrorCode = "message_expired"
	ErrInvalidFormat            ErrorCode = "invalid_format"
	ErrEncryptionError          ErrorCode = "encryption_error"
	ErrRateLimited              ErrorCode = "rate_limited"
	ErrQueueFull                ErrorCode = "queue_full"
	ErrUnknownStation           ErrorCode = "unknown_station"
	ErrProtocolVersionMismatch  ErrorCode = "protocol_version_mismatch"
)

// Routing carries the station/node addressing of an envelope (spec.md §3).
type Routing struct {
	FromStation string   `json:"fromStation"`
	ToStation   string   `json:"toStation"`
	FromNode    int64    `json:"fromNode"`
	ToNode      int64    `json:"toNode"`
	Hops        []string `json:"hops"`
}

// BroadcastStation is the sentinel toStation value that marks a broadcast.
const BroadcastStation = "ALL"

// Payload carries the envelope's typed body (spec.md §3).
type Payload struct {
	Type      PayloadType `json:"type"`
	Data      string      `json:"data"`
	Encrypted bool        `json:"encrypted"`
}

// Delivery carries the retry/priority policy of an envelope (spec.md §3).
type Delivery struct {
	Priority     Priority `json:"priority"`
	TTL          int      `json:"ttl"`
	RequiresAck  bool     `json:"requiresAck"`
	RetryCount   int      `json:"retryCount"`
	MaxRetries   int      `json:"maxRetries"`
}

// Message is the bridge wire envelope of spec.md §3.
type Message struct {
	Version   string   `json:"version"`
	MessageID string   `json:"messageId"`
	Timestamp int64    `json:"timestamp"`
	Routing   Routing  `json:"routing"`
	Payload   Payload  `json:"payload"`
	Delivery  Delivery `json:"delivery"`
}

// ProtocolVersion is the semver carried on every envelope this codec emits.
const ProtocolVersion = "1.0.0"

const (
	defaultTTLSeconds = 3600
	defaultMaxRetries = 3
)

// CreateOptions overrides the defaults applied by CreateMessage.
type CreateOptions struct {
	Priority     Priority
	TTL          int
	RequiresAck  *bool
	MaxRetries   int
	Encrypted    bool
	Hops         []string
}

// DefaultCreateOptions returns the defaults named in spec.md §4.B:
// priority NORMAL, ttl 3600s, requiresAck true, maxRetries 3, retryCount 0.
func DefaultCreateOptions() CreateOptions {
	t := true
	return CreateOptions{
		Priority:    PriorityNormal,
		TTL:         defaultTTLSeconds,
		RequiresAck: &t,
		MaxRetries:  defaultMaxRetries,
	}
}
