package protocol

import (
	"encoding/json"
	"time"

	"github.com/stationbridge/bridge/bridgeerr"
	bcrypto "github.com/stationbridge/bridge/crypto"
)

// nowFunc is overridable in tests.
var nowFunc = time.Now

// CreateMessage builds a fully populated envelope with the defaults of
// spec.md §4.B, applying any overrides in opts.
func CreateMessage(fromStation, toStation string, fromNode, toNode int64, typ PayloadType, data string, opts CreateOptions) (*Message, error) {
	id, err := bcrypto.NewMessageID(nowFunc())
	if err != nil {
		return nil, bridgeerr.Validation("generate message id", err)
	}

	defaults := DefaultCreateOptions()
	requiresAck := *defaults.RequiresAck
	if opts.RequiresAck != nil {
		requiresAck = *opts.RequiresAck
	}
	ttl := defaults.TTL
	if opts.TTL != 0 {
		ttl = opts.TTL
	}
	maxRetries := defaults.MaxRetries
	if opts.MaxRetries != 0 {
		maxRetries = opts.MaxRetries
	}
	priority := defaults.Priority
	if opts.Priority != 0 {
		priority = opts.Priority
	}

	msg := &Message{
		Version:   ProtocolVersion,
		MessageID: id,
		Timestamp: nowFunc().UnixNano() / int64(time.Millisecond),
		Routing: Routing{
			FromStation: fromStation,
			ToStation:   toStation,
			FromNode:    fromNode,
			ToNode:      toNode,
			Hops:        opts.Hops,
		},
		Payload: Payload{
			Type:      typ,
			Data:      data,
			Encrypted: opts.Encrypted,
		},
		Delivery: Delivery{
			Priority:    priority,
			TTL:         ttl,
			RequiresAck: requiresAck,
			RetryCount:  0,
			MaxRetries:  maxRetries,
		},
	}
	if err := Validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Validate checks the structural invariants of spec.md §3/§4.B.
func Validate(msg *Message) error {
	if msg == nil {
		return bridgeerr.Validation("message is nil", nil)
	}
	if msg.Version == "" {
		return bridgeerr.Validation("version is required", nil)
	}
	if msg.MessageID == "" {
		return bridgeerr.Validation("messageId is required", nil)
	}
	if msg.Timestamp <= 0 {
		return bridgeerr.Validation("timestamp must be positive", nil)
	}
	if msg.Routing.FromStation == "" {
		return bridgeerr.Validation("routing.fromStation is required", nil)
	}
	if msg.Routing.ToStation == "" {
		return bridgeerr.Validation("routing.toStation is required", nil)
	}
	if msg.Routing.FromNode < 0 || msg.Routing.ToNode < 0 {
		return bridgeerr.Validation("routing node ids must be non-negative", nil)
	}
	seen := make(map[string]bool, len(msg.Routing.Hops))
	for _, hop := range msg.Routing.Hops {
		if hop == msg.Routing.FromStation {
			if seen[hop] {
				return bridgeerr.Validation("hop list contains fromStation twice", nil)
			}
		}
		seen[hop] = true
	}
	if !msg.Payload.Type.valid() {
		return bridgeerr.Validation("payload.type is not a recognised enum value", nil)
	}
	if !msg.Delivery.Priority.valid() {
		return bridgeerr.Validation("delivery.priority is not a recognised enum value", nil)
	}
	if msg.Delivery.TTL < 0 {
		return bridgeerr.Validation("delivery.ttl must be non-negative", nil)
	}
	if msg.Delivery.RetryCount < 0 || msg.Delivery.MaxRetries < 0 {
		return bridgeerr.Validation("delivery retry counters must be non-negative", nil)
	}
	if msg.Delivery.RetryCount > msg.Delivery.MaxRetries {
		return bridgeerr.Validation("delivery.retryCount exceeds maxRetries", nil)
	}
	return nil
}

// Serialize marshals a (pre-validated) message to JSON.
func Serialize(msg *Message) ([]byte, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, bridgeerr.Protocol(bridgeerr.ReasonInvalidFormat, "marshal message", err)
	}
	return raw, nil
}

// Deserialize unmarshals and validates a message; an invalid envelope
// surfaces as ProtocolError(InvalidFormat).
func Deserialize(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, bridgeerr.Protocol(bridgeerr.ReasonInvalidFormat, "unmarshal message", err)
	}
	if err := Validate(&msg); err != nil {
		return nil, bridgeerr.Protocol(bridgeerr.ReasonInvalidFormat, "validate message", err)
	}
	return &msg, nil
}

// IsExpired reports whether msg is past its TTL, per spec.md §4.B.
func IsExpired(msg *Message, now time.Time) bool {
	nowMillis := now.UnixNano() / int64(time.Millisecond)
	return nowMillis > msg.Timestamp+int64(msg.Delivery.TTL)*1000
}

// maxRetryDelay is the exponential-backoff cap of spec.md §4.B/§8.
const maxRetryDelay = 30 * time.Second

// RetryDelay computes min(base*2^n, 30s), the capped exponential backoff
// schedule of spec.md §4.B and §8 invariant 2.
func RetryDelay(n int, base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if n < 0 {
		n = 0
	}
	// Guard against overflow for large n: once base<<n exceeds the cap we
	// can stop shifting.
	delay := base
	for i := 0; i < n; i++ {
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
		delay *= 2
	}
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
