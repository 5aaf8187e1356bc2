// Package bridgeerr implements the error taxonomy of the federation core
// (spec.md §7): typed, wrapped errors that carry a Kind so callers can branch
// on failure class with errors.As instead of string matching.
package bridgeerr

import "github.com/pkg/errors"

// Kind classifies a bridge error per spec.md §7.
type Kind string

const (
	KindValidation ErrKind = "ValidationError"
	KindProtocol   ErrKind = "ProtocolError"
	KindCrypto     ErrKind = "CryptoError"
	KindNetwork    ErrKind = "NetworkError"
	KindTransport  ErrKind = "TransportError"
	KindNotFound   ErrKind = "NotFound"
	KindConflict   ErrKind = "Conflict"
)

// ErrKind is the exported alias kept for readability at call sites.
type ErrKind = Kind

// Reason is a closed sub-classification within a Kind, e.g.
// ProtocolError(InvalidFormat) or CryptoError(Seal).
type Reason string

const (
	ReasonInvalidFormat         Reason = "InvalidFormat"
	ReasonVersionMismatch       Reason = "VersionMismatch"
	ReasonSeal                  Reason = "Seal"
	ReasonOpen                  Reason = "Open"
	ReasonKeyDerive             Reason = "KeyDerive"
	ReasonContactDecrypt        Reason = "ContactDecrypt"
	ReasonTimeout               Reason = "Timeout"
	ReasonConnectionRefused     Reason = "ConnectionRefused"
	ReasonFrameTooLarge         Reason = "FrameTooLarge"
	ReasonMalformedFrame        Reason = "MalformedFrame"
	ReasonPeerUnreachable       Reason = "PeerUnreachable"
	ReasonExpired               Reason = "Expired"
	ReasonExhausted             Reason = "Exhausted"
	ReasonNone                  Reason = ""
)

// Error is the concrete type for every bridge-level failure.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		if e.cause != nil {
			return string(e.Kind) + "(" + string(e.Reason) + "): " + e.Message + ": " + e.cause.Error()
		}
		return string(e.Kind) + "(" + string(e.Reason) + "): " + e.Message
	}
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bridge error of the given kind/reason, wrapping cause if set.
func New(kind Kind, reason Reason, message string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, cause: cause}
}

func Validation(message string, cause error) *Error {
	return New(KindValidation, ReasonNone, message, cause)
}

func Protocol(reason Reason, message string, cause error) *Error {
	return New(KindProtocol, reason, message, cause)
}

func Crypto(reason Reason, message string, cause error) *Error {
	return New(KindCrypto, reason, message, cause)
}

func Network(reason Reason, message string, cause error) *Error {
	return New(KindNetwork, reason, message, cause)
}

func Transport(message string, cause error) *Error {
	return New(KindTransport, ReasonNone, message, cause)
}

func NotFound(message string) *Error {
	return New(KindNotFound, ReasonNone, message, nil)
}

func Conflict(message string) *Error {
	return New(KindConflict, ReasonNone, message, nil)
}

// Is reports whether err is a bridge error of the given kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
