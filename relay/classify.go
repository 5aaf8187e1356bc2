package relay

import (
	"regexp"
	"strings"
)

// Kind is the closed packet classification of spec.md §4.H.
type Kind int

const (
	KindRelay Kind = iota
	KindInstructions
	KindStatus
	KindNodes
	KindEcho
)

// Classified is the result of classifying one inbound local-radio packet.
type Classified struct {
	Kind     Kind
	TargetID string // only set for KindRelay
	Text     string
}

var relayPattern = regexp.MustCompile(`^@(\S+)\s+(.*)$`)

// Classify applies the textual rules of spec.md §4.H.
func Classify(text string) Classified {
	if m := relayPattern.FindStringSubmatch(text); m != nil {
		return Classified{Kind: KindRelay, TargetID: m[1], Text: m[2]}
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "instructions", "help":
		return Classified{Kind: KindInstructions, Text: text}
	case "status":
		return Classified{Kind: KindStatus, Text: text}
	case "nodes", "list nodes":
		return Classified{Kind: KindNodes, Text: text}
	}

	return Classified{Kind: KindEcho, Text: text}
}
