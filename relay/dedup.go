// Package relay implements the relay dispatcher of spec.md §4.H: it
// classifies inbound local-radio packets, resolves their target across the
// local node table, the node registry, and station-identifier fallback, and
// forwards successful matches as USER_MESSAGE envelopes.
package relay

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

const dedupWindowSize = 100

// dedupKey returns the tuple spec.md §5 dedups relay traffic on.
func dedupKey(fromStation string, fromNode, toNode int64, text string) string {
	return fmt.Sprintf("%s|%d|%d|%s", fromStation, fromNode, toNode, text)
}

// newDedupCache builds the bounded, FIFO-evicting dedup window of spec.md
// §5 ("most recent 100 observed").
func newDedupCache() *lru.Cache {
	c, err := lru.New(dedupWindowSize)
	if err != nil {
		// lru.New only errors on a non-positive size, which dedupWindowSize
		// never is.
		panic(err)
	}
	return c
}
