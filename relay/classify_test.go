package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRelay(t *testing.T) {
	c := Classify("@alice hello there")
	assert.Equal(t, KindRelay, c.Kind)
	assert.Equal(t, "alice", c.TargetID)
	assert.Equal(t, "hello there", c.Text)
}

func TestClassifyKeywords(t *testing.T) {
	assert.Equal(t, KindInstructions, Classify("instructions").Kind)
	assert.Equal(t, KindInstructions, Classify("HELP").Kind)
	assert.Equal(t, KindStatus, Classify("Status").Kind)
	assert.Equal(t, KindNodes, Classify("nodes").Kind)
	assert.Equal(t, KindNodes, Classify("list nodes").Kind)
}

func TestClassifyEchoFallback(t *testing.T) {
	assert.Equal(t, KindEcho, Classify("just chatting").Kind)
}
