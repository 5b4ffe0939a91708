package tdma

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextWaitWithinFrame(t *testing.T) {
	// Node 2 of a 4-second frame split into 4 one-second slots owns
	// [1,2): at t=0.5 it still has 0.5s to wait.
	wait, missed := nextWait(2, 1.0, 4.0, 0.5)
	assert.False(t, missed)
	assert.InDelta(t, 0.5, wait, 1e-9)
}

func TestNextWaitMissAdvancesOneFrame(t *testing.T) {
	// Node 2's slot starts at t=1.0 within the frame; waking at t=2.5
	// (past the end of its own slot) must report a miss and advance
	// the wait by a full frame.
	wait, missed := nextWait(2, 1.0, 4.0, 2.5)
	assert.True(t, missed)
	assert.InDelta(t, 2.5, wait, 1e-9) // (1.0 - 2.5) + 4.0
}

func TestNextWaitExactBoundaryIsNotAMiss(t *testing.T) {
	wait, missed := nextWait(1, 1.0, 4.0, 0.0)
	assert.False(t, missed)
	assert.InDelta(t, 0.0, wait, 1e-9)
}
