package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SuppressesDuringHold(t *testing.T) {
	g := New()
	require.False(t, g.Active())
	require.True(t, g.Admit())

	var admitted []bool
	g.Suppress(func() {
		assert.True(t, g.Active())
		admitted = append(admitted, g.Admit())
	})

	assert.Equal(t, []bool{false}, admitted)
	assert.False(t, g.Active())
	assert.True(t, g.Admit(), "first event after the apply is a genuine edit")
}

func TestGate_SplitNotifications(t *testing.T) {
	g := New()
	g.Suppress(func() {
		assert.False(t, g.Admit())
		assert.False(t, g.Admit())
		assert.False(t, g.Admit())
	})

	stats := g.Stats()
	assert.Equal(t, uint64(3), stats.Swallowed)
	assert.Equal(t, 3, stats.LastHoldSwallowed)
	assert.True(t, g.Admit())
}

func TestGate_Nested(t *testing.T) {
	g := New()
	outer := g.Hold()
	inner := g.Hold()
	inner()
	assert.True(t, g.Active())
	assert.False(t, g.Admit())
	outer()
	assert.False(t, g.Active())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	g := New()
	outer := g.Hold()
	release := g.Hold()
	release()
	release()
	assert.True(t, g.Active(), "double release must not end the outer hold")
	outer()
	assert.Equal(t, 0, g.Stats().Depth)
}

func TestGate_ReleasedOnPanic(t *testing.T) {
	g := New()
	assert.Panics(t, func() {
		g.Suppress(func() { panic("adapter failure") })
	})
	assert.False(t, g.Active())
}
