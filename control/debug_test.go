package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return "one" })
	assert.Equal(t, []string{"a", "b"}, dp.Names())

	state := dp.DumpState()
	assert.Equal(t, "one", state["a"])
	assert.Equal(t, 2, state["b"])

	dp.UnregisterProbe("a")
	dp.UnregisterProbe("missing")
	assert.Equal(t, []string{"b"}, dp.Names())
}

func TestProbeMayUnregisterItself(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("once", func() any {
		dp.UnregisterProbe("once")
		return true
	})
	assert.Equal(t, true, dp.DumpState()["once"])
	assert.Empty(t, dp.Names())
}

func TestPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	assert.NotEmpty(t, dp.Names())
}
