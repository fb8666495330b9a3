package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInFlightGuardDropsDuplicates(t *testing.T) {
	var guard InFlightGuard

	assert.True(t, guard.TryBegin())
	assert.False(t, guard.TryBegin(), "a duplicate request must be dropped, not queued")

	guard.Finish(false)
	assert.Equal(t, OpIdle, guard.State())
	assert.True(t, guard.TryBegin())
}

func TestInFlightGuardCooling(t *testing.T) {
	var guard InFlightGuard

	guard.TryBegin()
	guard.Finish(true)
	assert.Equal(t, OpCooling, guard.State())
	assert.False(t, guard.TryBegin(), "cooling must hold submissions back")

	guard.Release()
	assert.Equal(t, OpIdle, guard.State())
	assert.True(t, guard.TryBegin())
}

func TestInFlightGuardIgnoresStrayTransitions(t *testing.T) {
	var guard InFlightGuard

	guard.Finish(false)
	assert.Equal(t, OpIdle, guard.State())

	guard.Release()
	assert.Equal(t, OpIdle, guard.State())
}
