package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "attempt %d should pass", i+1)
	}
	assert.False(t, l.Allow("10.0.0.1"), "attempt past the burst should be blocked")
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestResetClearsCounter(t *testing.T) {
	l := New(2, time.Minute)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.1")
	assert.False(t, l.Allow("10.0.0.1"))

	l.Reset("10.0.0.1")
	assert.True(t, l.Allow("10.0.0.1"), "counter should start fresh after reset")
}

func TestResetUnknownKeyIsNoop(t *testing.T) {
	l := New(1, time.Minute)
	l.Reset("never-seen")
	assert.True(t, l.Allow("never-seen"))
}
