package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Allow(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice"), "event %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("alice"))

	// Other keys are counted independently.
	assert.True(t, l.Allow("bob"))
}

func Test_Allow_windowReset(t *testing.T) {
	current := time.Now()
	l := New(2, time.Minute)
	l.now = func() time.Time { return current }

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))

	current = current.Add(time.Minute)
	assert.True(t, l.Allow("alice"))
}

func Test_Blocked(t *testing.T) {
	current := time.Now()
	l := New(2, time.Minute)
	l.now = func() time.Time { return current }

	assert.False(t, l.Blocked("alice"))

	l.Allow("alice")
	l.Allow("alice")
	// At the limit the next event is still evaluated.
	assert.False(t, l.Blocked("alice"))

	// The event that exceeds the limit trips the gate.
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Blocked("alice"))

	// Blocked does not consume events and clears with the window.
	assert.True(t, l.Blocked("alice"))
	current = current.Add(time.Minute)
	assert.False(t, l.Blocked("alice"))
}

func Test_New_sanitizesArguments(t *testing.T) {
	l := New(0, 0)
	assert.Equal(t, 1, l.limit)
	assert.Equal(t, time.Minute, l.period)
}
