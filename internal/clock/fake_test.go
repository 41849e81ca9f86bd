package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)

	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	require.Equal(t, 3, c.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, c.Pending())

	c.Advance(time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFakeClockStop(t *testing.T) {
	c := Fake(epoch)

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Zero(t, c.Pending())
}

func TestFakeClockBlockUntil(t *testing.T) {
	c := Fake(epoch)

	done := make(chan struct{})
	go func() {
		c.BlockUntil(1)
		close(done)
	}()

	c.AfterFunc(time.Second, func() {})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BlockUntil did not return after a timer was scheduled")
	}
}
