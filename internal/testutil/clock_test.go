package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/till/internal/clock"
)

var _ clock.Clock = (*SteppingClock)(nil)

func TestSteppingClock_FirstReadIsStart(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Second)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, int64(1), c.Reads())
}

func TestSteppingClock_Advances(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Second)

	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Now())
}

func TestSteppingClock_Reset(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Minute)
	c.Now()
	c.Now()

	c.Reset()
	assert.Equal(t, int64(0), c.Reads())
	assert.Equal(t, Epoch, c.Now())
}

func TestSteppingClock_ThreadSafe(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Millisecond)
	const goroutines = 50
	const reads = 100

	var mu sync.Mutex
	seen := make(map[time.Time]bool)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < reads; j++ {
				now := c.Now()
				mu.Lock()
				assert.False(t, seen[now], "duplicate read %v", now)
				seen[now] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*reads)
}
