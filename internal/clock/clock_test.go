package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock_Now(t *testing.T) {
	c := RealClock{}
	before := time.Now()
	result := c.Now()
	after := time.Now()

	assert.False(t, result.Before(before), "RealClock.Now() should not be before the call")
	assert.False(t, result.After(after), "RealClock.Now() should not be after the call")
}

func TestMockClock_Now(t *testing.T) {
	fixedTime := time.Date(2023, 6, 9, 8, 30, 0, 0, time.UTC)
	c := NewMockClock(fixedTime)

	assert.Equal(t, fixedTime, c.Now())
	assert.Equal(t, fixedTime, c.Now(), "a frozen clock returns the same time on repeated calls")
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	c := NewMockClock(time.Date(2023, 6, 9, 8, 0, 0, 0, time.UTC))

	c.Set(time.Date(2023, 6, 10, 0, 0, 0, 0, time.UTC))
	c.Advance(90 * time.Minute)

	assert.Equal(t, time.Date(2023, 6, 10, 1, 30, 0, 0, time.UTC), c.Now())
}

func TestSteppingClock_Since(t *testing.T) {
	c := NewSteppingClock(time.Date(2023, 6, 9, 0, 0, 0, 0, time.UTC), 250*time.Millisecond)

	start := c.Now()
	assert.Equal(t, 250*time.Millisecond, Since(c, start))
}

func TestMockClock_ConcurrentAccess(t *testing.T) {
	c := NewMockClock(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
			_ = c.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 50, 0, time.UTC), c.Now())
}
