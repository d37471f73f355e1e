// Package clock abstracts time so that run timing and metric file stamps
// can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a controllable, thread-safe clock for tests.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	step        time.Duration
}

// NewMockClock creates a MockClock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

// NewSteppingClock creates a MockClock that moves forward by step after every read.
// Durations measured with it are exact multiples of step.
func NewSteppingClock(t time.Time, step time.Duration) *MockClock {
	return &MockClock{currentTime: t, step: step}
}

// Now returns the mock time and applies the configured step.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.currentTime
	m.currentTime = m.currentTime.Add(m.step)
	return now
}

// Set changes the current time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the clock by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// Since is time.Since against c.
func Since(c Clock, start time.Time) time.Duration {
	return c.Now().Sub(start)
}
