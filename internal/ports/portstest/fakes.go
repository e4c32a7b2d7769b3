package portstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
)

// FakeClock fires AfterFunc callbacks only when Advance moves past their
// deadline.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

var _ ports.Clock = (*FakeClock)(nil)

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock forward and runs every due callback in deadline
// order on the calling goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && !timer.deadline.After(c.now) {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, timer := range due {
		timer.fn()
	}
}

// Pending reports armed timers that have neither fired nor been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type FakeConfigWriter struct {
	Err error

	mu      sync.Mutex
	written []domain.Configuration
}

var _ ports.ConfigWriter = (*FakeConfigWriter)(nil)

func (w *FakeConfigWriter) Write(ctx context.Context, cfg domain.Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return w.Err
	}
	w.written = append(w.written, cfg)
	return nil
}

func (w *FakeConfigWriter) Written() []domain.Configuration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]domain.Configuration(nil), w.written...)
}

type FakeSweeper struct {
	Err error

	mu       sync.Mutex
	patterns []string
}

var _ ports.Sweeper = (*FakeSweeper)(nil)

func (s *FakeSweeper) Sweep(_ context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, pattern)
	return s.Err
}

func (s *FakeSweeper) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.patterns...)
}

// RecordingMetrics counts calls by method name.
type RecordingMetrics struct {
	mu        sync.Mutex
	counts    map[string]int
	exitCodes []int
}

var _ ports.Metrics = (*RecordingMetrics)(nil)

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{counts: map[string]int{}}
}

func (m *RecordingMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *RecordingMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func (m *RecordingMetrics) ExitCodes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.exitCodes...)
}

func (m *RecordingMetrics) SessionConnected()    { m.inc("session_connected") }
func (m *RecordingMetrics) SessionDisconnected() { m.inc("session_disconnected") }
func (m *RecordingMetrics) ProcessStarted()      { m.inc("process_started") }
func (m *RecordingMetrics) StopRequested()       { m.inc("stop_requested") }
func (m *RecordingMetrics) ForcedKill()          { m.inc("forced_kill") }

func (m *RecordingMetrics) ProcessExited(exitCode int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts["process_exited"]++
	m.exitCodes = append(m.exitCodes, exitCode)
}

func (m *RecordingMetrics) OperationFailed(kind string) {
	m.inc("failed_" + kind)
}

func (m *RecordingMetrics) StateTransition(_, to domain.ProcessState) {
	m.inc("state_" + to.String())
}
