package application

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReserveRejectsSecondEntry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	first := newActiveProcess("sess-1", "apply", time.Time{})
	second := newActiveProcess("sess-1", "destroy", time.Time{})

	got, ok := registry.Reserve(first)
	require.True(t, ok)
	assert.Same(t, first, got)

	got, ok = registry.Reserve(second)
	require.False(t, ok)
	assert.Same(t, first, got)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryReleaseIgnoresReplacedEntry(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	stale := newActiveProcess("sess-1", "apply", time.Time{})
	_, ok := registry.Reserve(stale)
	require.True(t, ok)

	taken, ok := registry.Take("sess-1")
	require.True(t, ok)
	assert.Same(t, stale, taken)

	fresh := newActiveProcess("sess-1", "plan", time.Time{})
	_, ok = registry.Reserve(fresh)
	require.True(t, ok)

	assert.False(t, registry.Release(stale))
	current, ok := registry.Lookup("sess-1")
	require.True(t, ok)
	assert.Same(t, fresh, current)

	assert.True(t, registry.Release(fresh))
	_, ok = registry.Lookup("sess-1")
	assert.False(t, ok)
}

func TestRegistryTakeMissingSession(t *testing.T) {
	t.Parallel()

	_, ok := NewRegistry().Take("missing")
	assert.False(t, ok)
}

func TestRegistrySessionsAreSorted(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	for _, id := range []domain.SessionID{"c", "a", "b"} {
		_, ok := registry.Reserve(newActiveProcess(id, "plan", time.Time{}))
		require.True(t, ok)
	}

	assert.Equal(t, []domain.SessionID{"a", "b", "c"}, registry.Sessions())
}

func TestRegistryConcurrentReserveHasOneWinnerPerSession(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = map[domain.SessionID]int{}
	)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := domain.SessionID(fmt.Sprintf("sess-%d", i%5))
			if _, ok := registry.Reserve(newActiveProcess(id, "apply", time.Time{})); ok {
				mu.Lock()
				wins[id]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, wins, 5)
	for id, count := range wins {
		assert.Equal(t, 1, count, "session %s", id)
	}
	assert.Equal(t, 5, registry.Len())
}

func TestActiveProcessStartsInStartingState(t *testing.T) {
	t.Parallel()

	entry := newActiveProcess("sess-1", "apply", time.Time{})
	assert.Equal(t, domain.ProcessStarting, entry.State())
	assert.Zero(t, entry.PID())
	assert.True(t, entry.Alive())

	previous := entry.setState(domain.ProcessRunning)
	assert.Equal(t, domain.ProcessStarting, previous)
	assert.Equal(t, domain.ProcessRunning, entry.State())
}

func TestOutboxDropsEventsAfterClose(t *testing.T) {
	t.Parallel()

	out := NewOutbox(1)
	require.True(t, out.emit(domain.OutputEvent("first")))

	done := make(chan bool, 1)
	go func() { done <- out.emit(domain.OutputEvent("blocked")) }()

	out.Close()
	select {
	case sent := <-done:
		assert.False(t, sent)
	case <-time.After(time.Second):
		t.Fatal("emit did not return after close")
	}

	assert.True(t, out.Closed())
	assert.False(t, out.emit(domain.OutputEvent("late")))
	assert.Equal(t, domain.OutputEvent("first"), <-out.Events())
	out.Close()
}

func TestSplitIncompleteRuneHoldsBackPartialSequence(t *testing.T) {
	t.Parallel()

	check := []byte("ok ✅")
	complete, rest := splitIncompleteRune(check[:len(check)-1])
	assert.Equal(t, "ok ", string(complete))
	assert.Equal(t, check[3:len(check)-1], rest)

	complete, rest = splitIncompleteRune(check)
	assert.Equal(t, "ok ✅", string(complete))
	assert.Empty(t, rest)

	complete, rest = splitIncompleteRune([]byte{0xff, 0xfe})
	assert.Equal(t, []byte{0xff, 0xfe}, complete)
	assert.Empty(t, rest)
}
