package application

import (
	"sort"
	"sync"
	"time"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
)

// ActiveProcess tracks the single child owned by a session.
type ActiveProcess struct {
	session   domain.SessionID
	command   string
	startedAt time.Time

	mu            sync.Mutex
	state         domain.ProcessState
	proc          ports.Process
	stopRequested bool

	exited chan struct{}
	input  chan []byte
}

func newActiveProcess(session domain.SessionID, command string, startedAt time.Time) *ActiveProcess {
	return &ActiveProcess{
		session:   session,
		command:   command,
		startedAt: startedAt,
		state:     domain.ProcessStarting,
		exited:    make(chan struct{}),
		input:     make(chan []byte, inputQueueSize),
	}
}

func (a *ActiveProcess) Session() domain.SessionID {
	return a.session
}

func (a *ActiveProcess) Command() string {
	return a.command
}

func (a *ActiveProcess) State() domain.ProcessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PID is zero until the child has been spawned.
func (a *ActiveProcess) PID() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.proc == nil {
		return 0
	}
	return a.proc.PID()
}

func (a *ActiveProcess) Alive() bool {
	select {
	case <-a.exited:
		return false
	default:
		return true
	}
}

func (a *ActiveProcess) setState(state domain.ProcessState) domain.ProcessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	previous := a.state
	a.state = state
	return previous
}

// Registry maps sessions to their active process. Each operation is atomic
// for its key and keys do not share a lock.
type Registry struct {
	entries sync.Map
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Reserve inserts entry unless the session already owns one, in which case
// the existing entry is returned with ok set to false.
func (r *Registry) Reserve(entry *ActiveProcess) (*ActiveProcess, bool) {
	existing, loaded := r.entries.LoadOrStore(entry.session, entry)
	if loaded {
		return existing.(*ActiveProcess), false
	}
	return entry, true
}

func (r *Registry) Lookup(id domain.SessionID) (*ActiveProcess, bool) {
	value, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*ActiveProcess), true
}

// Take removes and returns the session's entry.
func (r *Registry) Take(id domain.SessionID) (*ActiveProcess, bool) {
	value, ok := r.entries.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return value.(*ActiveProcess), true
}

// Release removes the session's entry only if it is still entry.
func (r *Registry) Release(entry *ActiveProcess) bool {
	return r.entries.CompareAndDelete(entry.session, entry)
}

func (r *Registry) Len() int {
	count := 0
	r.entries.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (r *Registry) Sessions() []domain.SessionID {
	var ids []domain.SessionID
	r.entries.Range(func(key, _ any) bool {
		ids = append(ids, key.(domain.SessionID))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
