// Package portstest provides in-memory implementations of the ports used by
// tests across the module.
package portstest

import (
	"context"
	"io"
	"sync"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
)

type SignalCall struct {
	Signal domain.Signal
	Group  bool
}

// FakeProcess is a scripted child process. Output is written by the test and
// Exit releases Wait.
type FakeProcess struct {
	Spec ports.SpawnSpec

	// ExitOnSignal makes the process exit with -1 once it receives one of
	// the listed signals.
	ExitOnSignal map[domain.Signal]bool
	GroupErr     error
	LeaderErr    error

	pid     int
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	mu      sync.Mutex
	signals []SignalCall
	input   []byte

	exitOnce sync.Once
	exited   chan struct{}
	exitCode int
}

var _ ports.Process = (*FakeProcess)(nil)

func NewFakeProcess(pid int) *FakeProcess {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	return &FakeProcess{
		pid:     pid,
		stdoutR: stdoutR,
		stdoutW: stdoutW,
		stderrR: stderrR,
		stderrW: stderrW,
		exited:  make(chan struct{}),
	}
}

func (p *FakeProcess) PID() int          { return p.pid }
func (p *FakeProcess) Stdout() io.Reader { return p.stdoutR }
func (p *FakeProcess) Stderr() io.Reader { return p.stderrR }
func (p *FakeProcess) Stdin() io.Writer  { return stdinWriter{p: p} }

func (p *FakeProcess) Wait() (int, error) {
	<-p.exited
	return p.exitCode, nil
}

func (p *FakeProcess) Signal(sig domain.Signal) error {
	return p.record(SignalCall{Signal: sig, Group: true}, p.GroupErr)
}

func (p *FakeProcess) SignalLeader(sig domain.Signal) error {
	return p.record(SignalCall{Signal: sig}, p.LeaderErr)
}

func (p *FakeProcess) record(call SignalCall, err error) error {
	p.mu.Lock()
	p.signals = append(p.signals, call)
	exit := p.ExitOnSignal[call.Signal]
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if exit {
		go p.Exit(-1)
	}
	return nil
}

// WriteStdout blocks until the supervisor has read data.
func (p *FakeProcess) WriteStdout(data string) {
	_, _ = p.stdoutW.Write([]byte(data))
}

func (p *FakeProcess) WriteStderr(data string) {
	_, _ = p.stderrW.Write([]byte(data))
}

// Exit closes both output streams and releases Wait with code.
func (p *FakeProcess) Exit(code int) {
	p.exitOnce.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.exitCode = code
		close(p.exited)
	})
}

func (p *FakeProcess) Exited() <-chan struct{} {
	return p.exited
}

func (p *FakeProcess) Signals() []SignalCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SignalCall(nil), p.signals...)
}

func (p *FakeProcess) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.input)
}

type stdinWriter struct {
	p *FakeProcess
}

func (w stdinWriter) Write(data []byte) (int, error) {
	select {
	case <-w.p.exited:
		return 0, io.ErrClosedPipe
	default:
	}

	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	w.p.input = append(w.p.input, data...)
	return len(data), nil
}

// FakeSpawner hands out FakeProcess values and publishes them on Spawned.
type FakeSpawner struct {
	Err       error
	Configure func(*FakeProcess)
	Spawned   chan *FakeProcess

	mu      sync.Mutex
	nextPID int
	specs   []ports.SpawnSpec
}

var _ ports.Spawner = (*FakeSpawner)(nil)

func NewFakeSpawner() *FakeSpawner {
	return &FakeSpawner{Spawned: make(chan *FakeProcess, 64), nextPID: 1000}
}

func (s *FakeSpawner) Spawn(ctx context.Context, spec ports.SpawnSpec) (ports.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.specs = append(s.specs, spec)
	if s.Err != nil {
		s.mu.Unlock()
		return nil, s.Err
	}
	s.nextPID++
	proc := NewFakeProcess(s.nextPID)
	s.mu.Unlock()

	proc.Spec = spec
	if s.Configure != nil {
		s.Configure(proc)
	}
	s.Spawned <- proc

	return proc, nil
}

func (s *FakeSpawner) Specs() []ports.SpawnSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.SpawnSpec(nil), s.specs...)
}
