package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
)

const (
	DefaultGracePeriod  = 3 * time.Second
	DefaultSweepDelay   = time.Second
	DefaultSweepPattern = "terraform|packer|deploy.sh"

	sweepTimeout   = 10 * time.Second
	inputQueueSize = 64
	readChunkSize  = 32 * 1024

	// minOutboxSize leaves room for the welcome banner, which is queued
	// before the transport starts reading.
	minOutboxSize = 8
)

const (
	msgConnected     = "Connected to S3 Gateway Deployment Server\r\n"
	msgPrompt        = "$ "
	msgStopped       = "\r\n^C Command stopped (terminating all processes...)\r\n$ "
	msgNothingToStop = "\r\nNo active command to stop\r\n$ "
	msgSaved         = "\r\n✅ Configuration saved successfully\r\n$ "
	msgSaveFailed    = "\r\n❌ Failed to save configuration\r\n$ "
	msgConfigFailed  = "Failed to create configuration file"
)

type SupervisorOptions struct {
	WorkspaceDir string
	GracePeriod  time.Duration
	SweepDelay   time.Duration
	// SweepPattern is matched against full command lines after a stop. An
	// empty pattern disables the sweep.
	SweepPattern string
	OutboxSize   int
	Environ      func() []string
	Clock        ports.Clock
	Metrics      ports.Metrics
	Logger       *slog.Logger
}

// Supervisor runs at most one provisioning command per session and owns the
// registry that enforces it.
type Supervisor struct {
	registry *Registry
	writer   ports.ConfigWriter
	spawner  ports.Spawner
	sweeper  ports.Sweeper
	clock    ports.Clock
	metrics  ports.Metrics
	log      *slog.Logger
	opts     SupervisorOptions
}

func NewSupervisor(writer ports.ConfigWriter, spawner ports.Spawner, sweeper ports.Sweeper, opts SupervisorOptions) *Supervisor {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.SweepDelay <= 0 {
		opts.SweepDelay = DefaultSweepDelay
	}
	if opts.OutboxSize < minOutboxSize {
		opts.OutboxSize = DefaultOutboxSize
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Supervisor{
		registry: NewRegistry(),
		writer:   writer,
		spawner:  spawner,
		sweeper:  sweeper,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		opts:     opts,
	}
}

func (s *Supervisor) Registry() *Registry {
	return s.registry
}

func (s *Supervisor) WorkspaceDir() string {
	return s.opts.WorkspaceDir
}

// Connect opens a session and queues the welcome banner.
func (s *Supervisor) Connect(id domain.SessionID) *Session {
	out := NewOutbox(s.opts.OutboxSize)
	s.metrics.SessionConnected()
	s.log.Info("client connected", "session", id)

	out.emit(domain.OutputEvent(msgConnected))
	out.emit(domain.OutputEvent(fmt.Sprintf("Workspace: %s\r\n", s.opts.WorkspaceDir)))
	out.emit(domain.OutputEvent(msgPrompt))

	return &Session{id: id, sup: s, out: out}
}

// SaveConfig writes cfg without spawning anything.
func (s *Supervisor) SaveConfig(ctx context.Context, id domain.SessionID, out *Outbox, cfg domain.Configuration) error {
	if err := s.writer.Write(ctx, cfg); err != nil {
		s.metrics.OperationFailed("config_write")
		s.log.Error("save configuration", "session", id, "error", err)
		out.emit(domain.OutputEvent(msgSaveFailed))
		return fmt.Errorf("%w: %w", domain.ErrConfigWrite, err)
	}

	s.log.Info("configuration saved", "session", id, "keys", len(cfg))
	out.emit(domain.OutputEvent(msgSaved))
	return nil
}

// Start serializes cfg and spawns command for the session. A session that
// already owns a process is rejected and the running process is untouched.
func (s *Supervisor) Start(ctx context.Context, id domain.SessionID, out *Outbox, command string, cfg domain.Configuration) error {
	entry := newActiveProcess(id, command, s.clock.Now())
	if existing, ok := s.registry.Reserve(entry); !ok {
		err := fmt.Errorf("%w (pid %d)", domain.ErrProcessActive, existing.PID())
		s.metrics.OperationFailed("busy")
		s.log.Warn("rejecting command while another is running", "session", id, "command", command, "pid", existing.PID())
		out.emit(domain.ErrorEvent("A command is already running; stop it before starting another"))
		return err
	}
	s.transition(entry, domain.ProcessStarting)

	if err := s.writer.Write(ctx, cfg); err != nil {
		s.abandon(entry)
		s.metrics.OperationFailed("config_write")
		s.log.Error("write configuration before command", "session", id, "error", err)
		out.emit(domain.ErrorEvent(msgConfigFailed))
		return fmt.Errorf("%w: %w", domain.ErrConfigWrite, err)
	}

	_, hasKey := cfg.Lookup(domain.KeyAccessKeyID)
	_, hasSecret := cfg.Lookup(domain.KeySecretAccessKey)
	region, _ := cfg.Lookup(domain.KeyRegion)
	s.log.Info("executing command",
		"session", id,
		"command", command,
		"dir", s.opts.WorkspaceDir,
		"access_key_present", hasKey,
		"secret_key_present", hasSecret,
		"region", region,
	)
	out.emit(domain.OutputEvent(fmt.Sprintf("Executing: %s\r\n", command)))

	proc, err := s.spawner.Spawn(ctx, ports.SpawnSpec{
		Command: command,
		Dir:     s.opts.WorkspaceDir,
		Env:     domain.BuildEnv(s.opts.Environ(), cfg.EnvOverrides()),
	})
	if err != nil {
		s.abandon(entry)
		s.metrics.OperationFailed("spawn")
		s.log.Error("spawn command", "session", id, "command", command, "error", err)
		out.emit(domain.ErrorEvent(fmt.Sprintf("Failed to start command: %s", err)))
		return fmt.Errorf("%w: %w", domain.ErrSpawn, err)
	}

	// Promote before the pump can observe an exit and move the entry to idle.
	entry.mu.Lock()
	entry.proc = proc
	stopRequested := entry.stopRequested
	promoted := !stopRequested && entry.state == domain.ProcessStarting
	if promoted {
		entry.state = domain.ProcessRunning
	}
	entry.mu.Unlock()

	if promoted {
		s.metrics.StateTransition(domain.ProcessStarting, domain.ProcessRunning)
	}
	s.metrics.ProcessStarted()
	s.log.Info("command started", "session", id, "pid", proc.PID())

	go s.pump(entry, proc, out)
	go s.feedInput(entry, proc)

	if stopRequested {
		if err := s.terminate(entry, proc); err != nil {
			s.log.Warn("terminate process stopped during start", "session", id, "pid", proc.PID(), "error", err)
		}
	}

	return nil
}

// SendInput writes data to the running child's stdin without blocking the
// caller. Input sent while nothing runs is discarded.
func (s *Supervisor) SendInput(id domain.SessionID, data []byte) error {
	entry, ok := s.registry.Lookup(id)
	if !ok || entry.State() != domain.ProcessRunning || !entry.Alive() {
		return domain.ErrNoActiveProcess
	}

	payload := append([]byte(nil), data...)
	select {
	case entry.input <- payload:
		return nil
	case <-entry.exited:
		return domain.ErrNoActiveProcess
	default:
		s.log.Warn("input queue full, dropping input", "session", id, "bytes", len(data))
		return fmt.Errorf("input queue full for session %s", id)
	}
}

// Stop sends SIGTERM to the session's process group, escalates to SIGKILL
// after the grace period and schedules a sweep for orphaned descendants. The
// registry entry is released before the child has exited.
func (s *Supervisor) Stop(id domain.SessionID, out *Outbox) error {
	entry, ok := s.registry.Take(id)
	if !ok || !entry.Alive() {
		out.emit(domain.OutputEvent(msgNothingToStop))
		return domain.ErrNoActiveProcess
	}
	s.metrics.StopRequested()

	entry.mu.Lock()
	proc := entry.proc
	if proc == nil {
		entry.stopRequested = true
	}
	entry.mu.Unlock()
	s.transition(entry, domain.ProcessStopping)

	if proc == nil {
		s.log.Info("stop requested before spawn completed", "session", id)
		out.emit(domain.OutputEvent(msgStopped))
		return nil
	}

	s.log.Info("stopping command", "session", id, "pid", proc.PID())
	err := s.terminate(entry, proc)
	s.scheduleSweep()
	if err != nil {
		s.metrics.OperationFailed("signal")
		s.log.Warn("stop command", "session", id, "pid", proc.PID(), "error", err)
		out.emit(domain.OutputEvent(fmt.Sprintf("\r\nError stopping command: %s\r\n$ ", err)))
		return err
	}

	out.emit(domain.OutputEvent(msgStopped))
	return nil
}

// Disconnect closes the session's outbox and terminates whatever it was
// running. Failures are logged and otherwise ignored.
func (s *Supervisor) Disconnect(id domain.SessionID, out *Outbox) {
	out.Close()
	s.metrics.SessionDisconnected()
	s.log.Info("client disconnected", "session", id)

	entry, ok := s.registry.Take(id)
	if !ok {
		return
	}

	entry.mu.Lock()
	proc := entry.proc
	if proc == nil {
		entry.stopRequested = true
	}
	entry.mu.Unlock()
	s.transition(entry, domain.ProcessStopping)

	if proc == nil || !entry.Alive() {
		return
	}
	if err := s.terminate(entry, proc); err != nil {
		s.log.Warn("terminate process on disconnect", "session", id, "pid", proc.PID(), "error", err)
	}
}

func (s *Supervisor) terminate(entry *ActiveProcess, proc ports.Process) error {
	err := proc.Signal(domain.SignalTerminate)
	s.clock.AfterFunc(s.opts.GracePeriod, func() {
		s.escalate(entry, proc)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSignal, err)
	}
	return nil
}

func (s *Supervisor) escalate(entry *ActiveProcess, proc ports.Process) {
	if !entry.Alive() {
		return
	}

	s.metrics.ForcedKill()
	s.log.Warn("process group did not exit after SIGTERM, sending SIGKILL", "session", entry.session, "pid", proc.PID())
	groupErr := proc.Signal(domain.SignalKill)
	if groupErr == nil {
		return
	}

	if leaderErr := proc.SignalLeader(domain.SignalKill); leaderErr != nil {
		s.log.Error("kill process", "session", entry.session, "pid", proc.PID(), "error", errors.Join(groupErr, leaderErr))
	}
}

func (s *Supervisor) scheduleSweep() {
	if s.sweeper == nil || s.opts.SweepPattern == "" {
		return
	}

	pattern := s.opts.SweepPattern
	s.clock.AfterFunc(s.opts.SweepDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		if err := s.sweeper.Sweep(ctx, pattern); err != nil {
			s.log.Debug("sweep stray provisioning processes", "pattern", pattern, "error", err)
			return
		}
		s.log.Debug("sweep completed", "pattern", pattern)
	})
}

func (s *Supervisor) pump(entry *ActiveProcess, proc ports.Process, out *Outbox) {
	var wg sync.WaitGroup
	wg.Add(2)
	go forward(&wg, proc.Stdout(), out)
	go forward(&wg, proc.Stderr(), out)
	wg.Wait()

	code, err := proc.Wait()
	if err != nil {
		s.log.Warn("wait for command", "session", entry.session, "pid", proc.PID(), "error", err)
	}

	close(entry.exited)
	s.transition(entry, domain.ProcessIdle)
	s.registry.Release(entry)
	s.metrics.ProcessExited(code, s.clock.Now().Sub(entry.startedAt))
	s.log.Info("command exited", "session", entry.session, "pid", proc.PID(), "code", code)

	out.emit(domain.OutputEvent(fmt.Sprintf("\r\nProcess exited with code %d\r\n", code)))
	out.emit(domain.CompleteEvent(code, proc.PID()))
}

func (s *Supervisor) feedInput(entry *ActiveProcess, proc ports.Process) {
	stdin := proc.Stdin()
	for {
		select {
		case data := <-entry.input:
			if _, err := stdin.Write(data); err != nil {
				s.log.Debug("write to stdin", "session", entry.session, "error", err)
			}
		case <-entry.exited:
			return
		}
	}
}

// abandon undoes a reservation whose spawn never happened.
func (s *Supervisor) abandon(entry *ActiveProcess) {
	s.registry.Release(entry)
	close(entry.exited)
	s.transition(entry, domain.ProcessIdle)
}

func (s *Supervisor) transition(entry *ActiveProcess, to domain.ProcessState) {
	if from := entry.setState(to); from != to {
		s.metrics.StateTransition(from, to)
	}
}

func forward(wg *sync.WaitGroup, r io.Reader, out *Outbox) {
	defer wg.Done()

	buf := make([]byte, readChunkSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			complete, rest := splitIncompleteRune(append(pending, buf[:n]...))
			pending = append([]byte(nil), rest...)
			if len(complete) > 0 {
				out.emit(domain.OutputEvent(string(complete)))
			}
		}
		if err != nil {
			if len(pending) > 0 {
				out.emit(domain.OutputEvent(string(pending)))
			}
			return
		}
	}
}

// splitIncompleteRune holds back a trailing partial UTF-8 sequence so it can
// be joined with the next read.
func splitIncompleteRune(chunk []byte) ([]byte, []byte) {
	for i := len(chunk) - 1; i >= 0 && i >= len(chunk)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(chunk[i]) {
			continue
		}
		if utf8.FullRune(chunk[i:]) {
			return chunk, nil
		}
		return chunk[:i], chunk[i:]
	}
	return chunk, nil
}
