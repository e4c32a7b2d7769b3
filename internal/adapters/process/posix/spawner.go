//go:build unix

// Package posix starts provisioning commands in their own process group and
// signals them as a unit.
package posix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
	"golang.org/x/sys/unix"
)

const DefaultShell = "/bin/sh"

type Spawner struct {
	shell string
}

var _ ports.Spawner = (*Spawner)(nil)

func NewSpawner(shell string) *Spawner {
	if shell == "" {
		shell = DefaultShell
	}
	return &Spawner{shell: shell}
}

// Spawn runs spec.Command through the shell as the leader of a new process
// group. The context only bounds startup; the child outlives it.
func (s *Spawner) Spawn(ctx context.Context, spec ports.SpawnSpec) (ports.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(s.shell, "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.shell, err)
	}

	return &process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

type process struct {
	cmd    *exec.Cmd
	pid    int
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (p *process) PID() int          { return p.pid }
func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }
func (p *process) Stdin() io.Writer  { return p.stdin }

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -1, nil
		}
		return exitErr.ExitCode(), nil
	}

	return -1, fmt.Errorf("wait for pid %d: %w", p.pid, err)
}

// Signal delivers sig to the whole process group. A group that no longer
// exists is not an error.
func (p *process) Signal(sig domain.Signal) error {
	return kill(-p.pid, sig)
}

func (p *process) SignalLeader(sig domain.Signal) error {
	return kill(p.pid, sig)
}

func kill(pid int, sig domain.Signal) error {
	signum, err := toUnixSignal(sig)
	if err != nil {
		return err
	}

	if err := unix.Kill(pid, signum); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("send %s to %d: %w", sig, pid, err)
	}
	return nil
}

func toUnixSignal(sig domain.Signal) (unix.Signal, error) {
	switch sig {
	case domain.SignalTerminate:
		return unix.SIGTERM, nil
	case domain.SignalKill:
		return unix.SIGKILL, nil
	default:
		return 0, fmt.Errorf("unsupported signal %q", sig)
	}
}
