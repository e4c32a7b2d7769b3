//go:build unix

package posix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bnema/deployctl/internal/ports"
	"golang.org/x/sys/unix"
)

var ErrUnavailable = errors.New("pgrep command unavailable")

// pgrep exits with 1 when nothing matched.
const pgrepNoMatch = 1

type runFunc func(ctx context.Context, args ...string) (stdout string, stderr string, exitCode int, err error)

type killFunc func(pid int, sig unix.Signal) error

// Sweeper sends SIGTERM to every process whose full command line matches a
// pattern, skipping the server itself.
type Sweeper struct {
	run  runFunc
	kill killFunc
	self int
	log  *slog.Logger
}

var _ ports.Sweeper = (*Sweeper)(nil)

func NewSweeper(logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{run: runPgrep, kill: unix.Kill, self: os.Getpid(), log: logger}
}

func (s *Sweeper) Sweep(ctx context.Context, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stdout, stderr, code, err := s.run(ctx, "-f", pattern)
	if err != nil {
		if code == pgrepNoMatch {
			return nil
		}
		if stderr != "" {
			return fmt.Errorf("pgrep %q: %w: %s", pattern, err, stderr)
		}
		return fmt.Errorf("pgrep %q: %w", pattern, err)
	}

	var errs []error
	for _, field := range strings.Fields(stdout) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 || pid == s.self {
			continue
		}
		if err := s.kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("terminate stray pid %d: %w", pid, err))
			continue
		}
		s.log.Debug("terminated stray process", "pid", pid, "pattern", pattern)
	}

	return errors.Join(errs...)
}

func runPgrep(ctx context.Context, args ...string) (string, string, int, error) {
	path, err := exec.LookPath("pgrep")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", -1, ErrUnavailable
		}
		return "", "", -1, fmt.Errorf("locate pgrep command: %w", err)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return stdout.String(), strings.TrimSpace(stderr.String()), code, err
}
