package ports

import (
	"context"
	"io"

	"github.com/bnema/deployctl/internal/domain"
)

type SpawnSpec struct {
	Command string
	Dir     string
	Env     []string
}

// ProcessGroup signals a detached child. Signal reaches every member of the
// group; SignalLeader reaches only the direct child.
type ProcessGroup interface {
	Signal(sig domain.Signal) error
	SignalLeader(sig domain.Signal) error
}

// Process is a started child. Stdout and Stderr must be drained before Wait.
type Process interface {
	ProcessGroup
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	Stdin() io.Writer
	// Wait blocks until exit and returns the exit code, -1 when killed by a
	// signal.
	Wait() (int, error)
}

type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec) (Process, error)
}

// Sweeper kills stray processes whose command line matches pattern.
type Sweeper interface {
	Sweep(ctx context.Context, pattern string) error
}
