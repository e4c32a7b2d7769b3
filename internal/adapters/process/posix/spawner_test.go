//go:build unix

package posix

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSpawnerStreamsOutputAndExitCode(t *testing.T) {
	t.Parallel()

	proc, err := NewSpawner("").Spawn(context.Background(), ports.SpawnSpec{
		Command: "echo out; echo err >&2; exit 3",
		Env:     testEnv(),
	})
	require.NoError(t, err)
	assert.Positive(t, proc.PID())

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	stderr, err := io.ReadAll(proc.Stderr())
	require.NoError(t, err)

	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "out\n", string(stdout))
	assert.Equal(t, "err\n", string(stderr))
}

func TestSpawnerUsesDirAndEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	proc, err := NewSpawner(DefaultShell).Spawn(context.Background(), ports.SpawnSpec{
		Command: `pwd; echo "region=$AWS_REGION"`,
		Dir:     dir,
		Env:     append(testEnv(), "AWS_REGION=eu-west-3"),
	})
	require.NoError(t, err)

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, proc.Stderr())
	code, err := proc.Wait()
	require.NoError(t, err)

	assert.Equal(t, 0, code)
	assert.Equal(t, resolved+"\nregion=eu-west-3\n", string(stdout))
}

func TestSpawnerForwardsStdin(t *testing.T) {
	t.Parallel()

	proc, err := NewSpawner("").Spawn(context.Background(), ports.SpawnSpec{
		Command: `read answer; echo "got $answer"`,
		Env:     testEnv(),
	})
	require.NoError(t, err)

	_, err = proc.Stdin().Write([]byte("yes\n"))
	require.NoError(t, err)

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, proc.Stderr())
	code, err := proc.Wait()
	require.NoError(t, err)

	assert.Equal(t, 0, code)
	assert.Equal(t, "got yes\n", string(stdout))
}

func TestProcessGroupSignalReachesDescendants(t *testing.T) {
	t.Parallel()

	proc, err := NewSpawner("").Spawn(context.Background(), ports.SpawnSpec{
		Command: "sleep 30 & echo $!; wait",
		Env:     testEnv(),
	})
	require.NoError(t, err)

	reader := bufio.NewReader(proc.Stdout())
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	childPID, err := strconv.Atoi(strings.TrimSpace(line))
	require.NoError(t, err)

	require.NoError(t, proc.Signal(domain.SignalTerminate))

	_, _ = io.Copy(io.Discard, reader)
	_, _ = io.Copy(io.Discard, proc.Stderr())
	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, -1, code)

	assert.Eventually(t, func() bool {
		return unix.Kill(childPID, 0) == unix.ESRCH
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSignalLeaderAndExitedGroup(t *testing.T) {
	t.Parallel()

	proc, err := NewSpawner("").Spawn(context.Background(), ports.SpawnSpec{
		Command: "exec sleep 30",
		Env:     testEnv(),
	})
	require.NoError(t, err)

	require.NoError(t, proc.SignalLeader(domain.SignalKill))
	_, _ = io.Copy(io.Discard, proc.Stdout())
	_, _ = io.Copy(io.Discard, proc.Stderr())
	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, -1, code)

	assert.NoError(t, proc.Signal(domain.SignalKill))
}

func TestSpawnerRejectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSpawner("").Spawn(ctx, ports.SpawnSpec{Command: "true"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSpawnerReportsMissingShell(t *testing.T) {
	t.Parallel()

	_, err := NewSpawner(filepath.Join(t.TempDir(), "missing-shell")).Spawn(context.Background(), ports.SpawnSpec{Command: "true"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "missing-shell")
}

func TestSpawnerReportsMissingDir(t *testing.T) {
	t.Parallel()

	_, err := NewSpawner("").Spawn(context.Background(), ports.SpawnSpec{
		Command: "true",
		Dir:     filepath.Join(t.TempDir(), "absent"),
	})
	require.Error(t, err)
}

func TestToUnixSignalRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := toUnixSignal(domain.Signal("SIGHUP"))
	require.Error(t, err)
}

func testEnv() []string {
	return []string{"PATH=" + os.Getenv("PATH")}
}
