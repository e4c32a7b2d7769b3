package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bnema/deployctl/internal/application"
	"github.com/bnema/deployctl/internal/domain"
	"github.com/bnema/deployctl/internal/ports/portstest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})

	resp, err := http.Get(env.http.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, HealthResponse{
		Status:    "healthy",
		Timestamp: "2026-10-19T12:00:00.000Z",
		Workspace: "/workspace/terraform",
	}, health)
}

func TestPreflightIsAnswered(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})

	req, err := http.NewRequest(http.MethodOptions, env.http.URL+HealthPath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://console.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsRouteIsOptional(t *testing.T) {
	t.Parallel()

	without := newTestEnv(t, Options{})
	resp, err := http.Get(without.http.URL + MetricsPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	with := newTestEnv(t, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "deployctl_sessions_connected 0\n")
	})})
	resp, err = http.Get(with.http.URL + MetricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "deployctl_sessions_connected 0\n", string(body))
}

func TestSocketExecuteStreamsOutputAndCompletion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	conn := env.dial(t, nil)
	env.readBanner(t, conn)

	writeJSON(t, conn, map[string]any{
		"type":    TypeExecuteCommand,
		"command": "terraform validate",
		"config": map[string]any{
			"AWS_REGION":       "us-east-1",
			"ASG_MIN_SIZE":     1,
			"METRICS_ENABLED":  true,
			"GRAFANA_PASSWORD": nil,
		},
	})

	proc := env.nextProcess(t)
	assert.Equal(t, "terraform validate", proc.Spec.Command)
	assert.Equal(t, []domain.Configuration{{
		"AWS_REGION":      "us-east-1",
		"ASG_MIN_SIZE":    "1",
		"METRICS_ENABLED": "true",
	}}, env.writer.Written())

	assert.Equal(t, OutboundMessage{Type: "output", Data: "Executing: terraform validate\r\n"}, readMessage(t, conn))

	proc.WriteStdout("Success! The configuration is valid.\n")
	assert.Equal(t, OutboundMessage{Type: "output", Data: "Success! The configuration is valid.\n"}, readMessage(t, conn))

	proc.Exit(0)
	assert.Equal(t, OutboundMessage{Type: "output", Data: "\r\nProcess exited with code 0\r\n"}, readMessage(t, conn))

	complete := readMessage(t, conn)
	assert.Equal(t, "command-complete", complete.Type)
	require.NotNil(t, complete.ExitCode)
	assert.Equal(t, 0, *complete.ExitCode)
	assert.Equal(t, proc.PID(), complete.PID)
}

func TestSocketReportsBadMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	conn := env.dial(t, nil)
	env.readBanner(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.True(t, strings.HasPrefix(msg.Data, "Invalid message:"))

	writeJSON(t, conn, map[string]any{"type": "reboot"})
	assert.Equal(t, OutboundMessage{Type: "error", Data: `Unknown message type "reboot"`}, readMessage(t, conn))

	writeJSON(t, conn, map[string]any{"type": TypeExecuteCommand})
	assert.Equal(t, OutboundMessage{Type: "error", Data: "Missing command"}, readMessage(t, conn))
	assert.Empty(t, env.spawner.Specs())
}

func TestSocketStopAndSaveConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	conn := env.dial(t, nil)
	env.readBanner(t, conn)

	writeJSON(t, conn, map[string]any{"type": TypeStopCommand})
	assert.Equal(t, OutboundMessage{Type: "output", Data: "\r\nNo active command to stop\r\n$ "}, readMessage(t, conn))

	writeJSON(t, conn, map[string]any{"type": TypeSaveConfig, "config": map[string]any{"FQDOMAIN": "example.com"}})
	assert.Equal(t, OutboundMessage{Type: "output", Data: "\r\n✅ Configuration saved successfully\r\n$ "}, readMessage(t, conn))
	assert.Equal(t, []domain.Configuration{{"FQDOMAIN": "example.com"}}, env.writer.Written())

	writeJSON(t, conn, map[string]any{"type": TypeExecuteCommand, "command": "terraform apply"})
	proc := env.nextProcess(t)
	readMessage(t, conn)

	writeJSON(t, conn, map[string]any{"type": TypeInput, "data": "yes\n"})
	assert.Eventually(t, func() bool { return proc.Input() == "yes\n" }, 2*time.Second, 10*time.Millisecond)

	writeJSON(t, conn, map[string]any{"type": TypeStopCommand})
	assert.Equal(t, OutboundMessage{Type: "output", Data: "\r\n^C Command stopped (terminating all processes...)\r\n$ "}, readMessage(t, conn))
	assert.Equal(t, []portstest.SignalCall{{Signal: domain.SignalTerminate, Group: true}}, proc.Signals())
	proc.Exit(-1)
}

func TestSocketDisconnectTerminatesProcess(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	conn := env.dial(t, nil)
	env.readBanner(t, conn)

	writeJSON(t, conn, map[string]any{"type": TypeExecuteCommand, "command": "terraform apply"})
	proc := env.nextProcess(t)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return len(proc.Signals()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, env.sup.Registry().Len())
	proc.Exit(-1)
}

func TestSocketRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{AllowedOrigins: []string{"https://deploy.example.com"}})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := env.dial(t, http.Header{"Origin": []string{"https://deploy.example.com"}})
	env.readBanner(t, conn)
}

func TestShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	conn := env.dial(t, nil)
	env.readBanner(t, conn)

	writeJSON(t, conn, map[string]any{"type": TypeExecuteCommand, "command": "packer build ."})
	proc := env.nextProcess(t)
	readMessage(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	assert.Equal(t, []portstest.SignalCall{{Signal: domain.SignalTerminate, Group: true}}, proc.Signals())
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	proc.Exit(-1)
}

func TestEncodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event domain.Event
		want  string
	}{
		{name: "output", event: domain.OutputEvent("hello\r\n"), want: `{"type":"output","data":"hello\r\n"}`},
		{name: "error", event: domain.ErrorEvent("boom"), want: `{"type":"error","data":"boom"}`},
		{name: "complete zero", event: domain.CompleteEvent(0, 0), want: `{"type":"command-complete","exitCode":0}`},
		{name: "complete killed", event: domain.CompleteEvent(-1, 4242), want: `{"type":"command-complete","exitCode":-1,"pid":4242}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := encodeEvent(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestDecodeInboundRequiresType(t *testing.T) {
	t.Parallel()

	_, err := decodeInbound([]byte(`{"command":"ls"}`))
	require.ErrorIs(t, err, errMissingType)

	msg, err := decodeInbound([]byte(`{"type":"input","data":"y\n"}`))
	require.NoError(t, err)
	assert.Equal(t, InboundMessage{Type: TypeInput, Data: "y\n"}, msg)
}

type testEnv struct {
	sup     *application.Supervisor
	writer  *portstest.FakeConfigWriter
	spawner *portstest.FakeSpawner
	server  *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		writer:  &portstest.FakeConfigWriter{},
		spawner: portstest.NewFakeSpawner(),
	}
	env.sup = application.NewSupervisor(env.writer, env.spawner, &portstest.FakeSweeper{}, application.SupervisorOptions{
		WorkspaceDir: "/workspace/terraform",
		Environ:      func() []string { return nil },
		Clock:        portstest.NewFakeClock(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)),
		Logger:       logger,
	})

	opts.Logger = logger
	opts.Now = func() time.Time { return time.Date(2026, 10, 19, 14, 0, 0, 0, time.FixedZone("CEST", 2*60*60)) }
	env.server = NewServer(env.sup, opts)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)

	return env
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + SocketPath
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) readBanner(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	assert.Equal(t, OutboundMessage{Type: "output", Data: "Connected to S3 Gateway Deployment Server\r\n"}, readMessage(t, conn))
	assert.Equal(t, OutboundMessage{Type: "output", Data: "Workspace: /workspace/terraform\r\n"}, readMessage(t, conn))
	assert.Equal(t, OutboundMessage{Type: "output", Data: "$ "}, readMessage(t, conn))
}

func (e *testEnv) nextProcess(t *testing.T) *portstest.FakeProcess {
	t.Helper()

	select {
	case proc := <-e.spawner.Spawned:
		return proc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for spawn")
		return nil
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readMessage(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg OutboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}
