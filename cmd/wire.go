package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bnema/deployctl/internal/adapters/configfile"
	promadapter "github.com/bnema/deployctl/internal/adapters/metrics/prometheus"
	"github.com/bnema/deployctl/internal/adapters/process/posix"
	healthadapter "github.com/bnema/deployctl/internal/adapters/render/health"
	"github.com/bnema/deployctl/internal/adapters/settings"
	"github.com/bnema/deployctl/internal/adapters/transport/ws"
	"github.com/bnema/deployctl/internal/application"
	"github.com/bnema/deployctl/internal/ports"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

type app struct {
	settings   settings.Settings
	logger     *slog.Logger
	supervisor *application.Supervisor
	server     *ws.Server
	collector  *promadapter.Collector
}

// statusClient carries what the status command needs to probe servers.
type statusClient struct {
	renderer   func([]healthadapter.Report, healthadapter.RenderOptions) (string, error)
	httpClient *http.Client
	now        func() time.Time
}

func loadSettings(configPath string) (settings.Settings, error) {
	s, err := settings.Load(viper.New(), configPath)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

func wireApp(s settings.Settings, logOutput io.Writer) (*app, error) {
	logger, err := newLogger(s.LogLevel, logOutput)
	if err != nil {
		return nil, err
	}

	writer, err := configfile.NewWriter(s.ConfigFile, logger)
	if err != nil {
		return nil, fmt.Errorf("wire config writer: %w", err)
	}

	var (
		metrics   ports.Metrics = ports.NopMetrics{}
		collector *promadapter.Collector
	)
	if s.Metrics {
		collector = promadapter.NewCollector(promadapter.DefaultNamespace)
		metrics = collector
	}

	supervisor := application.NewSupervisor(
		writer,
		posix.NewSpawner(s.Process.Shell),
		posix.NewSweeper(logger),
		application.SupervisorOptions{
			WorkspaceDir: s.Workspace,
			GracePeriod:  s.Process.GracePeriod,
			SweepDelay:   s.Process.SweepDelay,
			SweepPattern: s.Process.SweepPattern,
			OutboxSize:   s.WebSocket.SendBuffer,
			Clock:        ports.SystemClock{},
			Metrics:      metrics,
			Logger:       logger,
		},
	)

	serverOpts := ws.Options{
		Addr:           s.Server.Addr(),
		AllowedOrigins: s.WebSocket.AllowedOrigins,
		Logger:         logger,
	}
	if collector != nil {
		serverOpts.Metrics = collector.Handler()
	}

	return &app{
		settings:   s,
		logger:     logger,
		supervisor: supervisor,
		server:     ws.NewServer(supervisor, serverOpts),
		collector:  collector,
	}, nil
}

func newStatusClient() *statusClient {
	return &statusClient{
		renderer:   healthadapter.Render,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		now:        time.Now,
	}
}

// newLogger routes slog records through a charm log handler.
func newLogger(level string, output io.Writer) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	handler := log.NewWithOptions(output, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "deployctl",
		Level:           lvl,
	})
	return slog.New(handler), nil
}
