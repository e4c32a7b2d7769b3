package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	healthadapter "github.com/bnema/deployctl/internal/adapters/render/health"
	"github.com/bnema/deployctl/internal/adapters/transport/ws"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentProbes = 8

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var servers []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe deployment servers and display their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(servers) == 0 {
				s, err := loadSettings(opts.configPath)
				if err != nil {
					return err
				}
				servers = []string{localServerURL(s.Server.Host, s.Server.Port)}
			}

			return runStatus(cmd, newStatusClient(), servers, asJSON)
		},
	}

	cmd.Flags().StringArrayVar(&servers, "server", nil, "Server base URL to probe, repeatable (default: the local server)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

type statusJSON struct {
	Endpoint   string `json:"endpoint"`
	Healthy    bool   `json:"healthy"`
	Status     string `json:"status,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
	ServerTime string `json:"server_time,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, client *statusClient, servers []string, asJSON bool) error {
	reports := make([]healthadapter.Report, len(servers))

	probe := func(ctx context.Context, progress func()) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentProbes)
		for i, server := range servers {
			g.Go(func() error {
				reports[i] = probeServer(gctx, client, server)
				progress()
				return nil
			})
		}
		return g.Wait()
	}

	if asJSON {
		if err := probe(cmd.Context(), func() {}); err != nil {
			return err
		}
		return writeStatusJSON(cmd, reports)
	}

	if err := runProbeSpinner(cmd.Context(), cmd.ErrOrStderr(), len(servers), probe); err != nil {
		return err
	}

	rendered, err := client.renderer(reports, healthadapter.RenderOptions{Now: client.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func probeServer(ctx context.Context, client *statusClient, server string) healthadapter.Report {
	report := healthadapter.Report{Endpoint: server}

	health, latency, err := ws.FetchHealth(ctx, client.httpClient, server)
	report.Latency = latency
	if err != nil {
		report.Err = err
		return report
	}

	report.Status = health.Status
	report.Workspace = health.Workspace
	if ts, err := health.ParseTimestamp(); err == nil {
		report.ServerTime = ts
	}

	return report
}

func writeStatusJSON(cmd *cobra.Command, reports []healthadapter.Report) error {
	out := make([]statusJSON, 0, len(reports))
	for _, report := range reports {
		entry := statusJSON{
			Endpoint:  report.Endpoint,
			Healthy:   report.Healthy(),
			Status:    report.Status,
			Workspace: report.Workspace,
			LatencyMS: report.Latency.Milliseconds(),
		}
		if !report.ServerTime.IsZero() {
			entry.ServerTime = report.ServerTime.UTC().Format(time.RFC3339Nano)
		}
		if report.Err != nil {
			entry.Error = report.Err.Error()
		}
		out = append(out, entry)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func localServerURL(host string, port int) string {
	if strings.TrimSpace(host) == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
