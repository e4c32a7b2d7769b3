package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// clockSkewWarning is how far the server clock may drift before it is
// flagged.
const clockSkewWarning = 30 * time.Second

// Report is the outcome of probing one server's health endpoint.
type Report struct {
	Endpoint  string
	Status    string
	Workspace string
	// ServerTime is the timestamp the server reported.
	ServerTime time.Time
	Latency    time.Duration
	Err        error
}

func (r Report) Healthy() bool {
	return r.Err == nil && r.Status == "healthy"
}

type RenderOptions struct {
	Now time.Time
}

// fleetSummary aggregates the probe results shown in the header.
type fleetSummary struct {
	total     int
	healthy   int
	slowest   string
	slowestBy time.Duration
	skewed    int
}

func summarize(reports []Report, now time.Time) fleetSummary {
	sum := fleetSummary{total: len(reports)}
	for _, report := range reports {
		if report.Healthy() {
			sum.healthy++
		}
		if report.Err != nil {
			continue
		}
		if report.Latency > sum.slowestBy {
			sum.slowest = report.Endpoint
			sum.slowestBy = report.Latency
		}
		if clockSkew(report.ServerTime, now) > clockSkewWarning {
			sum.skewed++
		}
	}
	return sum
}

func (f fleetSummary) header() string {
	header := fmt.Sprintf("servers: %d, healthy: %d", f.total, f.healthy)
	if f.skewed > 0 {
		header += fmt.Sprintf(", clock skewed: %d", f.skewed)
	}
	return header
}

func renderView(reports []Report, sum fleetSummary, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Deployment Servers"),
		s.header.Render(sum.header()),
	}

	if len(reports) == 0 {
		lines = append(lines, s.empty.Render("No servers probed."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, report := range reports {
		lines = append(lines, s.section.Render(renderReport(report, opts, s)))
	}
	if sum.total > 1 && sum.slowest != "" {
		lines = append(lines, s.section.Render(field("slowest", fmt.Sprintf("%s (%s)", sum.slowest, formatLatency(sum.slowestBy)), s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderReport(report Report, opts RenderOptions, s styles) string {
	parts := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, s.server.Render(report.Endpoint), " ", statusBadge(report, s)),
	}

	if report.Err != nil {
		parts = append(parts, field("error", s.unhealthy.Render(report.Err.Error()), s))
		return lipgloss.JoinVertical(lipgloss.Left, parts...)
	}

	parts = append(parts,
		field("workspace", s.detail.Render(valueOrNA(report.Workspace)), s),
		field("latency", lipgloss.NewStyle().Foreground(latencyColor(report.Latency)).Render(formatLatency(report.Latency)), s),
	)

	if !report.ServerTime.IsZero() {
		serverTime := s.detail.Render(report.ServerTime.UTC().Format(time.RFC3339))
		if skew := clockSkew(report.ServerTime, opts.Now); skew > clockSkewWarning {
			serverTime += " " + s.warning.Render(fmt.Sprintf("[clock skew %s]", skew.Round(time.Second)))
		}
		parts = append(parts, field("server time", serverTime, s))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func statusBadge(report Report, s styles) string {
	switch {
	case report.Err != nil:
		return s.unhealthy.Render("[unreachable]")
	case report.Healthy():
		return s.healthy.Render("[healthy]")
	default:
		return s.unhealthy.Render(fmt.Sprintf("[%s]", valueOrNA(report.Status)))
	}
}

func field(key, value string, s styles) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, s.key.Render(key+":"), " ", value)
}

func valueOrNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return "n/a"
	}
	return value
}

func clockSkew(serverTime, now time.Time) time.Duration {
	if now.IsZero() || serverTime.IsZero() {
		return 0
	}
	skew := now.Sub(serverTime)
	if skew < 0 {
		skew = -skew
	}
	return skew
}

func formatLatency(d time.Duration) string {
	if d < time.Millisecond {
		return "<1ms"
	}
	return d.Round(time.Millisecond).String()
}

// latencyColor fades from bright white at zero to gray at one second or
// more.
func latencyColor(d time.Duration) lipgloss.Color {
	return interpolateColor(time.Second.Seconds()-d.Seconds(), 0, time.Second.Seconds())
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp from 240 to 255.
	baseColor := 240.0
	targetColor := 255.0
	return lipgloss.Color(fmt.Sprintf("%d", int(baseColor+(targetColor-baseColor)*normalized)))
}
