package health

import (
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// summaryMsg carries the aggregate computed off the update loop.
type summaryMsg struct {
	summary fleetSummary
}

// model renders in two steps: Init summarizes the reports, and the summary
// message lays out the view and quits.
type model struct {
	reports []Report
	opts    RenderOptions
	styles  styles
	summary fleetSummary
	output  string
}

func newModel(reports []Report, opts RenderOptions) model {
	return model{
		reports: reports,
		opts:    opts,
		styles:  newStyles(),
	}
}

func (m model) Init() tea.Cmd {
	reports, now := m.reports, m.opts.Now
	return func() tea.Msg {
		return summaryMsg{summary: summarize(reports, now)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(summaryMsg); ok {
		m.summary = msg.summary
		m.output = renderView(m.reports, m.summary, m.opts, m.styles)
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	return m.output
}

// Render lays out one block per report under a fleet summary header.
func Render(reports []Report, opts RenderOptions) (string, error) {
	final, err := tea.NewProgram(
		newModel(reports, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	).Run()
	if err != nil {
		return "", err
	}

	rendered, ok := final.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}
	return rendered.View(), nil
}
