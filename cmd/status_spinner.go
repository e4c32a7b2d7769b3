package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type probeProgressMsg struct{}

type probeDoneMsg struct {
	err error
}

// probeSpinnerModel shows how many servers have answered while the probes
// run.
type probeSpinnerModel struct {
	spinner  spinner.Model
	probe    tea.Cmd
	total    int
	finished int
	err      error
	done     bool
}

func newProbeSpinnerModel(total int, probe tea.Cmd) probeSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return probeSpinnerModel{
		spinner: s,
		probe:   probe,
		total:   total,
	}
}

func (m probeSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.probe)
}

func (m probeSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case probeProgressMsg:
		if m.finished < m.total {
			m.finished++
		}
		return m, nil
	case probeDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m probeSpinnerModel) View() string {
	if m.done {
		return ""
	}

	noun := "servers"
	if m.total == 1 {
		noun = "server"
	}
	return fmt.Sprintf("%s Probing deployment %s... %d/%d", m.spinner.View(), noun, m.finished, m.total)
}

// runProbeSpinner runs probe behind a spinner. probe calls its progress
// callback once per finished server.
func runProbeSpinner(ctx context.Context, output io.Writer, total int, probe func(ctx context.Context, progress func()) error) error {
	var p *tea.Program
	probeCmd := func() tea.Msg {
		return probeDoneMsg{err: probe(ctx, func() { p.Send(probeProgressMsg{}) })}
	}

	p = tea.NewProgram(
		newProbeSpinnerModel(total, probeCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(probeSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.err
}
