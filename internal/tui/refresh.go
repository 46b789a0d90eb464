package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/fwrdsync/internal/progress"
)

// ErrRefreshCanceled is returned when the user quits the progress view.
var ErrRefreshCanceled = errors.New("refresh canceled")

type snapshotMsg progress.Snapshot

type refreshDoneMsg struct{ err error }

// RefreshModel draws the tracker of a running pass as a progress bar.
type RefreshModel struct {
	label    string
	bar      bar.Model
	spinner  spinner.Model
	snap     progress.Snapshot
	started  bool
	done     bool
	canceled bool
	err      error
}

func NewRefreshModel(label string) RefreshModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = HeaderStyle
	return RefreshModel{
		label:   label,
		bar:     bar.New(bar.WithGradient(string(PrimaryColor), string(SecondaryColor)), bar.WithWidth(40)),
		spinner: s,
	}
}

func (m RefreshModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m RefreshModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.canceled = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.snap = progress.Snapshot(msg)
		if m.snap.Total > 0 {
			m.started = true
		}
		return m, m.bar.SetPercent(m.snap.Fraction())

	case refreshDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case bar.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		if p, ok := pm.(bar.Model); ok {
			m.bar = p
		}
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m RefreshModel) View() string {
	switch {
	case m.canceled:
		return RenderStatus(StatusWarn, MsgRefreshCanceled) + "\n"
	case m.done && m.err != nil:
		return RenderStatus(StatusError, m.err.Error()) + "\n"
	case m.done:
		return RenderStatus(StatusSuccess, m.label+" complete") + "\n"
	}
	tasks := ""
	if m.started {
		tasks = MutedStyle.Render(fmt.Sprintf(" %d/%d tasks", m.snap.Total-m.snap.Remaining, m.snap.Total))
	}
	return fmt.Sprintf("%s %s  %s%s\n", m.spinner.View(), m.label, m.bar.View(), tasks)
}

// Err is the outcome shown by the final frame.
func (m RefreshModel) Err() error {
	if m.canceled {
		return ErrRefreshCanceled
	}
	return m.err
}

// RefreshOptions configure RunRefresh. A nil In reads the terminal.
type RefreshOptions struct {
	Label string
	Out   io.Writer
	In    io.Reader
}

// RunRefresh runs fn while drawing tracker progress. Quitting the view
// cancels the context passed to fn and waits for it to return.
func RunRefresh(ctx context.Context, tracker *progress.Tracker, opts RefreshOptions, fn func(ctx context.Context) error) error {
	if opts.Label == "" {
		opts.Label = MsgRefreshing
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	teaOpts := []tea.ProgramOption{}
	if opts.Out != nil {
		teaOpts = append(teaOpts, tea.WithOutput(opts.Out))
	}
	if opts.In != nil {
		teaOpts = append(teaOpts, tea.WithInput(opts.In))
	}
	p := tea.NewProgram(NewRefreshModel(opts.Label), teaOpts...)

	unsubscribe := tracker.Subscribe(func(s progress.Snapshot) {
		p.Send(snapshotMsg(s))
	})
	defer unsubscribe()

	result := make(chan error, 1)
	go func() {
		err := fn(ctx)
		result <- err
		p.Send(refreshDoneMsg{err: err})
	}()

	final, runErr := p.Run()
	cancel()
	fnErr := <-result
	if runErr != nil {
		return runErr
	}
	if m, ok := final.(RefreshModel); ok && m.canceled {
		return ErrRefreshCanceled
	}
	return fnErr
}
