package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/registry"
)

// watchRun is one invocation shown by the watch view. outcome is valid once
// finished is closed.
type watchRun struct {
	output   chan string
	finished chan struct{}
	outcome  core.Outcome
}

type watchOutputMsg string

type watchOutputClosedMsg struct{}

type watchDoneMsg struct {
	success bool
}

// liveOutputWriter hands output chunks to the view and drops them once ctx
// is done.
type liveOutputWriter struct {
	ctx context.Context
	ch  chan<- string
}

func (w liveOutputWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case w.ch <- string(p):
	case <-w.ctx.Done():
	}
	return len(p), nil
}

func listenOutputCmd(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return watchOutputClosedMsg{}
		}
		return watchOutputMsg(data)
	}
}

func waitFinishedCmd(run *watchRun) tea.Cmd {
	return func() tea.Msg {
		<-run.finished
		return watchDoneMsg{success: run.outcome.Success}
	}
}

type watchModel struct {
	path      string
	run       *watchRun
	cancel    context.CancelFunc
	styles    *renderer
	spinner   spinner.Model
	viewport  viewport.Model
	output    string
	done      bool
	success   bool
	cancelled bool
}

func newWatchModel(path string, run *watchRun, cancel context.CancelFunc, styles *renderer) watchModel {
	return watchModel{
		path:     path,
		run:      run,
		cancel:   cancel,
		styles:   styles,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.title)),
		viewport: viewport.New(80, 10),
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenOutputCmd(m.run.output))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.done {
				m.cancelled = true
				m.cancel()
			}
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 3)
		return m, nil
	case watchOutputMsg:
		m.output += string(msg)
		m.viewport.SetContent(strings.TrimRight(m.output, "\n"))
		m.viewport.GotoBottom()
		return m, listenOutputCmd(m.run.output)
	case watchOutputClosedMsg:
		return m, waitFinishedCmd(m.run)
	case watchDoneMsg:
		m.done = true
		m.success = msg.success
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var status string
	switch {
	case m.cancelled:
		status = m.styles.fail.Render("cancelled " + m.path)
	case !m.done:
		status = m.spinner.View() + " " + m.styles.title.Render("running "+m.path)
	case m.success:
		status = m.styles.ok.Render("done " + m.path)
	default:
		status = m.styles.fail.Render("failed " + m.path)
	}
	return status + "\n" + m.styles.muted.Render(m.viewport.View()) + "\n" + m.styles.muted.Render("q: cancel") + "\n"
}

// runWatch runs cmd statically while a terminal view follows its output,
// then prints the result.
func runWatch(ctx context.Context, env Env, cmd registry.Command, req registry.Request) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &watchRun{output: make(chan string, 64), finished: make(chan struct{})}
	go func() {
		out := env.Exec.RunStaticLive(ctx, cmd, req, liveOutputWriter{ctx: ctx, ch: run.output})
		close(run.output)
		run.outcome = out
		close(run.finished)
	}()

	r := newRenderer(env.Stdout)
	opts := []tea.ProgramOption{tea.WithOutput(env.Stdout)}
	if env.Stdin != nil {
		opts = append(opts, tea.WithInput(env.Stdin))
	}
	if _, err := tea.NewProgram(newWatchModel(cmd.Path, run, cancel, r), opts...).Run(); err != nil {
		cancel()
		<-run.finished
		return fmt.Errorf("watch: %w", err)
	}

	<-run.finished
	out := run.outcome
	out.Stdout = nil
	r.outcome(cmd, out)
	if !out.Success {
		return fmt.Errorf("command aborted: %s", out.Error)
	}
	return nil
}
