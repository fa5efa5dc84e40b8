package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rescuebox/rescuebox/internal/core"
)

func newTestWatch(t *testing.T) (watchModel, *watchRun, *bool) {
	t.Helper()
	run := &watchRun{output: make(chan string, 4), finished: make(chan struct{})}
	cancelled := false
	m := newWatchModel("/text/repeat", run, func() { cancelled = true }, newRenderer(&bytes.Buffer{}))
	return m, run, &cancelled
}

func update(t *testing.T, m watchModel, msg tea.Msg) (watchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	wm, ok := next.(watchModel)
	if !ok {
		t.Fatalf("unexpected model type %T", next)
	}
	return wm, cmd
}

func TestWatchModelFollowsOutput(t *testing.T) {
	m, run, _ := newTestWatch(t)
	if !strings.Contains(m.View(), "running /text/repeat") {
		t.Fatalf("expected running status:\n%s", m.View())
	}

	m, cmd := update(t, m, watchOutputMsg("repeat 1\n"))
	m, _ = update(t, m, watchOutputMsg("repeat 2\n"))
	if cmd == nil {
		t.Fatal("expected the model to keep listening for output")
	}
	view := m.View()
	for _, want := range []string{"repeat 1", "repeat 2"} {
		if !strings.Contains(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}

	run.outcome = core.Outcome{Success: true}
	close(run.finished)
	m, cmd = update(t, m, watchOutputClosedMsg{})
	if cmd == nil {
		t.Fatal("expected a wait command after output closes")
	}
	done, ok := cmd().(watchDoneMsg)
	if !ok || !done.success {
		t.Fatalf("unexpected done message %#v", done)
	}
	m, cmd = update(t, m, done)
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit after the run finishes")
	}
	if !strings.Contains(m.View(), "done /text/repeat") {
		t.Fatalf("expected done status:\n%s", m.View())
	}
}

func TestWatchModelCancel(t *testing.T) {
	m, _, cancelled := newTestWatch(t)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !*cancelled {
		t.Fatal("expected q to cancel the run")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected quit")
	}
	if !strings.Contains(m.View(), "cancelled /text/repeat") {
		t.Fatalf("expected cancelled status:\n%s", m.View())
	}
}

func TestWatchModelFailure(t *testing.T) {
	m, _, _ := newTestWatch(t)
	m, _ = update(t, m, watchDoneMsg{success: false})
	if !strings.Contains(m.View(), "failed /text/repeat") {
		t.Fatalf("expected failed status:\n%s", m.View())
	}
}

func TestLiveOutputWriterDropsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan string)
	w := liveOutputWriter{ctx: ctx, ch: ch}
	cancel()

	done := make(chan struct{})
	go func() {
		n, err := w.Write([]byte("late\n"))
		if n != 5 || err != nil {
			t.Errorf("write: %d %v", n, err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write blocked after cancel")
	}
}
