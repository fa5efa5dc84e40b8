package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/response"
)

type renderer struct {
	w     io.Writer
	title lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	fail  lipgloss.Style
	path  lipgloss.Style
}

// newRenderer picks colors for w; writers that are not terminals get plain text.
func newRenderer(w io.Writer) *renderer {
	lr := lipgloss.NewRenderer(w)
	return &renderer{
		w:     w,
		title: lr.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
		muted: lr.NewStyle().Foreground(lipgloss.Color("241")),
		ok:    lr.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		fail:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		path:  lr.NewStyle().Underline(true),
	}
}

func (r *renderer) line(s string) { fmt.Fprintln(r.w, s) }

func (r *renderer) outcome(cmd registry.Command, out core.Outcome) {
	for _, l := range out.Stdout {
		r.line(r.muted.Render(l))
	}
	if !out.Success {
		r.line(r.fail.Render("failed: " + cmd.Path))
		return
	}
	if out.Result != nil {
		r.body(*out.Result)
	}
	if out.EvidenceHash != "" {
		r.line(r.muted.Render("evidence " + out.EvidenceHash))
	}
}

func (r *renderer) heading(title, subtitle string) {
	if title != "" {
		r.line(r.title.Render(title))
	}
	if subtitle != "" {
		r.line(r.muted.Render(subtitle))
	}
}

func (r *renderer) body(b response.Body) {
	switch v := b.Unwrap().(type) {
	case response.TextResponse:
		r.heading(v.Title, v.Subtitle)
		r.line(v.Value)
	case response.BatchTextResponse:
		for _, t := range v.Texts {
			r.heading(t.Title, t.Subtitle)
			r.line("- " + t.Value)
		}
	case response.FileResponse:
		r.heading(v.Title, v.Subtitle)
		r.line(fmt.Sprintf("%s (%s)", r.path.Render(v.Path), v.FileType))
	case response.BatchFileResponse:
		for _, f := range v.Files {
			r.heading(f.Title, f.Subtitle)
			r.line(fmt.Sprintf("- %s (%s)", r.path.Render(f.Path), f.FileType))
		}
	case response.DirectoryResponse:
		r.heading(v.Title, v.Subtitle)
		r.line(r.path.Render(v.Path) + "/")
	case response.BatchDirectoryResponse:
		for _, d := range v.Directories {
			r.heading(d.Title, d.Subtitle)
			r.line("- " + r.path.Render(d.Path) + "/")
		}
	case response.MarkdownResponse:
		r.line(v.Markdown)
	}
}
