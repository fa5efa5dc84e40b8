package fileutils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/response"
)

func lookup(t *testing.T, r *registry.Registry, name string) registry.Command {
	t.Helper()
	cmd, err := r.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return cmd
}

func request(t *testing.T, inputs, params any) registry.Request {
	t.Helper()
	in, err := json.Marshal(inputs)
	if err != nil {
		t.Fatalf("marshal inputs: %v", err)
	}
	req := registry.Request{Inputs: in}
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Parameters = p
	}
	return req
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var sink bytes.Buffer
	out, err := lookup(t, New(nil), "list").Invoke(context.Background(), &sink, request(t, map[string]any{"dir": map[string]string{"path": dir}}, nil))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	batch, ok := out.(response.BatchTextResponse)
	if !ok {
		t.Fatalf("expected BatchTextResponse, got %T", out)
	}
	var got []string
	for _, tx := range batch.Texts {
		got = append(got, tx.Value)
	}
	if strings.Join(got, ",") != "a.txt,b.txt,sub" {
		t.Fatalf("unexpected entries: %v", got)
	}
	if sink.String() != "a.txt\nb.txt\nsub\n" {
		t.Fatalf("unexpected echoed output: %q", sink.String())
	}
}

func TestListErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cases := []struct {
		name string
		path string
		want string
	}{
		{"missing", filepath.Join(dir, "nope"), "does not exist"},
		{"file", file, "is not a directory"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var sink bytes.Buffer
			_, err := lookup(t, New(nil), "list").Invoke(context.Background(), &sink, request(t, map[string]any{"dir": map[string]string{"path": tc.path}}, nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(sink.String(), tc.want) {
				t.Fatalf("expected %q in output, got %q", tc.want, sink.String())
			}
		})
	}
}

func writeLines(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString("line ")
		b.WriteString(string(rune('a' + i - 1)))
		b.WriteString("\n")
	}
	path := filepath.Join(t.TempDir(), "lines.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestHead(t *testing.T) {
	path := writeLines(t, 5)
	cases := []struct {
		name string
		n    int
		want string
	}{
		{"first two", 2, "line a\nline b"},
		{"more than file", 20, "line a\nline b\nline c\nline d\nline e"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := lookup(t, New(nil), "head").Invoke(context.Background(), io.Discard,
				request(t, map[string]any{"file": map[string]string{"path": path}}, map[string]int{"n": tc.n}))
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			text, ok := out.(response.TextResponse)
			if !ok {
				t.Fatalf("expected TextResponse, got %T", out)
			}
			if text.Value != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, text.Value)
			}
		})
	}
}

func TestHeadRejectsOutOfRange(t *testing.T) {
	path := writeLines(t, 3)
	for _, n := range []int{0, 1001} {
		_, err := lookup(t, New(nil), "head").Invoke(context.Background(), io.Discard,
			request(t, map[string]any{"file": map[string]string{"path": path}}, map[string]int{"n": n}))
		if err == nil {
			t.Fatalf("expected range error for n=%d", n)
		}
		if info := core.MapError(err, 400); info.Code != "invalid_parameter" {
			t.Fatalf("n=%d: expected invalid_parameter, got %+v", n, info)
		}
	}
}

func TestHeadPositionalArgs(t *testing.T) {
	path := writeLines(t, 12)
	cmd := lookup(t, New(nil), "head")
	req, err := cmd.ParseArgs([]string{path}, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := cmd.Invoke(context.Background(), io.Discard, req)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if got := strings.Count(out.(response.TextResponse).Value, "\n") + 1; got != defaultHeadLines {
		t.Fatalf("expected %d lines by default, got %d", defaultHeadLines, got)
	}

	if _, err := cmd.ParseArgs([]string{path}, []string{"many"}); err == nil {
		t.Fatal("expected parse error for non-numeric n")
	}
}

func TestPathPolicy(t *testing.T) {
	dir := t.TempDir()
	policy := core.NewPolicy("")
	policy.SetPathPolicy(dir)

	_, err := lookup(t, New(policy), "list").Invoke(context.Background(), io.Discard, request(t, map[string]any{"dir": map[string]string{"path": dir}}, nil))
	var violation *core.PolicyViolation
	if !errors.As(err, &violation) || violation.Code != core.ViolationPathForbidden {
		t.Fatalf("expected forbidden path violation, got %v", err)
	}
	if info := core.MapError(err, 400); info.HTTPStatus != 403 {
		t.Fatalf("expected 403, got %+v", info)
	}
}

func TestRunStaticNormalizesListing(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "only.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h := registry.NewHost("test")
	if err := h.Add(New(nil)); err != nil {
		t.Fatalf("add: %v", err)
	}
	cmd, err := h.Lookup("/fs/list")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	exec := core.NewExecutor(core.ExecutorConfig{})
	out := exec.RunStatic(context.Background(), cmd, request(t, map[string]any{"dir": map[string]string{"path": dir}}, nil))
	if !out.Success {
		t.Fatalf("expected success, got %q", out.Error)
	}
	if out.Result.OutputType() != response.OutputBatchText {
		t.Fatalf("unexpected output type %s", out.Result.OutputType())
	}
	if len(out.Stdout) != 1 || out.Stdout[0] != "only.txt" {
		t.Fatalf("unexpected stdout: %v", out.Stdout)
	}
}
