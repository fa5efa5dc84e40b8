package registry

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rescuebox/rescuebox/internal/schema"
)

func TestHostAdd(t *testing.T) {
	h := NewHost("test")
	if err := h.Add(New("fs")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		name string
		reg  *Registry
	}{
		{name: "duplicate", reg: New("fs")},
		{name: "reserved manage", reg: New(ManagePlugin)},
		{name: "reserved api", reg: New("api")},
		{name: "invalid", reg: New("Bad Name")},
		{name: "nil", reg: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.Add(tt.reg); err == nil {
				t.Fatal("expected Add to fail")
			}
		})
	}
}

func TestHostGetAndList(t *testing.T) {
	h := NewHost("test")
	for _, name := range []string{"text_summary", "fs"} {
		if err := h.Add(New(name)); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	var names []string
	for _, r := range h.List() {
		names = append(names, r.Name())
	}
	if !reflect.DeepEqual(names, []string{"text_summary", "fs"}) {
		t.Fatalf("List = %v", names)
	}
	if _, err := h.Get("missing"); !errors.Is(err, ErrPluginNotFound) {
		t.Fatalf("expected ErrPluginNotFound, got %v", err)
	}
	if m, err := h.Get(ManagePlugin); err != nil || m.Name() != ManagePlugin {
		t.Fatalf("expected manage registry, got %v, %v", m, err)
	}
}

func TestHostLookup(t *testing.T) {
	h := NewHost("test")
	r := New("text_summary")
	MustRegister(r, summaryOperation())
	if err := h.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}

	cmd, err := h.Lookup("/text_summary/summarize/payload_schema")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if cmd.Kind != KindRead {
		t.Fatalf("kind = %s", cmd.Kind)
	}
	if _, err := h.Lookup("/text_summary/missing"); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
}

func TestManageCommands(t *testing.T) {
	h := NewHost("1.2.3")
	fs := New("fs")
	fs.SetAppMetadata(schema.AppMetadata{Name: "File utils"})
	if err := h.Add(fs); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := h.Add(New("audio")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	info, err := h.Lookup("/manage/info")
	if err != nil {
		t.Fatalf("Lookup info: %v", err)
	}
	req, err := info.ParseArgs(nil, nil)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	got, err := info.Invoke(context.Background(), &bytes.Buffer{}, req)
	if err != nil || got != "RescueBox plugin host 1.2.3" {
		t.Fatalf("info = %v, %v", got, err)
	}

	list, err := h.Lookup("/manage/list_plugins")
	if err != nil {
		t.Fatalf("Lookup list_plugins: %v", err)
	}
	var out bytes.Buffer
	got, err = list.Invoke(context.Background(), &out, req)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"fs", "audio"}) {
		t.Fatalf("list_plugins = %v", got)
	}
	if out.String() != "Plugins:\n- File utils, fs\n- audio, audio\n" {
		t.Fatalf("captured = %q", out.String())
	}

	plugins := h.Plugins()
	if len(plugins) != 2 || plugins[0].Metadata == nil || plugins[1].Metadata != nil {
		t.Fatalf("unexpected plugin infos: %+v", plugins)
	}
}
