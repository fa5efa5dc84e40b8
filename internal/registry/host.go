package registry

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/rescuebox/rescuebox/internal/schema"
)

// ManagePlugin is the reserved name of the host's own command group.
const ManagePlugin = "manage"

var pluginNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Host is the ordered set of plugin registries a process serves, plus the
// host-level manage commands.
type Host struct {
	version string

	mu      sync.RWMutex
	order   []string
	plugins map[string]*Registry
	manage  *Registry
}

func NewHost(version string) *Host {
	h := &Host{
		version: version,
		plugins: make(map[string]*Registry),
	}
	h.manage = h.manageRegistry()
	return h
}

// Add registers a plugin. Plugin names are unique and "manage" is reserved.
func (h *Host) Add(r *Registry) error {
	if r == nil {
		return fmt.Errorf("add plugin: nil registry")
	}
	name := r.Name()
	if !pluginNamePattern.MatchString(name) {
		return fmt.Errorf("add plugin: invalid name %q", name)
	}
	if name == ManagePlugin || name == "api" {
		return fmt.Errorf("add plugin: name %q is reserved", name)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, dup := h.plugins[name]; dup {
		return fmt.Errorf("add plugin: %q already registered", name)
	}
	h.plugins[name] = r
	h.order = append(h.order, name)
	return nil
}

// Get returns the registry of a plugin, including the manage group.
func (h *Host) Get(name string) (*Registry, error) {
	if name == ManagePlugin {
		return h.manage, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.plugins[name]
	if !ok {
		return nil, &NotFoundError{Name: name, Err: ErrPluginNotFound}
	}
	return r, nil
}

// List returns the plugin registries in the order they were added.
func (h *Host) List() []*Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Registry, 0, len(h.order))
	for _, name := range h.order {
		out = append(out, h.plugins[name])
	}
	return out
}

// Commands returns the commands of every plugin followed by the manage
// commands.
func (h *Host) Commands() []Command {
	var cmds []Command
	for _, r := range h.List() {
		cmds = append(cmds, r.Commands()...)
	}
	return append(cmds, h.manage.Commands()...)
}

// Lookup finds a command by its full path.
func (h *Host) Lookup(path string) (Command, error) {
	for _, cmd := range h.Commands() {
		if cmd.Path == path {
			return cmd, nil
		}
	}
	return Command{}, &NotFoundError{Name: path, Err: ErrCommandNotFound}
}

// PluginInfo summarizes a plugin for listings.
type PluginInfo struct {
	Name       string              `json:"name"`
	Prefix     string              `json:"prefix"`
	Metadata   *schema.AppMetadata `json:"metadata,omitempty"`
	Operations int                 `json:"operations"`
}

func (h *Host) Plugins() []PluginInfo {
	registries := h.List()
	out := make([]PluginInfo, 0, len(registries))
	for _, r := range registries {
		info := PluginInfo{Name: r.Name(), Prefix: r.Prefix(), Operations: len(r.Operations())}
		if md, ok := r.AppMetadata(); ok {
			info.Metadata = &md
		}
		out = append(out, info)
	}
	return out
}

type noInputs struct{}

func emptyTaskSchema() schema.TaskSchema { return schema.TaskSchema{} }

func (h *Host) manageRegistry() *Registry {
	m := New(ManagePlugin)
	m.SetAppMetadata(schema.AppMetadata{
		Name:    "RescueBox host",
		Author:  "RescueBox",
		Version: h.version,
		Info:    "Host management commands",
	})
	MustRegister(m, Operation[noInputs, schema.NoParameters]{
		Rule:       "/info",
		ShortTitle: "Host info",
		Help:       "Print the host version.",
		TaskSchema: emptyTaskSchema,
		Handler: func(_ context.Context, w io.Writer, _ noInputs, _ schema.NoParameters) (any, error) {
			msg := "RescueBox plugin host " + h.version
			fmt.Fprintln(w, msg)
			return msg, nil
		},
		ParseInputs: func([]string) (noInputs, error) { return noInputs{}, nil },
	})
	MustRegister(m, Operation[noInputs, schema.NoParameters]{
		Rule:       "/list_plugins",
		ShortTitle: "List plugins",
		Order:      1,
		Help:       "List the loaded plugins.",
		TaskSchema: emptyTaskSchema,
		Handler: func(_ context.Context, w io.Writer, _ noInputs, _ schema.NoParameters) (any, error) {
			fmt.Fprintln(w, "Plugins:")
			names := make([]string, 0)
			for _, p := range h.Plugins() {
				title := p.Name
				if p.Metadata != nil {
					title = p.Metadata.Name
				}
				fmt.Fprintf(w, "- %s, %s\n", title, p.Name)
				names = append(names, p.Name)
			}
			return names, nil
		},
		ParseInputs: func([]string) (noInputs, error) { return noInputs{}, nil },
	})
	return m
}
