// Package registry holds the operations each plugin exposes and derives the
// full command set the bindings serve: every operation plus its auxiliary
// read commands and the plugin-level route and metadata listings.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/rescuebox/rescuebox/internal/schema"
)

// Registry is one plugin's set of operations, served under /{name}.
type Registry struct {
	name string

	mu       sync.RWMutex
	metadata *schema.AppMetadata
	entries  []*entry
	byRule   map[string]*entry
}

type entry struct {
	rule       string
	shortTitle string
	order      int
	help       string
	taskSchema func() schema.TaskSchema
	invoke     func(ctx context.Context, w io.Writer, req Request) (any, error)
	parseArgs  func(inputArgs, paramArgs []string) (Request, error)
}

func New(name string) *Registry {
	return &Registry{name: name, byRule: make(map[string]*entry)}
}

func (r *Registry) Name() string { return r.name }

// Prefix is the path prefix of every command of the plugin.
func (r *Registry) Prefix() string { return "/" + r.name }

func (r *Registry) SetAppMetadata(md schema.AppMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = &md
}

// AppMetadata returns the plugin metadata, or false when none was set.
func (r *Registry) AppMetadata() (schema.AppMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.metadata == nil {
		return schema.AppMetadata{}, false
	}
	return *r.metadata, true
}

func (r *Registry) add(e *entry) error {
	if err := validRule(e.rule); err != nil {
		return &RegistrationError{Plugin: r.Prefix(), Rule: e.rule, Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byRule[e.rule]; dup {
		return &RegistrationError{Plugin: r.Prefix(), Rule: e.rule, Err: errors.New("rule already registered")}
	}
	r.entries = append(r.entries, e)
	r.byRule[e.rule] = e
	return nil
}

func validRule(rule string) error {
	if !strings.HasPrefix(rule, "/") || len(rule) < 2 {
		return fmt.Errorf("rule %q must start with / and name the operation", rule)
	}
	if strings.HasSuffix(rule, "/") || strings.Contains(rule, "//") {
		return fmt.Errorf("rule %q has an empty path segment", rule)
	}
	if strings.ContainsAny(rule, " {}?#") {
		return fmt.Errorf("rule %q contains characters not allowed in a path", rule)
	}
	if KindForPath(rule) == KindRead || rule == "/api" || strings.HasPrefix(rule, "/api/") {
		return fmt.Errorf("rule %q collides with an auxiliary command", rule)
	}
	return nil
}

// OperationInfo describes a registered operation.
type OperationInfo struct {
	Rule       string
	Path       string
	ShortTitle string
	Order      int
	Help       string
}

// Operations returns the registered operations ordered by Order, keeping
// registration order on ties.
func (r *Registry) Operations() []OperationInfo {
	entries := r.sortedEntries()
	out := make([]OperationInfo, len(entries))
	for i, e := range entries {
		out[i] = OperationInfo{
			Rule:       e.rule,
			Path:       r.Prefix() + e.rule,
			ShortTitle: e.shortTitle,
			Order:      e.order,
			Help:       e.help,
		}
	}
	return out
}

func (r *Registry) sortedEntries() []*entry {
	r.mu.RLock()
	entries := slices.Clone(r.entries)
	r.mu.RUnlock()
	slices.SortStableFunc(entries, func(a, b *entry) int { return cmp.Compare(a.order, b.order) })
	return entries
}

// TaskSchema returns the current task schema of the operation at rule.
func (r *Registry) TaskSchema(rule string) (schema.TaskSchema, error) {
	r.mu.RLock()
	e, ok := r.byRule[rule]
	r.mu.RUnlock()
	if !ok {
		return schema.TaskSchema{}, &NotFoundError{Name: r.Prefix() + rule, Err: ErrCommandNotFound}
	}
	return e.taskSchema(), nil
}

// Route is one entry of a plugin's route listing.
type Route struct {
	TaskSchema    string `json:"task_schema"`
	RunTask       string `json:"run_task"`
	PayloadSchema string `json:"payload_schema"`
	SamplePayload string `json:"sample_payload"`
	ShortTitle    string `json:"short_title"`
	Order         int    `json:"order"`
}

func (r *Registry) Routes() []Route {
	entries := r.sortedEntries()
	routes := make([]Route, len(entries))
	for i, e := range entries {
		path := r.Prefix() + e.rule
		routes[i] = Route{
			TaskSchema:    path + suffixTaskSchema,
			RunTask:       path,
			PayloadSchema: path + suffixPayloadSchema,
			SamplePayload: path + suffixSamplePayload,
			ShortTitle:    e.shortTitle,
			Order:         e.order,
		}
	}
	return routes
}

// Command is one callable unit derived from a registry. Submit commands take
// a Request; read commands ignore it.
type Command struct {
	Plugin string
	Name   string
	Path   string
	Kind   Kind
	Help   string

	// TaskSchema is set on submit commands of operations.
	TaskSchema func() schema.TaskSchema

	invoke    func(ctx context.Context, w io.Writer, req Request) (any, error)
	parseArgs func(inputArgs, paramArgs []string) (Request, error)
}

// Invoke runs the command, writing any progress output to w.
func (c Command) Invoke(ctx context.Context, w io.Writer, req Request) (any, error) {
	return c.invoke(ctx, w, req)
}

// HasArgParsers reports whether the command accepts positional arguments.
func (c Command) HasArgParsers() bool { return c.parseArgs != nil }

// ParseArgs converts positional command line arguments into a request.
func (c Command) ParseArgs(inputArgs, paramArgs []string) (Request, error) {
	if c.parseArgs == nil {
		return Request{}, fmt.Errorf("%s does not accept positional arguments", c.Path)
	}
	return c.parseArgs(inputArgs, paramArgs)
}

var metadataNotSet = map[string]string{"error": "App metadata not set"}

// Commands returns every command of the plugin: per operation the run
// command and its task_schema, sample_payload and payload_schema reads, then
// the plugin's api/routes and api/app_metadata reads. Task schemas are read
// from the operation on every call.
func (r *Registry) Commands() []Command {
	var cmds []Command
	for _, e := range r.sortedEntries() {
		path := r.Prefix() + e.rule
		name := strings.TrimPrefix(e.rule, "/")
		cmds = append(cmds,
			r.command(name, path, e.help, e.invoke).withSchema(e.taskSchema, e.parseArgs),
			r.readCommand(name+suffixTaskSchema, path+suffixTaskSchema, "Task schema of "+path, func() (any, error) {
				return e.taskSchema(), nil
			}),
			r.readCommand(name+suffixSamplePayload, path+suffixSamplePayload, "Sample request body for "+path, func() (any, error) {
				return schema.SamplePayload(e.taskSchema()), nil
			}),
			r.readCommand(name+suffixPayloadSchema, path+suffixPayloadSchema, "JSON Schema of the request body for "+path, func() (any, error) {
				return schema.PayloadSchema(e.taskSchema()), nil
			}),
		)
	}
	cmds = append(cmds,
		r.readCommand(strings.TrimPrefix(suffixRoutes, "/"), r.Prefix()+suffixRoutes, "Routes of the "+r.name+" plugin", func() (any, error) {
			return r.Routes(), nil
		}),
		r.readCommand(strings.TrimPrefix(suffixAppMetadata, "/"), r.Prefix()+suffixAppMetadata, "Metadata of the "+r.name+" plugin", func() (any, error) {
			if md, ok := r.AppMetadata(); ok {
				return md, nil
			}
			return metadataNotSet, nil
		}),
	)
	return cmds
}

func (r *Registry) command(name, path, help string, invoke func(context.Context, io.Writer, Request) (any, error)) Command {
	return Command{
		Plugin: r.name,
		Name:   name,
		Path:   path,
		Kind:   KindForPath(path),
		Help:   help,
		invoke: invoke,
	}
}

func (r *Registry) readCommand(name, path, help string, read func() (any, error)) Command {
	return r.command(name, path, help, func(context.Context, io.Writer, Request) (any, error) {
		return read()
	})
}

func (c Command) withSchema(ts func() schema.TaskSchema, parseArgs func([]string, []string) (Request, error)) Command {
	c.TaskSchema = ts
	c.parseArgs = parseArgs
	return c
}

// Lookup finds a command by name ("list", "list/task_schema",
// "api/routes") or by full path.
func (r *Registry) Lookup(name string) (Command, error) {
	name = strings.TrimPrefix(name, r.Prefix()+"/")
	name = strings.TrimPrefix(name, "/")
	for _, cmd := range r.Commands() {
		if cmd.Name == name {
			return cmd, nil
		}
	}
	return Command{}, &NotFoundError{Name: r.Prefix() + "/" + name, Err: ErrCommandNotFound}
}
