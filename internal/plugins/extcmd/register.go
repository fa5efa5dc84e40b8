package extcmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/schema"
)

// NewRegistry builds the command registry of an external plugin. Every
// manifest operation becomes a dynamic operation whose handler runs the
// plugin executable.
func NewRegistry(p *Plugin, runner *Runner) (*registry.Registry, error) {
	r := registry.New(p.Manifest.Name)
	r.SetAppMetadata(p.Metadata())
	for _, op := range p.Manifest.Operations {
		ts := op.TaskSchema
		rule := op.Rule
		err := registry.RegisterDynamic(r, registry.DynamicOperation{
			Rule:       rule,
			ShortTitle: op.ShortTitle,
			Order:      op.Order,
			Help:       op.Help,
			TaskSchema: func() schema.TaskSchema { return ts },
			Handler: func(ctx context.Context, w io.Writer, req registry.Request) (any, error) {
				return runner.Run(ctx, p, rule, req, w)
			},
		})
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Install discovers the plugins under dir and adds them to h. It returns
// the names of the installed plugins. A plugin whose operations cannot be
// registered is logged and left out.
func Install(h *registry.Host, dir string, runner *Runner, logger *slog.Logger) ([]string, error) {
	plugins, err := Discover(dir, logger)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range plugins {
		r, err := NewRegistry(p, runner)
		if err != nil {
			logger.Warn("skip external plugin", "plugin", p.Manifest.Name, "err", err)
			continue
		}
		if err := h.Add(r); err != nil {
			return names, fmt.Errorf("install %s: %w", p.Manifest.Name, err)
		}
		logger.Info("external plugin loaded", "plugin", p.Manifest.Name, "operations", len(p.Manifest.Operations), "dir", p.Dir)
		names = append(names, p.Manifest.Name)
	}
	return names, nil
}
