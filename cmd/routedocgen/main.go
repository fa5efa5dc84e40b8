// Command routedocgen prints the HTTP routes and MCP tools a host serves as
// Markdown. External plugins are read from -plugin-dir (default PLUGIN_DIR).
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/mcp"
	"github.com/rescuebox/rescuebox/internal/plugins/extcmd"
	"github.com/rescuebox/rescuebox/internal/plugins/fileutils"
	"github.com/rescuebox/rescuebox/internal/registry"
)

func main() {
	pluginDir := flag.String("plugin-dir", os.Getenv("PLUGIN_DIR"), "external plugin directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	host := registry.NewHost("")
	if err := host.Add(fileutils.New(core.NewPolicy(""))); err != nil {
		logger.Error("add fs plugin", "err", err)
		os.Exit(1)
	}
	if _, err := extcmd.Install(host, *pluginDir, extcmd.NewRunner(extcmd.Config{}), logger); err != nil {
		logger.Error("install external plugins", "err", err)
		os.Exit(1)
	}
	writeDocs(os.Stdout, host)
}

func writeDocs(w io.Writer, host *registry.Host) {
	fmt.Fprintln(w, "# RescueBox Routes (Generated)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "This file is generated by `cmd/routedocgen` from the registered plugins.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## HTTP")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Method | Path | Help |")
	fmt.Fprintln(w, "|--------|------|------|")
	for _, cmd := range host.Commands() {
		method := "POST"
		if cmd.Kind == registry.KindRead {
			method = "GET"
		}
		fmt.Fprintf(w, "| %s | `%s` | %s |\n", method, cmd.Path, cmd.Help)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## MCP tools")
	fmt.Fprintln(w)
	for _, d := range mcp.ToolDefinitions(host) {
		name, _ := d["name"].(string)
		desc, _ := d["description"].(string)
		fmt.Fprintf(w, "- `%s`\n", name)
		if desc != "" {
			fmt.Fprintf(w, "  - Description: %s\n", desc)
		}

		fields := schemaFields("", d["inputSchema"])
		if len(fields) > 0 {
			fmt.Fprintln(w, "  - Input:")
			for _, f := range fields {
				fmt.Fprintf(w, "    - `%s` (%s)\n", f.path, f.requirement)
			}
		}
		fmt.Fprintln(w)
	}
}

type field struct {
	path        string
	requirement string
}

// schemaFields flattens the object properties of a JSON Schema into dotted
// paths, sorted by key at every level.
func schemaFields(prefix string, node any) []field {
	obj, _ := node.(map[string]any)
	props, _ := obj["properties"].(map[string]any)
	requiredRaw, _ := obj["required"].([]string)
	requiredSet := make(map[string]bool, len(requiredRaw))
	for _, r := range requiredRaw {
		requiredSet[r] = true
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []field
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		req := "optional"
		if requiredSet[k] {
			req = "required"
		}
		out = append(out, field{path: path, requirement: req})
		out = append(out, schemaFields(path, props[k])...)
	}
	return out
}
