// Package cli maps command line arguments onto host commands. Every
// operation of every plugin is reachable as "rescuebox <plugin> <command>".
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/schema"
)

type UsageError struct {
	Message string
}

func (e UsageError) Error() string { return e.Message }

func Usage() string {
	return `rescuebox: plugin host for forensic ML tools

Usage:
  rescuebox serve
  rescuebox help
  rescuebox <plugin>
  rescuebox <plugin> <command> [--json | --stream | --watch] [--inputs <json>] [--parameters <json>] [inputs...] [-- parameters...]
  rescuebox <plugin> <command> --help
  rescuebox manage info | list-plugins | verify-receipt <token>

Read commands such as "<command>/task_schema" and "api/routes" print JSON.
`
}

// Env carries what a command line invocation needs. Serve, Signer and
// Stdin may be nil; --watch reads keys from Stdin, or the process stdin.
type Env struct {
	Host   *registry.Host
	Exec   *core.Executor
	Signer *core.ReceiptSigner
	Policy *core.Policy
	Serve  func(ctx context.Context) error
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func Run(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		return UsageError{Message: "missing command"}
	}

	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprintln(env.Stdout, Usage())
		printPlugins(env.Stdout, env.Host)
		return nil
	case "serve":
		if len(args) != 1 {
			return UsageError{Message: "serve takes no arguments"}
		}
		if env.Serve == nil {
			return errors.New("serve is not available")
		}
		return env.Serve(ctx)
	}

	plugin, err := env.Host.Get(args[0])
	if err != nil {
		return UsageError{Message: fmt.Sprintf("unknown plugin or command: %q", args[0])}
	}
	if len(args) == 1 {
		printCommands(env.Stdout, plugin)
		return nil
	}
	if plugin.Name() == registry.ManagePlugin && args[1] == "verify-receipt" {
		return runVerifyReceipt(env, args[2:])
	}

	cmd, err := lookup(plugin, args[1])
	if err != nil {
		return UsageError{Message: fmt.Sprintf("unknown %s command: %q", plugin.Name(), args[1])}
	}
	if env.Policy != nil && cmd.Plugin != registry.ManagePlugin {
		if err := env.Policy.CheckPlugin(cmd.Plugin); err != nil {
			return err
		}
	}
	if cmd.Kind == registry.KindRead {
		if len(args) != 2 {
			return UsageError{Message: fmt.Sprintf("%s takes no arguments", args[1])}
		}
		return runRead(ctx, env, cmd)
	}
	return runSubmit(ctx, env, cmd, args[2:])
}

// lookup accepts the dashed spelling of underscored command names.
func lookup(r *registry.Registry, name string) (registry.Command, error) {
	cmd, err := r.Lookup(name)
	if err == nil {
		return cmd, nil
	}
	if alt := strings.ReplaceAll(name, "-", "_"); alt != name {
		return r.Lookup(alt)
	}
	return registry.Command{}, err
}

func printPlugins(w io.Writer, host *registry.Host) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Plugins:")
	for _, p := range host.Plugins() {
		title := ""
		if p.Metadata != nil {
			title = p.Metadata.Name
		}
		fmt.Fprintf(tw, "  %s\t%s\t%d operations\n", p.Name, title, p.Operations)
	}
	_ = tw.Flush()
}

func printCommands(w io.Writer, r *registry.Registry) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "Commands of %s:\n", r.Name())
	for _, cmd := range r.Commands() {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", cmd.Name, cmd.Kind, cmd.Help)
	}
	_ = tw.Flush()
}

func runRead(ctx context.Context, env Env, cmd registry.Command) error {
	value, err := env.Exec.RunRead(ctx, cmd)
	if err != nil {
		return err
	}
	return writeIndented(env.Stdout, value)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type submitFlags struct {
	inputs     string
	parameters string
	stream     bool
	watch      bool
	json       bool
	help       bool
}

// splitParams separates input arguments from parameter arguments at the
// first "--".
func splitParams(args []string) ([]string, []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func runSubmit(ctx context.Context, env Env, cmd registry.Command, args []string) error {
	head, paramArgs := splitParams(args)

	fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var f submitFlags
	fs.StringVar(&f.inputs, "inputs", "", "inputs object as JSON")
	fs.StringVar(&f.parameters, "parameters", "", "parameters object as JSON")
	fs.BoolVar(&f.stream, "stream", false, "print one envelope per output line")
	fs.BoolVar(&f.watch, "watch", false, "follow the output in a terminal view")
	fs.BoolVar(&f.json, "json", false, "print the result envelope as JSON")
	fs.BoolVar(&f.help, "help", false, "show command help")
	if err := fs.Parse(head); err != nil {
		return UsageError{Message: err.Error()}
	}
	if f.help {
		return printCommandHelp(env.Stdout, cmd)
	}
	if btoi(f.stream)+btoi(f.watch)+btoi(f.json) > 1 {
		return UsageError{Message: "--stream, --watch and --json are mutually exclusive"}
	}

	req, err := buildRequest(cmd, f, fs.Args(), paramArgs)
	if err != nil {
		return err
	}

	if f.stream {
		enc := json.NewEncoder(env.Stdout)
		for body := range env.Exec.RunStreaming(ctx, cmd, req) {
			if err := enc.Encode(body); err != nil {
				return fmt.Errorf("write envelope: %w", err)
			}
		}
		return nil
	}
	if f.watch {
		return runWatch(ctx, env, cmd, req)
	}

	out := env.Exec.RunStatic(ctx, cmd, req)
	if f.json {
		if err := writeIndented(env.Stdout, core.NewToolEnvelope(cmd, out)); err != nil {
			return err
		}
	} else {
		newRenderer(env.Stdout).outcome(cmd, out)
	}
	if !out.Success {
		return fmt.Errorf("command aborted: %s", out.Error)
	}
	return nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func buildRequest(cmd registry.Command, f submitFlags, inputArgs, paramArgs []string) (registry.Request, error) {
	if f.inputs != "" || f.parameters != "" || !cmd.HasArgParsers() {
		if len(inputArgs) > 0 || len(paramArgs) > 0 {
			return registry.Request{}, UsageError{Message: fmt.Sprintf("%s takes --inputs/--parameters JSON, not positional arguments", cmd.Name)}
		}
		req := registry.Request{}
		if f.inputs != "" {
			req.Inputs = json.RawMessage(f.inputs)
		}
		if f.parameters != "" {
			req.Parameters = json.RawMessage(f.parameters)
		}
		for name, raw := range map[string]json.RawMessage{"inputs": req.Inputs, "parameters": req.Parameters} {
			if raw != nil && !json.Valid(raw) {
				return registry.Request{}, UsageError{Message: fmt.Sprintf("--%s is not valid JSON", name)}
			}
		}
		return req, nil
	}
	req, err := cmd.ParseArgs(inputArgs, paramArgs)
	if err != nil {
		return registry.Request{}, UsageError{Message: err.Error()}
	}
	return req, nil
}

func printCommandHelp(w io.Writer, cmd registry.Command) error {
	fmt.Fprintf(w, "%s\n", cmd.Path)
	if cmd.Help != "" {
		fmt.Fprintf(w, "\n%s\n", cmd.Help)
	}
	if cmd.TaskSchema == nil {
		return nil
	}
	fmt.Fprintln(w, "\nSample --inputs/--parameters:")
	return writeIndented(w, schema.SamplePayload(cmd.TaskSchema()))
}

func runVerifyReceipt(env Env, args []string) error {
	if len(args) != 1 {
		return UsageError{Message: "verify-receipt requires exactly 1 argument: <token>"}
	}
	if env.Signer == nil {
		return errors.New("receipt verification requires RECEIPT_SIGNING_KEY")
	}
	claims, err := env.Signer.Verify(args[0])
	if err != nil {
		return err
	}
	r := newRenderer(env.Stdout)
	r.line(r.ok.Render("valid receipt"))
	tw := tabwriter.NewWriter(env.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "invocation_id\t%s\n", claims.InvocationID)
	fmt.Fprintf(tw, "command\t%s\n", claims.Command)
	fmt.Fprintf(tw, "evidence_hash\t%s\n", claims.EvidenceHash)
	if claims.IssuedAt != nil {
		fmt.Fprintf(tw, "issued_at\t%s\n", claims.IssuedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return tw.Flush()
}
