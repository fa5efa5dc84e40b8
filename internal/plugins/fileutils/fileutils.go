// Package fileutils is the built-in fs plugin: directory listings and file
// heads, subject to the host's path policy.
package fileutils

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/response"
	"github.com/rescuebox/rescuebox/internal/schema"
)

const Name = "fs"

// PathChecker rejects paths the host must not touch.
type PathChecker interface {
	CheckPath(path string) error
}

type ListInputs struct {
	Dir schema.DirectoryInput `json:"dir"`
}

type HeadInputs struct {
	File schema.FileInput `json:"file"`
}

type HeadParams struct {
	N int `json:"n"`
}

const (
	defaultHeadLines = 10
	maxHeadLines     = 1000
)

func listSchema() schema.TaskSchema {
	return schema.TaskSchema{
		Inputs: []schema.InputSchema{{Key: "dir", Label: "Directory", Subtitle: "Directory to list", InputType: schema.InputTypeDirectory}},
	}
}

func headSchema() schema.TaskSchema {
	return schema.TaskSchema{
		Inputs: []schema.InputSchema{{Key: "file", Label: "File", Subtitle: "Text file to read", InputType: schema.InputTypeFile}},
		Parameters: []schema.ParameterSchema{{
			Key:   "n",
			Label: "Lines",
			Value: schema.RangedIntParameter{Range: schema.IntRange{Min: 1, Max: maxHeadLines}, Default: defaultHeadLines},
		}},
	}
}

// New builds the fs plugin registry. policy may be nil.
func New(policy PathChecker) *registry.Registry {
	p := &plugin{policy: policy}
	r := registry.New(Name)
	r.SetAppMetadata(schema.AppMetadata{
		Name:    "File Utilities",
		Author:  "RescueBox",
		Version: "1.0.0",
		Info:    "List directories and print the first lines of text files.",
	})
	registry.MustRegister(r, registry.Operation[ListInputs, schema.NoParameters]{
		Rule:       "/list",
		ShortTitle: "List files",
		Order:      0,
		Help:       "List the entries of a directory.",
		TaskSchema: listSchema,
		Handler:    p.list,
		ParseInputs: func(args []string) (ListInputs, error) {
			if len(args) != 1 {
				return ListInputs{}, fmt.Errorf("expected a directory path, got %d arguments", len(args))
			}
			return ListInputs{Dir: schema.DirectoryInput{Path: args[0]}}, nil
		},
		ParseParameters: func(args []string) (schema.NoParameters, error) {
			if len(args) != 0 {
				return schema.NoParameters{}, errors.New("list takes no parameters")
			}
			return schema.NoParameters{}, nil
		},
	})
	registry.MustRegister(r, registry.Operation[HeadInputs, HeadParams]{
		Rule:       "/head",
		ShortTitle: "Head",
		Order:      1,
		Help:       "Print the first n lines of a file.",
		TaskSchema: headSchema,
		Handler:    p.head,
		ParseInputs: func(args []string) (HeadInputs, error) {
			if len(args) != 1 {
				return HeadInputs{}, fmt.Errorf("expected a file path, got %d arguments", len(args))
			}
			return HeadInputs{File: schema.FileInput{Path: args[0]}}, nil
		},
		ParseParameters: func(args []string) (HeadParams, error) {
			switch len(args) {
			case 0:
				return HeadParams{N: defaultHeadLines}, nil
			case 1:
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return HeadParams{}, fmt.Errorf("n: %w", err)
				}
				return HeadParams{N: n}, nil
			default:
				return HeadParams{}, fmt.Errorf("expected at most 1 parameter, got %d", len(args))
			}
		},
	})
	return r
}

type plugin struct {
	policy PathChecker
}

func (p *plugin) checkPath(path string) error {
	if p.policy == nil {
		return nil
	}
	return p.policy.CheckPath(path)
}

func (p *plugin) list(ctx context.Context, w io.Writer, in ListInputs, _ schema.NoParameters) (any, error) {
	path := in.Dir.Path
	if err := p.checkPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(w, "Path %s does not exist\n", path)
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	if !info.IsDir() {
		fmt.Fprintf(w, "Path %s is not a directory\n", path)
		return nil, fmt.Errorf("list %s: not a directory", path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	texts := make([]response.TextResponse, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintln(w, name)
		texts = append(texts, response.TextResponse{Value: name})
	}
	return response.BatchTextResponse{Texts: texts}, nil
}

func (p *plugin) head(ctx context.Context, w io.Writer, in HeadInputs, params HeadParams) (any, error) {
	path := in.File.Path
	if err := p.checkPath(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(w, "Path %s does not exist\n", path)
		return nil, fmt.Errorf("head %s: %w", path, err)
	}
	defer f.Close()

	n := params.N
	if n <= 0 {
		n = defaultHeadLines
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []byte
	for i := 0; i < n && sc.Scan(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, sc.Bytes()...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("head %s: %w", path, err)
	}
	return response.TextResponse{Value: string(out), Title: path}, nil
}
