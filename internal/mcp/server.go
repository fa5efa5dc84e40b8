package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/schema"
)

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

// Server exposes the submit commands of a Host as MCP tools over
// line-delimited JSON-RPC on TCP.
type Server struct {
	host    *registry.Host
	exec    *core.Executor
	policy  *core.Policy
	addr    string
	logger  *slog.Logger
	version string

	ln     net.Listener
	mu     sync.Mutex
	closed bool
}

func NewServer(addr string, host *registry.Host, exec *core.Executor, policy *core.Policy, logger *slog.Logger, version string) *Server {
	return &Server{
		host:    host,
		exec:    exec,
		policy:  policy,
		addr:    addr,
		logger:  logger,
		version: version,
	}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("mcp server starting", "addr", ln.Addr().String())
	for _, c := range ToolCollisions(s.host) {
		s.logger.Warn("skip mcp tool", "tool", c.Tool, "command", c.Path, "taken_by", c.Shadows)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error("mcp accept error", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.serveStream(conn, conn)
}

func (s *Server) serveStream(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, jsonRPCResponse{
				JSONRPC: "2.0",
				ID:      nil,
				Error:   &rpcError{Code: -32700, Message: "parse error"},
			})
			continue
		}

		traceID := uuid.New().String()
		ctx := context.WithValue(context.Background(), ctxKeyTraceID, traceID)
		resp := s.dispatch(ctx, req)
		s.writeResponse(w, resp)
	}
}

func (s *Server) writeResponse(w io.Writer, resp jsonRPCResponse) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	w.Write(data)
}

func (s *Server) dispatch(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	base := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		base.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      map[string]any{"name": "rescuebox", "version": s.version},
		}
		return base

	case "ping":
		base.Result = map[string]any{}
		return base

	case "tools/list":
		base.Result = map[string]any{"tools": ToolDefinitions(s.host)}
		return base

	case "tools/call":
		return s.handleToolCall(ctx, req, base)

	default:
		base.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return base
	}
}

// ToolName maps a command path to its tool name: "/fs/list" becomes "fs_list".
func ToolName(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", "_")
}

// ToolCollision is a command left out of the tool list because an earlier
// command already maps to the same tool name.
type ToolCollision struct {
	Tool    string
	Path    string
	Shadows string
}

func tools(host *registry.Host) (map[string]registry.Command, []ToolCollision) {
	out := make(map[string]registry.Command)
	var collisions []ToolCollision
	for _, cmd := range host.Commands() {
		if cmd.Kind != registry.KindSubmit || cmd.TaskSchema == nil {
			continue
		}
		name := ToolName(cmd.Path)
		if prev, dup := out[name]; dup {
			collisions = append(collisions, ToolCollision{Tool: name, Path: cmd.Path, Shadows: prev.Path})
			continue
		}
		out[name] = cmd
	}
	return out, collisions
}

// ToolCollisions reports the commands that get no tool because their name
// is taken by a command registered before them.
func ToolCollisions(host *registry.Host) []ToolCollision {
	_, collisions := tools(host)
	return collisions
}

// ToolDefinitions lists one tool per submit command, sorted by name. The
// input schema is the JSON Schema of the command's request body.
func ToolDefinitions(host *registry.Host) []map[string]any {
	byName, _ := tools(host)
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]map[string]any, 0, len(names))
	for _, name := range names {
		cmd := byName[name]
		desc := cmd.Help
		if desc == "" {
			desc = "Run " + cmd.Path
		}
		defs = append(defs, map[string]any{
			"name":        name,
			"description": desc,
			"inputSchema": schema.PayloadSchema(cmd.TaskSchema()),
		})
	}
	return defs
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, req jsonRPCRequest, base jsonRPCResponse) jsonRPCResponse {
	traceID, _ := ctx.Value(ctxKeyTraceID).(string)

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		base.Error = &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}
		return base
	}

	byName, _ := tools(s.host)
	cmd, ok := byName[params.Name]
	if !ok {
		base.Error = &rpcError{Code: -32602, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
		return base
	}
	if s.policy != nil && cmd.Plugin != registry.ManagePlugin {
		if err := s.policy.CheckPlugin(cmd.Plugin); err != nil {
			base.Error = &rpcError{Code: -32602, Message: err.Error()}
			return base
		}
	}

	var body registry.Request
	if len(bytes.TrimSpace(params.Arguments)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(params.Arguments))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			base.Error = &rpcError{Code: -32602, Message: "invalid arguments: " + err.Error()}
			return base
		}
	}

	out := s.exec.RunStatic(ctx, cmd, body)
	if out.Success {
		s.logger.Info("tool call completed",
			"trace_id", traceID,
			"tool_name", params.Name,
			"invocation_id", out.InvocationID,
		)
	} else {
		s.logger.Error("tool call failed",
			"trace_id", traceID,
			"tool_name", params.Name,
			"invocation_id", out.InvocationID,
			"err", out.Error,
		)
	}
	base.Result = core.NewToolEnvelope(cmd, out)
	return base
}
