package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rescuebox/rescuebox/internal/capture"
	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/telemetry"
)

const (
	maxRequestBodyBytes = 1 << 20
	failureStdoutLines  = 10

	ReceiptHeader      = "X-Rescuebox-Receipt"
	InvocationIDHeader = "X-Rescuebox-Invocation-Id"
)

// BuildInfo is reported by GET /version.
type BuildInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// Server exposes every command of a Host as an HTTP endpoint. Read commands
// are served with GET, submit commands with POST.
type Server struct {
	host    *registry.Host
	exec    *core.Executor
	policy  *core.Policy
	history *core.HistoryService
	srv     *http.Server
	logger  *slog.Logger
	build   BuildInfo
}

// NewServer synthesizes the routes from host.Commands(). policy and history
// may be nil; without history the /api/invocations routes answer 404.
func NewServer(addr string, host *registry.Host, exec *core.Executor, policy *core.Policy, history *core.HistoryService, logger *slog.Logger, build BuildInfo) *Server {
	s := &Server{
		host:    host,
		exec:    exec,
		policy:  policy,
		history: history,
		logger:  logger,
		build:   build,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/{$}", s.handleLiveness)
	mux.HandleFunc("GET /api/liveness", s.handleLiveness)
	mux.HandleFunc("GET /probes/liveness", s.handleLiveness)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/plugins", s.handlePlugins)
	mux.HandleFunc("GET /api/invocations", s.handleListInvocations)
	mux.HandleFunc("GET /api/invocations/{invocationID}", s.handleGetInvocation)

	for _, cmd := range host.Commands() {
		if cmd.Kind == registry.KindRead {
			mux.HandleFunc("GET "+cmd.Path, s.readHandler(cmd))
			continue
		}
		mux.HandleFunc("POST "+cmd.Path, s.submitHandler(cmd))
	}

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "RescueBox API"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.build)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, telemetry.RenderPrometheus())
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.host.Plugins())
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "invocation history is not enabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.history.List(r.Context(), r.URL.Query().Get("command"), limit)
	if err != nil {
		s.writeMapped(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeErr(w, http.StatusNotFound, "invocation history is not enabled")
		return
	}
	detail, err := s.history.Get(r.Context(), r.PathValue("invocationID"))
	if err != nil {
		s.writeMapped(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) checkPolicy(cmd registry.Command) error {
	if s.policy == nil || cmd.Plugin == registry.ManagePlugin {
		return nil
	}
	return s.policy.CheckPlugin(cmd.Plugin)
}

func (s *Server) readHandler(cmd registry.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkPolicy(cmd); err != nil {
			s.writeMapped(w, err, http.StatusForbidden)
			return
		}
		value, err := s.exec.RunRead(r.Context(), cmd)
		if err != nil {
			s.writeMapped(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, value)
	}
}

// failureBody is returned with status 400 when a command does not succeed.
type failureBody struct {
	Error  string   `json:"error"`
	Stdout []string `json:"stdout"`
}

func (s *Server) submitHandler(cmd registry.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.checkPolicy(cmd); err != nil {
			s.writeMapped(w, err, http.StatusForbidden)
			return
		}
		streaming, err := streamingRequested(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}

		var req registry.Request
		if err := decodeJSONBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeErr(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}

		// Commands may outlive the server's write timeout.
		rc := http.NewResponseController(w)
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Warn("clear write deadline failed", "command", cmd.Path, "err", err)
		}

		if streaming {
			s.stream(w, r, rc, cmd, req)
			return
		}

		out := s.exec.RunStatic(r.Context(), cmd, req)
		w.Header().Set(InvocationIDHeader, out.InvocationID)
		if out.Receipt != "" {
			w.Header().Set(ReceiptHeader, out.Receipt)
		}
		if !out.Success {
			writeJSON(w, http.StatusBadRequest, failureBody{
				Error:  out.Error,
				Stdout: capture.Tail(out.Stdout, failureStdoutLines),
			})
			return
		}
		writeJSON(w, http.StatusOK, out.Result)
	}
}

func streamingRequested(r *http.Request) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("streaming"))
	switch strings.ToLower(raw) {
	case "", "false", "0":
		return false, nil
	case "true", "1":
		return true, nil
	default:
		return false, fmt.Errorf("invalid streaming flag %q, expected true or false", raw)
	}
}

// stream writes one JSON envelope per line and flushes after each one.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, rc *http.ResponseController, cmd registry.Command, req registry.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for body := range s.exec.RunStreaming(r.Context(), cmd, req) {
		if err := enc.Encode(body); err != nil {
			s.logger.Warn("stream write failed", "command", cmd.Path, "err", err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.Warn("stream flush failed", "command", cmd.Path, "err", err)
			return
		}
	}
}

func (s *Server) writeMapped(w http.ResponseWriter, err error, fallback int) {
	info := core.MapError(err, fallback)
	writeJSON(w, info.HTTPStatus, map[string]string{"error": info.Message, "code": info.Code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer's Flush.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
