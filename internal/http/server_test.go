package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rescuebox/rescuebox/internal/core"
	"github.com/rescuebox/rescuebox/internal/db"
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/schema"
)

type echoInputs struct {
	Text schema.TextInput `json:"text"`
}

type echoParams struct {
	Mode string `json:"mode"`
}

type noInputs struct{}

func demoRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New("demo")
	r.SetAppMetadata(schema.AppMetadata{Name: "Demo", Author: "tests", Version: "0.1.0", Info: "demo plugin"})

	registry.MustRegister(r, registry.Operation[echoInputs, echoParams]{
		Rule:       "/echo",
		ShortTitle: "Echo",
		TaskSchema: func() schema.TaskSchema {
			return schema.TaskSchema{
				Inputs: []schema.InputSchema{{Key: "text", Label: "Text", InputType: schema.InputTypeText}},
				Parameters: []schema.ParameterSchema{{
					Key: "mode", Label: "Mode",
					Value: schema.EnumParameter{
						EnumVals: []schema.EnumVal{{Key: "plain", Label: "Plain"}, {Key: "shout", Label: "Shout"}},
						Default:  "plain",
					},
				}},
			}
		},
		Handler: func(_ context.Context, w io.Writer, in echoInputs, p echoParams) (any, error) {
			fmt.Fprintln(w, "echoing")
			if p.Mode == "shout" {
				return strings.ToUpper(in.Text.Text), nil
			}
			return in.Text.Text, nil
		},
	})
	return r
}

func boomRegistry() *registry.Registry {
	r := registry.New("demo")
	registry.MustRegister(r, registry.Operation[noInputs, schema.NoParameters]{
		Rule:       "/boom",
		TaskSchema: func() schema.TaskSchema { return schema.TaskSchema{} },
		Handler: func(_ context.Context, w io.Writer, _ noInputs, _ schema.NoParameters) (any, error) {
			for i := 1; i <= 12; i++ {
				fmt.Fprintf(w, "line %d\n", i)
			}
			return nil, errors.New("boom")
		},
	})
	registry.MustRegister(r, registry.Operation[noInputs, schema.NoParameters]{
		Rule:       "/lines",
		Order:      1,
		TaskSchema: func() schema.TaskSchema { return schema.TaskSchema{} },
		Handler: func(_ context.Context, w io.Writer, _ noInputs, _ schema.NoParameters) (any, error) {
			fmt.Fprintln(w, `{"markdown":"# one"}`)
			fmt.Fprintln(w, `{"broken`)
			fmt.Fprintln(w, "three")
			return nil, nil
		},
	})
	return r
}

type serverOpts struct {
	policy  *core.Policy
	history *core.HistoryService
	exec    *core.Executor
}

func newTestServer(t *testing.T, r *registry.Registry, opts serverOpts) *Server {
	t.Helper()
	host := registry.NewHost("test")
	if err := host.Add(r); err != nil {
		t.Fatalf("add plugin: %v", err)
	}
	exec := opts.exec
	if exec == nil {
		exec = core.NewExecutor(core.ExecutorConfig{StreamThrottle: -1})
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", host, exec, opts.policy, opts.history, logger, BuildInfo{})
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func TestSubmitStaticSuccess(t *testing.T) {
	s := newTestServer(t, demoRegistry(t), serverOpts{})

	rr := do(s, http.MethodPost, "/demo/echo", `{"inputs":{"text":{"text":"hi"}},"parameters":{"mode":"shout"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["output_type"] != "text" || got["value"] != "HI" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if rr.Header().Get(InvocationIDHeader) == "" {
		t.Fatal("expected invocation id header")
	}
}

func TestSubmitFailureReturnsStdoutTail(t *testing.T) {
	s := newTestServer(t, boomRegistry(), serverOpts{})

	rr := do(s, http.MethodPost, "/demo/boom", `{"inputs":{}}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var got failureBody
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Error != "boom" {
		t.Fatalf("unexpected error %q", got.Error)
	}
	if len(got.Stdout) != 10 || got.Stdout[0] != "line 3" || got.Stdout[9] != "line 12" {
		t.Fatalf("expected last 10 stdout lines, got %q", got.Stdout)
	}
}

func TestSubmitBadBodies(t *testing.T) {
	s := newTestServer(t, demoRegistry(t), serverOpts{})
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"inputs":`, want: http.StatusBadRequest},
		{name: "unknown top-level field", body: `{"inputs":{"text":{"text":"x"}},"parameters":{"mode":"plain"},"extra":1}`, want: http.StatusBadRequest},
		{name: "two objects", body: `{"inputs":{}}{"inputs":{}}`, want: http.StatusBadRequest},
		{name: "missing input", body: `{"inputs":{},"parameters":{"mode":"plain"}}`, want: http.StatusBadRequest},
		{name: "wrong enum value", body: `{"inputs":{"text":{"text":"x"}},"parameters":{"mode":"loud"}}`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(s, http.MethodPost, "/demo/echo", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			var got map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if _, ok := got["error"]; !ok {
				t.Fatalf("expected error field, got %s", rr.Body.String())
			}
		})
	}
}

func TestReadRoutes(t *testing.T) {
	s := newTestServer(t, demoRegistry(t), serverOpts{})

	rr := do(s, http.MethodGet, "/demo/echo/task_schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("task_schema: expected 200, got %d", rr.Code)
	}
	var ts schema.TaskSchema
	if err := json.Unmarshal(rr.Body.Bytes(), &ts); err != nil {
		t.Fatalf("decode task schema: %v", err)
	}
	if len(ts.Inputs) != 1 || ts.Inputs[0].Key != "text" {
		t.Fatalf("unexpected task schema %s", rr.Body.String())
	}

	rr = do(s, http.MethodGet, "/demo/echo/sample_payload", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("sample_payload: expected 200, got %d", rr.Code)
	}
	sample := rr.Body.String()
	rr = do(s, http.MethodPost, "/demo/echo", sample)
	if rr.Code != http.StatusOK {
		t.Fatalf("sample payload should be accepted, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(s, http.MethodGet, "/demo/api/routes", "")
	var routes []registry.Route
	if err := json.Unmarshal(rr.Body.Bytes(), &routes); err != nil {
		t.Fatalf("decode routes: %v", err)
	}
	if len(routes) != 1 || routes[0].RunTask != "/demo/echo" {
		t.Fatalf("unexpected routes %s", rr.Body.String())
	}

	rr = do(s, http.MethodGet, "/demo/api/app_metadata", "")
	if !strings.Contains(rr.Body.String(), `"Demo"`) {
		t.Fatalf("unexpected app metadata %s", rr.Body.String())
	}
}

func TestMethodsFollowCommandKind(t *testing.T) {
	s := newTestServer(t, demoRegistry(t), serverOpts{})

	if rr := do(s, http.MethodPost, "/demo/echo/task_schema", "{}"); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST on read route: expected 405, got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/demo/echo", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET on submit route: expected 405, got %d", rr.Code)
	}
	if rr := do(s, http.MethodPost, "/demo/missing", "{}"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route: expected 404, got %d", rr.Code)
	}
}

func readNDJSON(t *testing.T, body io.Reader) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestSubmitStreaming(t *testing.T) {
	s := newTestServer(t, boomRegistry(), serverOpts{})

	rr := do(s, http.MethodPost, "/demo/lines?streaming=true", `{"inputs":{}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}
	lines := readNDJSON(t, rr.Body)
	if len(lines) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(lines))
	}
	if lines[0]["output_type"] != "markdown" || lines[1]["value"] != `{"broken` || lines[2]["value"] != "three" {
		t.Fatalf("unexpected envelopes %v", lines)
	}

	rr = do(s, http.MethodPost, "/demo/boom?streaming=1", `{"inputs":{}}`)
	lines = readNDJSON(t, rr.Body)
	if len(lines) != 13 {
		t.Fatalf("expected 12 lines plus an error envelope, got %d", len(lines))
	}
	if lines[12]["value"] != "error: boom" {
		t.Fatalf("unexpected final envelope %v", lines[12])
	}
}

func TestStreamingFlagValidation(t *testing.T) {
	s := newTestServer(t, boomRegistry(), serverOpts{})
	if rr := do(s, http.MethodPost, "/demo/lines?streaming=maybe", `{"inputs":{}}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad streaming flag, got %d", rr.Code)
	}
	rr := do(s, http.MethodPost, "/demo/lines?streaming=false", `{"inputs":{}}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("nil return should fail static execution, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid return type") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestPluginPolicy(t *testing.T) {
	s := newTestServer(t, demoRegistry(t), serverOpts{policy: core.NewPolicy("other")})

	rr := do(s, http.MethodPost, "/demo/echo", `{"inputs":{"text":{"text":"hi"}},"parameters":{"mode":"plain"}}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "plugin_not_allowed") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if rr := do(s, http.MethodPost, "/manage/info", ""); rr.Code != http.StatusOK {
		t.Fatalf("manage commands should bypass the allowlist, got %d", rr.Code)
	}
}

func TestPluginsAndMetrics(t *testing.T) {
	s := newTestServer(t, demoRegistry(t), serverOpts{})
	do(s, http.MethodPost, "/demo/echo", `{"inputs":{"text":{"text":"hi"}},"parameters":{"mode":"plain"}}`)

	rr := do(s, http.MethodGet, "/api/plugins", "")
	var plugins []registry.PluginInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &plugins); err != nil {
		t.Fatalf("decode plugins: %v", err)
	}
	names := make([]string, 0, len(plugins))
	for _, p := range plugins {
		names = append(names, p.Name)
	}
	if strings.Join(names, ",") != "demo" {
		t.Fatalf("unexpected plugins %v", names)
	}

	rr = do(s, http.MethodGet, "/metrics", "")
	if !strings.Contains(rr.Body.String(), `rescuebox_invocations_total{command="/demo/echo",mode="static",status="ok"}`) {
		t.Fatalf("expected invocation counter in metrics, got:\n%s", rr.Body.String())
	}
}

func TestInvocationHistory(t *testing.T) {
	if rr := do(newTestServer(t, demoRegistry(t), serverOpts{}), http.MethodGet, "/api/invocations", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without history, got %d", rr.Code)
	}

	database, err := db.New(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store, err := core.NewArtifactStore(database, t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	signer, err := core.NewReceiptSigner([]byte("http-test-receipt-secret"), 0)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	exec := core.NewExecutor(core.ExecutorConfig{Recorder: core.NewAuditService(database, store, signer)})
	s := newTestServer(t, demoRegistry(t), serverOpts{exec: exec, history: core.NewHistoryService(database, store)})

	rr := do(s, http.MethodPost, "/demo/echo", `{"inputs":{"text":{"text":"hi"}},"parameters":{"mode":"plain"}}`)
	token := rr.Header().Get(ReceiptHeader)
	if token == "" {
		t.Fatal("expected receipt header")
	}
	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify receipt: %v", err)
	}

	rr = do(s, http.MethodGet, "/api/invocations?command=/demo/echo", "")
	var list []db.Invocation
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].InvocationID != claims.InvocationID {
		t.Fatalf("unexpected history %s", rr.Body.String())
	}

	rr = do(s, http.MethodGet, "/api/invocations/"+claims.InvocationID, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"artifacts"`) {
		t.Fatalf("unexpected invocation detail %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(s, http.MethodGet, "/api/invocations/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown invocation, got %d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/api/invocations?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}
