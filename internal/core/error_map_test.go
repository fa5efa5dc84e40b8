package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/response"
	"github.com/rescuebox/rescuebox/internal/schema"
)

type testCodedError struct{ code, msg string }

func (e *testCodedError) Error() string     { return e.msg }
func (e *testCodedError) ErrorCode() string { return e.code }

func TestMapErrorCommonCases(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		fallback int
		wantCode string
		wantHTTP int
	}{
		{name: "invalid json", err: errors.New("invalid JSON body: unexpected EOF"), fallback: 500, wantCode: "invalid_request_schema", wantHTTP: 400},
		{name: "trailing object", err: errors.New("request body must contain a single JSON object"), fallback: 500, wantCode: "invalid_request_schema", wantHTTP: 400},
		{name: "deadline", err: fmt.Errorf("run: %w", errors.New("context deadline exceeded")), fallback: 500, wantCode: "timeout", wantHTTP: 500},
		{name: "invocation missing", err: errors.New("invocation not found"), fallback: 500, wantCode: "invocation_not_found", wantHTTP: 404},
		{name: "handler 4xx fallback", err: errors.New("boom"), fallback: 400, wantCode: "handler_failed", wantHTTP: 400},
		{name: "5xx fallback", err: errors.New("boom"), fallback: 502, wantCode: "internal_error", wantHTTP: 502},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err, tt.fallback)
			if got.Code != tt.wantCode {
				t.Fatalf("want code %q, got %q", tt.wantCode, got.Code)
			}
			if got.HTTPStatus != tt.wantHTTP {
				t.Fatalf("want status %d, got %d", tt.wantHTTP, got.HTTPStatus)
			}
		})
	}
}

func TestMapErrorCodedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantHTTP int
	}{
		{name: "schema mismatch", err: &schema.SchemaMismatchError{Section: schema.SectionInputs, Key: "dir", Expected: "schema.DirectoryInput", Actual: "schema.FileInput"}, wantCode: "schema_mismatch", wantHTTP: 500},
		{name: "invalid return", err: &response.InvalidReturnTypeError{Type: "int"}, wantCode: "invalid_return_type", wantHTTP: 500},
		{name: "bad parameter", err: &schema.PayloadError{Section: schema.SectionParameters, Key: "n", Detail: "expected integer"}, wantCode: "invalid_parameter", wantHTTP: 400},
		{name: "bad inputs", err: &schema.PayloadError{Section: schema.SectionInputs, Detail: "missing key"}, wantCode: "invalid_request_schema", wantHTTP: 400},
		{name: "not found wrapped", err: fmt.Errorf("lookup: %w", &registry.NotFoundError{Name: "/x/y", Err: registry.ErrCommandNotFound}), wantCode: "command_not_found", wantHTTP: 404},
		{name: "plugin policy", err: &PolicyViolation{Code: ViolationPluginNotAllowed, Subject: "x"}, wantCode: "plugin_not_allowed", wantHTTP: 403},
		{name: "path policy", err: &PolicyViolation{Code: ViolationPathForbidden, Subject: "/etc"}, wantCode: "path_policy_forbidden", wantHTTP: 403},
		{name: "empty path", err: &PolicyViolation{Code: ViolationPathEmpty}, wantCode: "path_policy_empty", wantHTTP: 400},
		{name: "plugin timeout", err: &testCodedError{code: "plugin_timeout", msg: "timed out"}, wantCode: "plugin_timeout", wantHTTP: 504},
		{name: "plugin exec", err: &testCodedError{code: "plugin_exec_failed", msg: "exit 1"}, wantCode: "plugin_exec_failed", wantHTTP: 400},
		{name: "receipt", err: &ReceiptError{Reason: "bad signature"}, wantCode: "receipt_invalid", wantHTTP: 400},
		{name: "unknown code uses fallback", err: &testCodedError{code: "other", msg: "other"}, wantCode: "internal_error", wantHTTP: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err, 500)
			if got.Code != tt.wantCode {
				t.Fatalf("want code %q, got %q", tt.wantCode, got.Code)
			}
			if got.HTTPStatus != tt.wantHTTP {
				t.Fatalf("want status %d, got %d", tt.wantHTTP, got.HTTPStatus)
			}
		})
	}
}

func TestMapErrorNil(t *testing.T) {
	got := MapError(nil, 500)
	if got.Code != "internal_error" || got.HTTPStatus != 500 {
		t.Fatalf("unexpected mapping for nil error: %+v", got)
	}
}
