package core

import (
	"github.com/rescuebox/rescuebox/internal/registry"
	"github.com/rescuebox/rescuebox/internal/response"
)

// ToolEnvelope is the response wrapper for commands invoked over MCP and
// the CLI's JSON output.
type ToolEnvelope struct {
	OK     bool           `json:"ok"`
	Meta   ToolMeta       `json:"meta"`
	Result *response.Body `json:"result"`
	Stdout []string       `json:"stdout"`
	Error  *ToolError     `json:"error,omitempty"`
}

// ToolMeta contains audit metadata for a command invocation.
type ToolMeta struct {
	InvocationID string `json:"invocation_id"`
	Command      string `json:"command"`
	EvidenceHash string `json:"evidence_hash,omitempty"`
	Receipt      string `json:"receipt,omitempty"`
}

// ToolError represents a command-level error (distinct from transport errors).
type ToolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewToolEnvelope(cmd registry.Command, out Outcome) ToolEnvelope {
	env := ToolEnvelope{
		OK: out.Success,
		Meta: ToolMeta{
			InvocationID: out.InvocationID,
			Command:      cmd.Path,
			EvidenceHash: out.EvidenceHash,
			Receipt:      out.Receipt,
		},
		Result: out.Result,
		Stdout: out.Stdout,
	}
	if !out.Success {
		info := MapError(out.Cause(), 400)
		env.Error = &ToolError{Code: info.Code, Message: out.Error}
	}
	return env
}
