package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rescuebox/rescuebox/internal/db"
	"github.com/rescuebox/rescuebox/internal/registry"
)

// Recorder receives one record per finished static or streaming invocation.
type Recorder interface {
	Record(ctx context.Context, rec InvocationRecord) (AuditReceipt, error)
}

// InvocationRecord is what an Executor knows about a finished invocation.
type InvocationRecord struct {
	InvocationID string
	Plugin       string
	Command      string
	Mode         string
	Status       string
	Request      registry.Request
	Result       any
	Stdout       []string
	Error        string
	Duration     time.Duration
}

// AuditReceipt is returned to the caller once an invocation is recorded.
// Token is empty when no ReceiptSigner is configured.
type AuditReceipt struct {
	EvidenceHash string
	Token        string
}

// AuditService records every invocation with request, response and stdout
// artifacts and a SHA-256 evidence hash for tamper detection.
type AuditService struct {
	db     *db.DB
	store  *ArtifactStore
	signer *ReceiptSigner
}

// NewAuditService wires the audit layer to its dependencies. signer may be nil.
func NewAuditService(database *db.DB, store *ArtifactStore, signer *ReceiptSigner) *AuditService {
	return &AuditService{db: database, store: store, signer: signer}
}

type recordedResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
}

// EvidenceHash is the hex SHA-256 of the request JSON followed by the
// response JSON.
func EvidenceHash(reqJSON, respJSON []byte) string {
	sum := sha256.Sum256(append(append([]byte{}, reqJSON...), respJSON...))
	return hex.EncodeToString(sum[:])
}

// Record persists an invocation with its payloads as artifacts.
func (a *AuditService) Record(ctx context.Context, in InvocationRecord) (AuditReceipt, error) {
	reqJSON, err := json.Marshal(in.Request)
	if err != nil {
		return AuditReceipt{}, fmt.Errorf("marshal request: %w", err)
	}
	reqArt, err := a.store.Save(ctx, SaveInput{
		InvocationID: in.InvocationID,
		Name:         "request.json",
		ContentType:  "application/json",
		Body:         bytes.NewReader(reqJSON),
	})
	if err != nil {
		return AuditReceipt{}, fmt.Errorf("save request artifact: %w", err)
	}

	respJSON, err := json.Marshal(recordedResponse{
		Success: in.Status == StatusOK,
		Result:  in.Result,
		Error:   in.Error,
	})
	if err != nil {
		return AuditReceipt{}, fmt.Errorf("marshal response: %w", err)
	}
	respArt, err := a.store.Save(ctx, SaveInput{
		InvocationID: in.InvocationID,
		Name:         "response.json",
		ContentType:  "application/json",
		Body:         bytes.NewReader(respJSON),
	})
	if err != nil {
		return AuditReceipt{}, fmt.Errorf("save response artifact: %w", err)
	}

	var stdoutID *string
	if len(in.Stdout) > 0 {
		art, err := a.store.Save(ctx, SaveInput{
			InvocationID: in.InvocationID,
			Name:         "stdout.txt",
			ContentType:  "text/plain; charset=utf-8",
			Body:         strings.NewReader(strings.Join(in.Stdout, "\n") + "\n"),
		})
		if err != nil {
			return AuditReceipt{}, fmt.Errorf("save stdout artifact: %w", err)
		}
		stdoutID = &art.ArtifactID
	}

	evidence := EvidenceHash(reqJSON, respJSON)
	inv := &db.Invocation{
		InvocationID:       in.InvocationID,
		Plugin:             in.Plugin,
		Command:            in.Command,
		Mode:               in.Mode,
		Status:             in.Status,
		DurationMS:         in.Duration.Milliseconds(),
		Error:              in.Error,
		EvidenceHash:       evidence,
		RequestArtifactID:  &reqArt.ArtifactID,
		ResponseArtifactID: &respArt.ArtifactID,
		StdoutArtifactID:   stdoutID,
		CreatedAt:          time.Now().UTC(),
	}
	if err := a.db.InsertInvocation(ctx, inv); err != nil {
		return AuditReceipt{}, fmt.Errorf("insert invocation: %w", err)
	}

	receipt := AuditReceipt{EvidenceHash: evidence}
	if a.signer != nil {
		token, err := a.signer.Sign(in.InvocationID, in.Command, evidence)
		if err != nil {
			return AuditReceipt{}, fmt.Errorf("sign receipt: %w", err)
		}
		receipt.Token = token
	}
	return receipt, nil
}
